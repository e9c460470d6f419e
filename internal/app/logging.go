package app

import "log"

// TODO: catch these with monitoring.

func Errorf(format string, args ...any) {
	log.Printf(format, args...)
}

func Fatalf(format string, args ...any) {
	log.Fatalf(format, args...)
}
