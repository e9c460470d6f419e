// Package crater holds the error taxonomy shared by every component of the
// orchestration core, so the HTTP surface can map an error to the right
// envelope status without string matching on error messages.
package crater

import (
	"errors"
	"fmt"
)

// Code identifies which bucket of the taxonomy an error belongs to.
type Code string

const (
	CodeConfig        Code = "config"         // invalid or duplicate configuration
	CodeAuth           Code = "auth"           // bad token or missing ACL entry
	CodeStateConflict  Code = "state_conflict" // illegal transition or duplicate job record
	CodeNotFound       Code = "not_found"      // experiment or assignment gone
	CodeSandboxFailure Code = "sandbox"        // timeout, OOM, or execution error inside a job
	CodeTransient      Code = "transient"      // network/IO failure, safe to retry
	CodeFatal          Code = "fatal"          // storage corruption or other unrecoverable failure
)

// Error is the common shape of every typed error raised by the core. It
// wraps an underlying cause so that errors.Is/errors.As keep working against
// whatever the store or network layer actually returned.
type Error struct {
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(code Code, msg string, err error) *Error {
	return &Error{Code: code, Msg: msg, Err: err}
}

func ConfigError(msg string, err error) error        { return newErr(CodeConfig, msg, err) }
func AuthError(msg string, err error) error           { return newErr(CodeAuth, msg, err) }
func StateConflictError(msg string, err error) error  { return newErr(CodeStateConflict, msg, err) }
func NotFoundError(msg string, err error) error       { return newErr(CodeNotFound, msg, err) }
func SandboxFailureError(msg string, err error) error { return newErr(CodeSandboxFailure, msg, err) }
func TransientError(msg string, err error) error      { return newErr(CodeTransient, msg, err) }
func FatalError(msg string, err error) error          { return newErr(CodeFatal, msg, err) }

// CodeOf returns the taxonomy code of err, or "" if err is not one of ours.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
