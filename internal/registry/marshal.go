package registry

import (
	"encoding/json"

	"github.com/rust-lang/crater/internal/api"
	"github.com/rust-lang/crater/internal/crater"
)

func marshalToolchain(tc api.Toolchain) (string, error) {
	encoded, err := json.Marshal(tc)
	if err != nil {
		return "", crater.ConfigError("encoding toolchain", err)
	}
	return string(encoded), nil
}

func marshalCrates(sel api.CrateSelection) (string, error) {
	encoded, err := json.Marshal(sel)
	if err != nil {
		return "", crater.ConfigError("encoding crate selection", err)
	}
	return string(encoded), nil
}
