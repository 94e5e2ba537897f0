package config

import "errors"

// ErrConfigInvalid is wrapped by Load when the environment produces a
// configuration that violates a startup invariant (spec.md §7).
var ErrConfigInvalid = errors.New("invalid configuration")
