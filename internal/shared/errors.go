package shared

import "errors"

// ErrMissingActor indicates a request reached the core without an actor.
var ErrMissingActor = errors.New("actor missing")
