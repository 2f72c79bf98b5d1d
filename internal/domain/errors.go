package domain

import "errors"

// ErrPrecondition is the root of caller errors rejected before any
// network call or state mutation.
var ErrPrecondition = errors.New("precondition failed")
