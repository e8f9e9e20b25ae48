package service

import "errors"

// Closed set of outcomes the claim flow can surface. Handlers branch on
// these sentinels and map them to stable symbolic codes; nothing above
// the repository layer ever sees a raw storage status.
var (
	ErrDeviceAlreadyClaimed  = errors.New("device already claimed")
	ErrAccountAlreadyClaimed = errors.New("account already claimed")
	ErrInvalidArgument       = errors.New("invalid argument")
	ErrUnauthenticated       = errors.New("unauthenticated")
	ErrNotFound              = errors.New("not found")
	ErrUnavailable           = errors.New("storage unavailable")
)
