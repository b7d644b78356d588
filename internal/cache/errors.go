package cache

import "errors"

// ErrUnknownPolicy is returned by ParseThrottlePolicy for an unrecognised name.
var ErrUnknownPolicy = errors.New("cache: unknown throttle policy")
