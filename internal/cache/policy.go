package cache

import (
	"fmt"
	"strings"
	"time"
)

// ThrottlePolicy decides what happens to callers that arrive inside a
// key's throttle window.
type ThrottlePolicy int

const (
	// ThrottleDeferred queues the caller and schedules a single fetch for
	// the end of the window.
	ThrottleDeferred ThrottlePolicy = iota

	// ThrottleQueueOnly queues the caller; it is answered by whichever
	// read for the key starts next.
	ThrottleQueueOnly
)

// Default throttle windows.
const (
	DefaultFirstReadWindow = 200 * time.Millisecond
	DefaultRefreshWindow   = 1000 * time.Millisecond
)

// ParseThrottlePolicy maps a config name to a policy. The empty name is
// ThrottleDeferred.
func ParseThrottlePolicy(name string) (ThrottlePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "deferred":
		return ThrottleDeferred, nil
	case "queue_only", "queue-only":
		return ThrottleQueueOnly, nil
	default:
		return ThrottleDeferred, fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
	}
}

// String returns the config name of the policy.
func (p ThrottlePolicy) String() string {
	if p == ThrottleQueueOnly {
		return "queue_only"
	}
	return "deferred"
}

// Config tunes a Coalescer. Zero fields take the defaults.
type Config struct {
	// FirstReadWindow spaces reads of a key that has no cached value.
	FirstReadWindow time.Duration

	// RefreshWindow spaces reads of a key that currently has a cached value.
	RefreshWindow time.Duration

	Policy ThrottlePolicy

	// ReadTimeout bounds each backend read. Zero means no bound.
	ReadTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.FirstReadWindow <= 0 {
		c.FirstReadWindow = DefaultFirstReadWindow
	}
	if c.RefreshWindow <= 0 {
		c.RefreshWindow = DefaultRefreshWindow
	}
	return c
}
