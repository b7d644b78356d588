// Package cache is the read-through cache and request coalescer that sits
// between overlay items and the telemetry backend.
//
// Resolve answers a (device, scope, key) request through a callback:
//   - from the cache entry, synchronously, when one exists and the call is
//     not forced
//   - by joining the outstanding read for the key, if there is one
//   - by queueing behind the throttle window when the key was read
//     recently (200ms before a first value exists, 1000ms after)
//   - otherwise by starting exactly one backend read
//
// When a read completes its queued callbacks run in FIFO order, then the
// callback of the caller that started it. Every callback runs exactly
// once and never with the coalescer's lock held. Failed reads leave no
// entry, so the next request retries.
//
// Clear evicts every entry and every throttle timestamp at once. Reads in
// flight are not cancelled; their results land in the fresh cache.
//
// # Throttle policy
//
// ThrottleDeferred (the default) schedules one fetch for the end of the
// window so queued callers are always answered. ThrottleQueueOnly leaves
// throttled callers queued until some later request starts a read.
package cache
