// Package derived computes values from several live inputs and publishes
// them back to the backend.
//
// Each Spec runs on its own interval. A tick clears the read cache,
// resolves every input through it and waits until all of them have
// answered. Inputs that resolved to nothing are passed to the Computer as
// telemetry.Unknown; whether that is acceptable is the Computer's call.
// The result is written under the spec's name to the spec's device. A
// failed compute or write drops the tick's result and the next tick tries
// again. Failures never reach the cache or other specs.
//
// Computers are injected strategies. Builtin provides the common
// arithmetic ones by name.
package derived
