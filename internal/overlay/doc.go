// Package overlay owns the lifecycle of one bound dashboard overlay.
//
// A Widget is created by New, started by Initialize and stopped by
// Teardown. Initialize loads the vector document, renders every item once
// and starts the invalidation triggers: the fixed-interval poller, push
// subscriptions when a subscriber is available, and the derived value
// pipeline. Every trigger clears the read cache and re-resolves all items.
// Results go to the ViewBinding as Updates keyed by item name.
package overlay
