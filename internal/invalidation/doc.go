// Package invalidation decides when the overlay's cache is stale.
//
// Two independent sources trigger the same action, a wholesale cache
// clear followed by a refresh of every bound item:
//   - Poller fires on a fixed interval and is the consistency floor
//   - PushChannel fires whenever the backend announces a change for one of
//     the watched keys
//
// PushChannel is transport-agnostic; MQTTSubscriber is the MQTT-backed
// Subscriber used in production. A push subscription that fails is logged
// and the poller carries on alone.
package invalidation
