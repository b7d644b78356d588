// Package mqtt connects the overlay service to the MQTT broker that
// carries telemetry change notifications.
//
// The backend (or a rule chain in front of it) publishes a message on
// {prefix}/telemetry/{entityType}/{entityID}/{scope} whenever values
// change. The invalidation package subscribes to those topics; the derived
// pipeline can mirror its results onto {prefix}/derived/{device}/{name}.
//
// Subscriptions are tracked and restored after a reconnect. Handlers run
// on paho's goroutines with panic recovery.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topics := mqtt.NewTopics(cfg.MQTT.TopicPrefix)
//	err = client.Subscribe(topics.Telemetry("DEVICE", id, "telemetry"), 1,
//	    func(topic string, payload []byte) error { ... })
package mqtt
