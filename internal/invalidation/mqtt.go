package invalidation

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/nerrad567/scada-overlay/internal/entity"
	"github.com/nerrad567/scada-overlay/internal/infrastructure/mqtt"
	"github.com/nerrad567/scada-overlay/internal/telemetry"
)

// Broker is the part of the MQTT client the subscriber uses.
type Broker interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// MQTTSubscriber is a Subscriber fed by change notifications published on
// the telemetry topics. A message wakes the subscriber when it names one
// of the watched keys, or when it cannot be parsed at all.
//
// The broker keeps one handler per topic, so subscriptions sharing a topic
// are fanned out from a single broker subscription.
type MQTTSubscriber struct {
	broker Broker
	topics mqtt.Topics
	qos    byte
	logger Logger

	// lifecycle serialises broker subscribe and unsubscribe calls. mu only
	// guards routes, so dispatch never waits on the broker.
	lifecycle sync.Mutex
	mu        sync.Mutex
	routes    map[string]map[string]*mqttSubscription // topic -> id -> sub
}

// NewMQTTSubscriber creates a subscriber on broker.
func NewMQTTSubscriber(broker Broker, topics mqtt.Topics, qos byte, logger Logger) *MQTTSubscriber {
	if logger == nil {
		logger = noopLogger{}
	}
	return &MQTTSubscriber{
		broker: broker,
		topics: topics,
		qos:    qos,
		logger: logger,
		routes: make(map[string]map[string]*mqttSubscription),
	}
}

// Subscribe implements Subscriber.
func (s *MQTTSubscriber) Subscribe(ref entity.Ref, scope telemetry.Scope, keys []string, notify func()) (Subscription, error) {
	sub := &mqttSubscription{
		id:     uuid.NewString(),
		owner:  s,
		topic:  s.topics.Telemetry(ref.EntityType, ref.ID, scope.String()),
		keys:   make(map[string]bool, len(keys)),
		notify: notify,
	}
	for _, k := range keys {
		sub.keys[strings.ToLower(strings.TrimSpace(k))] = true
	}

	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	route, ok := s.routes[sub.topic]
	if ok {
		route[sub.id] = sub
	}
	s.mu.Unlock()
	if ok {
		return sub, nil
	}

	if err := s.broker.Subscribe(sub.topic, s.qos, s.dispatch); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.routes[sub.topic] = map[string]*mqttSubscription{sub.id: sub}
	s.mu.Unlock()
	return sub, nil
}

// dispatch is the broker handler shared by every subscription on a topic.
func (s *MQTTSubscriber) dispatch(topic string, payload []byte) error {
	if _, _, _, ok := s.topics.ParseTelemetry(topic); !ok {
		s.logger.Warn("ignoring message on non-telemetry topic", "topic", topic)
		return nil
	}

	s.mu.Lock()
	var wake []*mqttSubscription
	for _, sub := range s.routes[topic] {
		if sub.matches(payload) {
			wake = append(wake, sub)
		}
	}
	s.mu.Unlock()

	for _, sub := range wake {
		s.logger.Debug("push notification", "subscription", sub.id, "topic", topic)
		sub.notify()
	}
	return nil
}

// remove drops sub from its topic and releases the broker subscription
// once nothing else listens there.
func (s *MQTTSubscriber) remove(sub *mqttSubscription) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	route := s.routes[sub.topic]
	_, ok := route[sub.id]
	delete(route, sub.id)
	last := ok && len(route) == 0
	if last {
		delete(s.routes, sub.topic)
	}
	s.mu.Unlock()

	if !last {
		return nil
	}
	return s.broker.Unsubscribe(sub.topic)
}

type mqttSubscription struct {
	id     string
	owner  *MQTTSubscriber
	topic  string
	keys   map[string]bool
	notify func()
}

func (s *mqttSubscription) Unsubscribe() error {
	return s.owner.remove(s)
}

// matches reports whether payload concerns a watched key. Payloads are a
// JSON object keyed by data key or an array of {key, ...} records.
// Anything unparseable matches.
func (s *mqttSubscription) matches(payload []byte) bool {
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return true
	}

	switch d := decoded.(type) {
	case map[string]any:
		for k := range d {
			if s.keys[strings.ToLower(strings.TrimSpace(k))] {
				return true
			}
		}
		return false
	case []any:
		for _, item := range d {
			rec, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if k, ok := rec["key"].(string); ok && s.keys[strings.ToLower(strings.TrimSpace(k))] {
				return true
			}
		}
		return false
	default:
		return true
	}
}
