package mqtt

import (
	"strings"
)

// DefaultTopicPrefix is used when the configured prefix is empty.
const DefaultTopicPrefix = "scada"

// Topics builds the overlay's topic names under a prefix.
type Topics struct {
	prefix string
}

// NewTopics returns topic builders rooted at prefix.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the topic root.
func (t Topics) Prefix() string {
	if t.prefix == "" {
		return DefaultTopicPrefix
	}
	return t.prefix
}

// Telemetry is where change notifications for one entity and scope arrive.
//
// Example: scada/telemetry/DEVICE/784f394c/telemetry
func (t Topics) Telemetry(entityType, entityID, scope string) string {
	return t.join("telemetry", segment(entityType), segment(entityID), segment(scope))
}

// Derived is where a derived value named name for device is mirrored.
//
// Example: scada/derived/ctw_tag/flow_total
func (t Topics) Derived(device, name string) string {
	return t.join("derived", segment(strings.ToLower(device)), segment(name))
}

// Status is the retained online/offline status topic of this service.
func (t Topics) Status() string {
	return t.join("overlay", "status")
}

func (t Topics) join(parts ...string) string {
	return t.Prefix() + "/" + strings.Join(parts, "/")
}

// segment makes s safe as a single topic level.
func segment(s string) string {
	s = strings.TrimSpace(s)
	return strings.NewReplacer("/", "_", "+", "_", "#", "_", " ", "_").Replace(s)
}

// ParseTelemetry splits a Telemetry topic back into its parts.
func (t Topics) ParseTelemetry(topic string) (entityType, entityID, scope string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.Prefix()+"/telemetry/")
	if !found {
		return "", "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}
