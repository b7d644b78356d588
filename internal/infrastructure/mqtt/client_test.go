package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/scada-overlay/internal/infrastructure/config"
)

// testConfig targets a local broker at 127.0.0.1:1883.
func testConfig(clientID string) config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: clientID,
		},
		QoS:         1,
		Reconnect:   config.MQTTReconnectConfig{InitialDelay: 1, MaxDelay: 5},
		TopicPrefix: "scada-test",
	}
}

// connectOrSkip connects to the local broker or skips the test.
func connectOrSkip(t *testing.T, clientID string) *Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping broker test in short mode")
	}
	client, err := Connect(testConfig(clientID))
	if err != nil {
		t.Skipf("MQTT broker not available: %v", err)
	}
	t.Cleanup(func() { client.Close() }) //nolint:errcheck // test cleanup
	return client
}

// disconnected is a client that never dialled a broker.
func disconnected() *Client {
	return &Client{
		cfg:           testConfig("offline"),
		topics:        NewTopics("scada"),
		subscriptions: make(map[string]subscription),
	}
}

func TestTopics(t *testing.T) {
	topics := NewTopics("scada")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"telemetry", topics.Telemetry("DEVICE", "784f394c", "telemetry"), "scada/telemetry/DEVICE/784f394c/telemetry"},
		{"sanitised segment", topics.Telemetry("DEVICE", "a/b+c", "attribute"), "scada/telemetry/DEVICE/a_b_c/attribute"},
		{"derived", topics.Derived("CTW_TAG", "flow_total"), "scada/derived/ctw_tag/flow_total"},
		{"status", topics.Status(), "scada/overlay/status"},
		{"default prefix", NewTopics(" / ").Status(), "scada/overlay/status"},
		{"trimmed prefix", NewTopics("/site1/").Status(), "site1/overlay/status"},
		{"zero value", Topics{}.Status(), "scada/overlay/status"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}

func TestParseTelemetry(t *testing.T) {
	topics := NewTopics("scada")

	typ, id, scope, ok := topics.ParseTelemetry("scada/telemetry/DEVICE/abc/attribute")
	if !ok || typ != "DEVICE" || id != "abc" || scope != "attribute" {
		t.Errorf("ParseTelemetry() = %q %q %q %v", typ, id, scope, ok)
	}

	for _, bad := range []string{
		"scada/telemetry/DEVICE/abc",
		"other/telemetry/DEVICE/abc/telemetry",
		"scada/telemetry/DEVICE//telemetry",
		"scada/telemetry/DEVICE/abc/telemetry/extra",
	} {
		if _, _, _, ok := topics.ParseTelemetry(bad); ok {
			t.Errorf("ParseTelemetry(%q) should fail", bad)
		}
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig("opts")
	cfg.Broker.TLS = true
	cfg.Auth = config.MQTTAuthConfig{Username: "overlay", Password: "secret"}

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://127.0.0.1:1883" {
		t.Errorf("Servers = %v", opts.Servers)
	}
	if opts.ClientID != "opts" || opts.Username != "overlay" || opts.Password != "secret" {
		t.Errorf("identity = %q %q %q", opts.ClientID, opts.Username, opts.Password)
	}
	if opts.TLSConfig == nil {
		t.Error("TLSConfig not set")
	}
	if !opts.WillEnabled || opts.WillTopic != "scada-test/overlay/status" || !opts.WillRetained {
		t.Errorf("will = %v %q %v", opts.WillEnabled, opts.WillTopic, opts.WillRetained)
	}
}

func TestStatusPayload(t *testing.T) {
	var body map[string]string
	if err := json.Unmarshal([]byte(statusPayload("id-1", "offline", "graceful_shutdown")), &body); err != nil {
		t.Fatalf("statusPayload() is not JSON: %v", err)
	}
	if body["status"] != "offline" || body["client_id"] != "id-1" || body["reason"] != "graceful_shutdown" {
		t.Errorf("statusPayload() = %v", body)
	}
	if strings.Contains(statusPayload("id-1", "online", ""), "reason") {
		t.Error("online payload should carry no reason")
	}
}

func TestValidation_NoBroker(t *testing.T) {
	c := disconnected()
	handler := func(string, []byte) error { return nil }

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"publish empty topic", c.Publish("", nil, 1, false), ErrInvalidTopic},
		{"publish bad qos", c.Publish("t", nil, 3, false), ErrInvalidQoS},
		{"publish too large", c.Publish("t", make([]byte, maxPayloadSize+1), 1, false), ErrPublishFailed},
		{"publish disconnected", c.Publish("t", []byte("x"), 1, false), ErrNotConnected},
		{"subscribe empty topic", c.Subscribe("", 1, handler), ErrInvalidTopic},
		{"subscribe bad qos", c.Subscribe("t", 3, handler), ErrInvalidQoS},
		{"subscribe nil handler", c.Subscribe("t", 1, nil), ErrSubscribeFailed},
		{"subscribe disconnected", c.Subscribe("t", 1, handler), ErrNotConnected},
		{"unsubscribe empty topic", c.Unsubscribe(""), ErrInvalidTopic},
		{"unsubscribe disconnected", c.Unsubscribe("t"), ErrNotConnected},
		{"health disconnected", c.HealthCheck(context.Background()), ErrNotConnected},
	}
	for _, tt := range tests {
		if !errors.Is(tt.err, tt.want) {
			t.Errorf("%s: error = %v, want %v", tt.name, tt.err, tt.want)
		}
	}
	if c.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d after failed subscribes", c.SubscriptionCount())
	}
}

func TestCloseNil(t *testing.T) {
	var c *Client
	if err := c.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v", err)
	}
}

type recordingLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func TestDeliver_RecoversAndLogs(t *testing.T) {
	logger := &recordingLogger{}

	deliver(logger, func(string, []byte) error { panic("boom") }, "t", nil)
	deliver(logger, func(string, []byte) error { return errors.New("bad payload") }, "t", nil)
	deliver(nil, func(string, []byte) error { panic("no logger") }, "t", nil)

	if len(logger.errors) != 1 || len(logger.warns) != 1 {
		t.Errorf("logged errors=%v warns=%v", logger.errors, logger.warns)
	}
}

func TestBroker_PublishSubscribeRoundtrip(t *testing.T) {
	client := connectOrSkip(t, fmt.Sprintf("overlay-test-%d", time.Now().UnixNano()))
	topic := client.Topics().Telemetry("DEVICE", "roundtrip", "telemetry")

	received := make(chan string, 1)
	if err := client.Subscribe(topic, 1, func(_ string, payload []byte) error {
		received <- string(payload)
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !client.HasSubscription(topic) {
		t.Error("HasSubscription() = false after Subscribe")
	}

	if err := client.Publish(topic, []byte(`{"flow01":3.5}`), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case got := <-received:
		if got != `{"flow01":3.5}` {
			t.Errorf("received %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("message not received")
	}

	if err := client.Unsubscribe(topic); err != nil {
		t.Errorf("Unsubscribe() error = %v", err)
	}
	if client.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d after Unsubscribe", client.SubscriptionCount())
	}
}

func TestBroker_HealthCheck(t *testing.T) {
	client := connectOrSkip(t, fmt.Sprintf("overlay-health-%d", time.Now().UnixNano()))

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := client.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() with cancelled context should fail")
	}
}
