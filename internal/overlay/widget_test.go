package overlay

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/scada-overlay/internal/cache"
	"github.com/nerrad567/scada-overlay/internal/entity"
	"github.com/nerrad567/scada-overlay/internal/infrastructure/config"
	"github.com/nerrad567/scada-overlay/internal/infrastructure/mqtt"
	"github.com/nerrad567/scada-overlay/internal/invalidation"
	"github.com/nerrad567/scada-overlay/internal/telemetry"
)

const testDevice = "CTW_TAG"

var testRef = entity.Ref{ID: "784f394c-42b6-435a-983c-b7beff2784f9", EntityType: "DEVICE"}

var testBindings = entity.StaticSource{{Name: testDevice, Ref: testRef}}

var testItems = []Item{
	{Name: "bv_c1_nt_hz_p1", Key: "API_BVT01_Cm_34_nc_th_Flow01", Scope: telemetry.ScopeTelemetry, Kind: KindText, Decimals: 2},
	{Name: "bv_st_c1_nt_hz_p1", Key: "running", Scope: telemetry.ScopeAttribute, Kind: KindIcon},
}

type countingReader struct {
	mu     sync.Mutex
	values map[string]any
	calls  int
}

func (r *countingReader) Read(_ context.Context, _ entity.Ref, _ telemetry.Scope, key string) (telemetry.Value, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	v, ok := r.values[key]
	if !ok {
		return telemetry.Unknown, telemetry.ErrNoValue
	}
	return telemetry.Known(v), nil
}

func (r *countingReader) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type recordingView struct {
	mu      sync.Mutex
	updates []Update
	signal  chan struct{}
}

func newRecordingView() *recordingView {
	return &recordingView{signal: make(chan struct{}, 64)}
}

func (v *recordingView) Apply(u Update) {
	v.mu.Lock()
	v.updates = append(v.updates, u)
	v.mu.Unlock()
	v.signal <- struct{}{}
}

func (v *recordingView) waitFor(t *testing.T, n int) []Update {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		v.mu.Lock()
		if len(v.updates) >= n {
			out := append([]Update(nil), v.updates...)
			v.mu.Unlock()
			return out
		}
		v.mu.Unlock()
		select {
		case <-v.signal:
		case <-deadline:
			t.Fatalf("timed out waiting for %d updates", n)
		}
	}
}

func (v *recordingView) latest() map[string]Update {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make(map[string]Update)
	for _, u := range v.updates {
		out[u.Name] = u
	}
	return out
}

type fakePipeline struct {
	mu      sync.Mutex
	started int
	stopped int
}

func (p *fakePipeline) Start(context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started++
}

func (p *fakePipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped++
}

type fakeSubscriber struct {
	mu       sync.Mutex
	notify   []func()
	open     int
	lastKeys []string
}

type fakeSubscription struct{ s *fakeSubscriber }

func (f fakeSubscription) Unsubscribe() error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	f.s.open--
	return nil
}

func (s *fakeSubscriber) Subscribe(_ entity.Ref, _ telemetry.Scope, keys []string, notify func()) (invalidation.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open++
	s.lastKeys = keys
	s.notify = append(s.notify, notify)
	return fakeSubscription{s}, nil
}

func (s *fakeSubscriber) fire() {
	s.mu.Lock()
	fns := append([]func(){}, s.notify...)
	s.mu.Unlock()
	if len(fns) > 0 {
		fns[0]()
	}
}

type fixture struct {
	widget   *Widget
	reader   *countingReader
	view     *recordingView
	sub      *fakeSubscriber
	pipeline *fakePipeline
}

func newFixture(t *testing.T, loader Loader) *fixture {
	t.Helper()
	reader := &countingReader{values: map[string]any{
		"API_BVT01_Cm_34_nc_th_Flow01": 3.14159,
		"running":                      "on",
	}}
	resolver := entity.NewResolver(testBindings)
	c := cache.New(resolver, reader, cache.Config{})
	t.Cleanup(c.Close)

	f := &fixture{reader: reader, view: newRecordingView(), sub: &fakeSubscriber{}, pipeline: &fakePipeline{}}
	w, err := New(Options{
		Device:       testDevice,
		Items:        testItems,
		PollInterval: time.Hour,
		Push:         true,
	}, Deps{
		Cache:      c,
		Entities:   resolver,
		View:       f.view,
		Loader:     loader,
		Subscriber: f.sub,
		Pipeline:   f.pipeline,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(w.Teardown)
	f.widget = w
	return f
}

func staticLoader(doc string) Loader {
	return LoaderFunc(func(context.Context) ([]byte, error) { return []byte(doc), nil })
}

func TestWidget_InitializeRendersItems(t *testing.T) {
	f := newFixture(t, staticLoader("<svg/>"))

	if err := f.widget.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	f.view.waitFor(t, 2)

	got := f.view.latest()
	if text := got["bv_c1_nt_hz_p1"].Text; text != "3.14" {
		t.Errorf("text item = %q, want 3.14", text)
	}
	icon := got["bv_st_c1_nt_hz_p1"]
	if !icon.Active || icon.Color != ColorActive {
		t.Errorf("icon item = %+v, want active", icon)
	}

	if string(f.widget.Document()) != "<svg/>" {
		t.Errorf("Document() = %q", f.widget.Document())
	}
	if f.widget.PushActive() != 2 {
		t.Errorf("PushActive() = %d, want one per scope", f.widget.PushActive())
	}
	if f.pipeline.started != 1 {
		t.Errorf("pipeline started %d times", f.pipeline.started)
	}
}

func TestWidget_PushClearsAndRefreshes(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.widget.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	f.view.waitFor(t, 2)
	if f.reader.Calls() != 2 {
		t.Fatalf("reads after init = %d, want 2", f.reader.Calls())
	}

	// Served from cache without a clear.
	f.widget.Refresh()
	f.view.waitFor(t, 4)
	if f.reader.Calls() != 2 {
		t.Errorf("reads after cached refresh = %d, want 2", f.reader.Calls())
	}

	f.sub.fire()
	f.view.waitFor(t, 6)
	if f.reader.Calls() != 4 {
		t.Errorf("reads after push = %d, want 4", f.reader.Calls())
	}
}

// topicBroker keeps one handler per topic, as the MQTT client does.
type topicBroker struct {
	mu       sync.Mutex
	handlers map[string]mqtt.MessageHandler
}

func (b *topicBroker) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = handler
	return nil
}

func (b *topicBroker) Unsubscribe(topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, topic)
	return nil
}

func TestWidget_PushAliasedDevices(t *testing.T) {
	reader := &countingReader{values: map[string]any{"flow_a": 1.0, "flow_b": 2.0}}
	resolver := entity.NewResolver(entity.StaticSource{
		{Name: "PUMP_A", Ref: testRef},
		{Name: "PUMP_B", Ref: testRef},
	})
	c := cache.New(resolver, reader, cache.Config{})
	t.Cleanup(c.Close)

	broker := &topicBroker{handlers: make(map[string]mqtt.MessageHandler)}
	topics := mqtt.NewTopics("scada")
	view := newRecordingView()
	w, err := New(Options{
		Device: "PUMP_A",
		Items: []Item{
			{Name: "a", Device: "PUMP_A", Key: "flow_a", Scope: telemetry.ScopeTelemetry, Kind: KindText},
			{Name: "b", Device: "PUMP_B", Key: "flow_b", Scope: telemetry.ScopeTelemetry, Kind: KindText},
		},
		PollInterval: time.Hour,
		Push:         true,
	}, Deps{
		Cache:      c,
		Entities:   resolver,
		View:       view,
		Subscriber: invalidation.NewMQTTSubscriber(broker, topics, 1, nil),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(w.Teardown)

	if err := w.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	view.waitFor(t, 2)
	if w.PushActive() != 1 {
		t.Errorf("PushActive() = %d, want 1 for one entity", w.PushActive())
	}

	topic := topics.Telemetry(testRef.EntityType, testRef.ID, "telemetry")
	broker.mu.Lock()
	h := broker.handlers[topic]
	broker.mu.Unlock()
	if h == nil {
		t.Fatalf("no subscription on %s", topic)
	}
	if err := h(topic, []byte(`{"flow_a":5}`)); err != nil {
		t.Fatalf("handler error = %v", err)
	}
	view.waitFor(t, 4)
	if reader.Calls() != 4 {
		t.Errorf("reads after push = %d, want 4", reader.Calls())
	}
}

func TestWidget_LoadFailure(t *testing.T) {
	f := newFixture(t, LoaderFunc(func(context.Context) ([]byte, error) {
		return nil, errors.New("404")
	}))

	err := f.widget.Initialize(context.Background())
	if !errors.Is(err, ErrLoadFailed) {
		t.Fatalf("Initialize() error = %v, want ErrLoadFailed", err)
	}
	if f.widget.Ready() {
		t.Error("Ready() = true after failed load")
	}

	f.widget.Refresh()
	f.widget.Invalidate(SourceManual)
	if f.reader.Calls() != 0 {
		t.Errorf("reads before a successful init = %d", f.reader.Calls())
	}
	if f.pipeline.started != 0 {
		t.Error("pipeline started after failed load")
	}
}

func TestWidget_Teardown(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.widget.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	f.view.waitFor(t, 2)

	f.widget.Teardown()
	if f.widget.Ready() {
		t.Error("Ready() = true after Teardown")
	}
	if f.sub.open != 0 || f.widget.PushActive() != 0 {
		t.Errorf("subscriptions left open: %d", f.sub.open)
	}
	if f.pipeline.stopped == 0 {
		t.Error("pipeline not stopped")
	}

	// Re-initialising recreates the subscriptions.
	if err := f.widget.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if f.sub.open != 2 {
		t.Errorf("subscriptions after re-init = %d, want 2", f.sub.open)
	}
}

func TestNew_Validation(t *testing.T) {
	c := cache.New(entity.NewResolver(testBindings), &countingReader{}, cache.Config{})
	defer c.Close()
	deps := Deps{Cache: c, Entities: entity.NewResolver(testBindings), View: newRecordingView()}

	if _, err := New(Options{Items: []Item{{Name: "a", Key: "k"}}}, deps); !errors.Is(err, ErrInvalidItem) {
		t.Errorf("New() without device error = %v, want ErrInvalidItem", err)
	}
	if _, err := New(Options{Device: testDevice, Items: []Item{{Name: "a"}}}, deps); !errors.Is(err, ErrInvalidItem) {
		t.Errorf("New() without key error = %v, want ErrInvalidItem", err)
	}
	if _, err := New(Options{}, Deps{}); err == nil {
		t.Error("New() without deps succeeded")
	}

	w, err := New(Options{Device: testDevice, Items: testItems}, deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if got := w.Items(); got[0].Device != testDevice {
		t.Errorf("item device = %q, want default %q", got[0].Device, testDevice)
	}
}

func TestSourceLoader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Main_BV_3001.svg" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("<svg id=\"main\"/>"))
	}))
	defer srv.Close()

	data, err := NewSourceLoader(srv.URL+"/Main_BV_3001.svg", time.Second).Load(context.Background())
	if err != nil || string(data) != `<svg id="main"/>` {
		t.Errorf("Load() = %q, %v", data, err)
	}

	if _, err := NewSourceLoader(srv.URL+"/missing.svg", time.Second).Load(context.Background()); err == nil {
		t.Error("Load() of a 404 succeeded")
	}

	path := filepath.Join(t.TempDir(), "overlay.svg")
	if err := os.WriteFile(path, []byte("<svg/>"), 0o600); err != nil {
		t.Fatal(err)
	}
	data, err = NewSourceLoader(path, time.Second).Load(context.Background())
	if err != nil || string(data) != "<svg/>" {
		t.Errorf("Load(file) = %q, %v", data, err)
	}
}

func TestOptionsFromConfig(t *testing.T) {
	zero := 0
	cfg := &config.Config{}
	cfg.Overlay.Device = testDevice
	cfg.Overlay.PollInterval = 5
	cfg.Overlay.Push = true
	cfg.Overlay.Items = []config.ItemConfig{
		{Name: "bv_c1_nt_hz_p1", Key: "flow", Source: "telemetry", Kind: "text"},
		{Name: "bv_st_c1_nt_hz_p1", Key: "running", Source: "shared", Kind: "icon", Decimals: &zero},
	}

	opts, err := OptionsFromConfig(cfg)
	if err != nil {
		t.Fatalf("OptionsFromConfig() error = %v", err)
	}
	if opts.Push {
		t.Error("Push enabled without MQTT")
	}
	if opts.PollInterval != 5*time.Second || opts.Device != testDevice {
		t.Errorf("opts = %+v", opts)
	}
	if opts.Items[0].Decimals != DefaultDecimals || opts.Items[1].Decimals != 0 {
		t.Errorf("decimals = %d, %d", opts.Items[0].Decimals, opts.Items[1].Decimals)
	}
	if opts.Items[1].Scope != telemetry.ScopeAttribute || opts.Items[1].Kind != KindIcon {
		t.Errorf("items[1] = %+v", opts.Items[1])
	}

	cfg.Overlay.Items[0].Kind = "gauge"
	if _, err := OptionsFromConfig(cfg); !errors.Is(err, ErrInvalidItem) {
		t.Errorf("OptionsFromConfig() error = %v, want ErrInvalidItem", err)
	}
}
