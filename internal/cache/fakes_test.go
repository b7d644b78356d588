package cache

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/scada-overlay/internal/entity"
	"github.com/nerrad567/scada-overlay/internal/telemetry"
)

// manualClock only moves when Advance is called. Timers due at or before
// the new time fire synchronously inside Advance, in due order.
type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

type manualTimer struct {
	clock   *manualClock
	due     time.Time
	f       func()
	stopped bool
	fired   bool
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clock: c, due: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*manualTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.due.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].due.Before(due[j].due) })
	for _, t := range due {
		t.f()
	}
}

// fakeReader counts reads and optionally blocks them on a gate.
type fakeReader struct {
	mu    sync.Mutex
	calls int
	value telemetry.Value
	err   error
	gate  chan struct{}
}

func (r *fakeReader) Read(_ context.Context, _ entity.Ref, _ telemetry.Scope, _ string) (telemetry.Value, error) {
	r.mu.Lock()
	r.calls++
	gate, v, err := r.gate, r.value, r.err
	r.mu.Unlock()

	if gate != nil {
		<-gate
	}
	return v, err
}

func (r *fakeReader) set(v telemetry.Value, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.value, r.err = v, err
}

func (r *fakeReader) block() chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gate = make(chan struct{})
	return r.gate
}

func (r *fakeReader) unblock() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gate != nil {
		close(r.gate)
		r.gate = nil
	}
}

func (r *fakeReader) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

const (
	testDevice = "CTW_TAG"
	testKey    = "API_BVT01_Cm_34_nc_th_Flow01"
)

var testBindings = entity.StaticSource{
	{Name: testDevice, Ref: entity.Ref{ID: "784f394c-42b6-435a-983c-b7beff2784f9", EntityType: "DEVICE"}},
}

func newTestCoalescer(t *testing.T, policy ThrottlePolicy) (*Coalescer, *fakeReader, *manualClock) {
	t.Helper()
	reader := &fakeReader{value: telemetry.Known(3.5)}
	clock := newManualClock()
	c := New(entity.NewResolver(testBindings), reader, Config{Policy: policy}, WithClock(clock))
	t.Cleanup(c.Close)
	return c, reader, clock
}

// results collects callback values.
type results chan telemetry.Value

func newResults() results { return make(results, 64) }

func (r results) callback() Callback {
	return func(v telemetry.Value) { r <- v }
}

func (r results) wait(t *testing.T) telemetry.Value {
	t.Helper()
	select {
	case v := <-r:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for callback")
		return telemetry.Unknown
	}
}

func (r results) none(t *testing.T) {
	t.Helper()
	select {
	case v := <-r:
		t.Fatalf("unexpected callback with %v", v)
	case <-time.After(50 * time.Millisecond):
	}
}
