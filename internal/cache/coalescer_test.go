package cache

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/scada-overlay/internal/entity"
	"github.com/nerrad567/scada-overlay/internal/telemetry"
)

func TestMakeKey(t *testing.T) {
	tests := []struct {
		scope       telemetry.Scope
		device, key string
		want        Key
	}{
		{telemetry.ScopeTelemetry, "CTW_TAG", "Flow01", "tele::ctw_tag::flow01"},
		{telemetry.ScopeAttribute, " ctw_tag ", "running ", "attr::ctw_tag::running"},
	}
	for _, tt := range tests {
		if got := MakeKey(tt.scope, tt.device, tt.key); got != tt.want {
			t.Errorf("MakeKey(%v, %q, %q) = %q, want %q", tt.scope, tt.device, tt.key, got, tt.want)
		}
	}
	if MakeKey(telemetry.ScopeTelemetry, "d", "k") == MakeKey(telemetry.ScopeAttribute, "d", "k") {
		t.Error("scopes must not share cache keys")
	}
}

func TestResolve_CoalescesConcurrentRequests(t *testing.T) {
	c, reader, _ := newTestCoalescer(t, ThrottleDeferred)
	reader.block()

	const n = 10
	var mu sync.Mutex
	var order []int
	done := make(chan telemetry.Value, n)
	for i := 0; i < n; i++ {
		i := i
		c.Resolve(testDevice, telemetry.ScopeTelemetry, testKey, func(v telemetry.Value) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			done <- v
		}, false)
	}

	reader.unblock()
	for i := 0; i < n; i++ {
		select {
		case v := <-done:
			if v.Raw() != 3.5 {
				t.Errorf("callback value = %v, want 3.5", v)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d of %d callbacks ran", i, n)
		}
	}

	if got := reader.Calls(); got != 1 {
		t.Errorf("reader calls = %d, want 1", got)
	}

	// Queued callers drain first in FIFO order, then the caller that started the read.
	want := []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 0}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("callback order = %v, want %v", order, want)
		}
	}
}

func TestResolve_CacheHitIsSynchronous(t *testing.T) {
	c, reader, _ := newTestCoalescer(t, ThrottleDeferred)

	res := newResults()
	c.Resolve(testDevice, telemetry.ScopeTelemetry, testKey, res.callback(), false)
	res.wait(t)

	var got telemetry.Value
	called := false
	c.Resolve(testDevice, telemetry.ScopeTelemetry, testKey, func(v telemetry.Value) {
		called = true
		got = v
	}, false)

	if !called {
		t.Fatal("cache hit callback did not run before Resolve returned")
	}
	if got.Raw() != 3.5 {
		t.Errorf("cache hit value = %v, want 3.5", got)
	}
	if reader.Calls() != 1 {
		t.Errorf("reader calls = %d, want 1", reader.Calls())
	}
}

func TestResolve_KeyNormalisation(t *testing.T) {
	c, reader, _ := newTestCoalescer(t, ThrottleDeferred)

	res := newResults()
	c.Resolve(testDevice, telemetry.ScopeTelemetry, testKey, res.callback(), false)
	res.wait(t)

	called := false
	c.Resolve(" ctw_tag ", telemetry.ScopeTelemetry, " api_bvt01_cm_34_nc_th_flow01", func(telemetry.Value) {
		called = true
	}, false)
	if !called || reader.Calls() != 1 {
		t.Errorf("differently cased request missed the cache (called=%v, reads=%d)", called, reader.Calls())
	}
}

func TestResolve_ForcedJoinsInFlight(t *testing.T) {
	c, reader, _ := newTestCoalescer(t, ThrottleDeferred)
	reader.block()

	res := newResults()
	c.Resolve(testDevice, telemetry.ScopeTelemetry, testKey, res.callback(), false)
	c.Resolve(testDevice, telemetry.ScopeTelemetry, testKey, res.callback(), true)

	if s := c.Stats(); s.InFlight != 1 || s.Queued != 1 {
		t.Errorf("Stats() = %+v, want 1 in flight and 1 queued", s)
	}

	reader.unblock()
	res.wait(t)
	res.wait(t)

	if reader.Calls() != 1 {
		t.Errorf("reader calls = %d, want 1", reader.Calls())
	}
}

func TestResolve_ForcedBypassesEntry(t *testing.T) {
	c, reader, clock := newTestCoalescer(t, ThrottleDeferred)

	res := newResults()
	c.Resolve(testDevice, telemetry.ScopeTelemetry, testKey, res.callback(), false)
	res.wait(t)

	reader.set(telemetry.Known(4.0), nil)
	clock.Advance(DefaultRefreshWindow)
	c.Resolve(testDevice, telemetry.ScopeTelemetry, testKey, res.callback(), true)

	if v := res.wait(t); v.Raw() != 4.0 {
		t.Errorf("forced value = %v, want 4", v)
	}
	if reader.Calls() != 2 {
		t.Errorf("reader calls = %d, want 2", reader.Calls())
	}
}

func TestResolve_FirstReadWindow(t *testing.T) {
	tests := []struct {
		name      string
		after     time.Duration
		wantReads int
	}{
		{name: "just below", after: 199 * time.Millisecond, wantReads: 1},
		{name: "at boundary", after: 200 * time.Millisecond, wantReads: 2},
		{name: "just above", after: 201 * time.Millisecond, wantReads: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, reader, clock := newTestCoalescer(t, ThrottleQueueOnly)
			reader.set(telemetry.Unknown, errors.New("backend down"))

			res := newResults()
			c.Resolve(testDevice, telemetry.ScopeTelemetry, testKey, res.callback(), false)
			if v := res.wait(t); v.IsKnown() {
				t.Fatalf("failed read delivered %v", v)
			}

			reader.set(telemetry.Known(3.5), nil)
			clock.Advance(tt.after)
			c.Resolve(testDevice, telemetry.ScopeTelemetry, testKey, res.callback(), false)

			if tt.wantReads == 1 {
				res.none(t)
			} else {
				res.wait(t)
			}
			if got := reader.Calls(); got != tt.wantReads {
				t.Errorf("reader calls = %d, want %d", got, tt.wantReads)
			}
		})
	}
}

func TestResolve_RefreshWindow(t *testing.T) {
	tests := []struct {
		name      string
		after     time.Duration
		wantReads int
	}{
		{name: "just below", after: 999 * time.Millisecond, wantReads: 1},
		{name: "at boundary", after: 1000 * time.Millisecond, wantReads: 2},
		{name: "just above", after: 1001 * time.Millisecond, wantReads: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, reader, clock := newTestCoalescer(t, ThrottleQueueOnly)

			res := newResults()
			c.Resolve(testDevice, telemetry.ScopeTelemetry, testKey, res.callback(), false)
			res.wait(t)

			clock.Advance(tt.after)
			c.Resolve(testDevice, telemetry.ScopeTelemetry, testKey, res.callback(), true)

			if tt.wantReads == 1 {
				res.none(t)
			} else {
				res.wait(t)
			}
			if got := reader.Calls(); got != tt.wantReads {
				t.Errorf("reader calls = %d, want %d", got, tt.wantReads)
			}
		})
	}
}

func TestResolve_QueueOnlyWaitsForNextRead(t *testing.T) {
	c, reader, clock := newTestCoalescer(t, ThrottleQueueOnly)

	res := newResults()
	c.Resolve(testDevice, telemetry.ScopeTelemetry, testKey, res.callback(), false)
	res.wait(t)

	clock.Advance(500 * time.Millisecond)
	waiting := newResults()
	c.Resolve(testDevice, telemetry.ScopeTelemetry, testKey, waiting.callback(), true)

	clock.Advance(5 * time.Second)
	waiting.none(t)
	if s := c.Stats(); s.Queued != 1 || s.Deferred != 0 {
		t.Errorf("Stats() = %+v, want 1 queued and no deferred fetch", s)
	}

	// A later read for the key answers the queued caller.
	c.Resolve(testDevice, telemetry.ScopeTelemetry, testKey, res.callback(), true)
	waiting.wait(t)
	res.wait(t)
	if reader.Calls() != 2 {
		t.Errorf("reader calls = %d, want 2", reader.Calls())
	}
}

func TestResolve_DeferredDrainsOnce(t *testing.T) {
	c, reader, clock := newTestCoalescer(t, ThrottleDeferred)

	res := newResults()
	c.Resolve(testDevice, telemetry.ScopeTelemetry, testKey, res.callback(), false)
	res.wait(t)

	reader.set(telemetry.Known(9.0), nil)
	clock.Advance(300 * time.Millisecond)
	waiting := newResults()
	c.Resolve(testDevice, telemetry.ScopeTelemetry, testKey, waiting.callback(), true)
	clock.Advance(100 * time.Millisecond)
	c.Resolve(testDevice, telemetry.ScopeTelemetry, testKey, waiting.callback(), true)

	if s := c.Stats(); s.Queued != 2 || s.Deferred != 1 {
		t.Fatalf("Stats() = %+v, want 2 queued behind 1 deferred fetch", s)
	}

	clock.Advance(599 * time.Millisecond)
	waiting.none(t)

	clock.Advance(1 * time.Millisecond)
	for i := 0; i < 2; i++ {
		if v := waiting.wait(t); v.Raw() != 9.0 {
			t.Errorf("deferred value = %v, want 9", v)
		}
	}
	waiting.none(t)

	if reader.Calls() != 2 {
		t.Errorf("reader calls = %d, want 2", reader.Calls())
	}
	if s := c.Stats(); s.Deferred != 0 || s.Queued != 0 {
		t.Errorf("Stats() after drain = %+v", s)
	}
}

func TestResolve_FailureDoesNotPoison(t *testing.T) {
	c, reader, clock := newTestCoalescer(t, ThrottleDeferred)
	reader.set(telemetry.Unknown, errors.New("timeout"))

	res := newResults()
	c.Resolve(testDevice, telemetry.ScopeTelemetry, testKey, res.callback(), false)
	if v := res.wait(t); v.IsKnown() {
		t.Fatalf("failed read delivered %v", v)
	}
	if _, ok := c.Peek(testDevice, telemetry.ScopeTelemetry, testKey); ok {
		t.Fatal("failed read left a cache entry")
	}

	reader.set(telemetry.Known(3.5), nil)
	clock.Advance(DefaultFirstReadWindow)
	c.Resolve(testDevice, telemetry.ScopeTelemetry, testKey, res.callback(), false)
	if v := res.wait(t); v.Raw() != 3.5 {
		t.Errorf("retry value = %v, want 3.5", v)
	}
	if reader.Calls() != 2 {
		t.Errorf("reader calls = %d, want 2", reader.Calls())
	}
}

func TestResolve_UnknownResultIsNotCached(t *testing.T) {
	c, reader, _ := newTestCoalescer(t, ThrottleDeferred)
	reader.set(telemetry.Unknown, nil)

	res := newResults()
	c.Resolve(testDevice, telemetry.ScopeTelemetry, testKey, res.callback(), false)
	res.wait(t)

	if _, ok := c.Peek(testDevice, telemetry.ScopeTelemetry, testKey); ok {
		t.Error("Unknown result was cached")
	}
}

func TestResolve_UnresolvedDevice(t *testing.T) {
	c, reader, _ := newTestCoalescer(t, ThrottleDeferred)

	called := false
	c.Resolve("NO_SUCH_DEVICE", telemetry.ScopeTelemetry, testKey, func(v telemetry.Value) {
		called = true
		if v.IsKnown() {
			t.Errorf("unresolved device delivered %v", v)
		}
	}, false)

	if !called {
		t.Error("callback not invoked for unresolved device")
	}
	if reader.Calls() != 0 {
		t.Errorf("reader calls = %d, want 0", reader.Calls())
	}
}

func TestClear_ForcesFreshReads(t *testing.T) {
	c, reader, _ := newTestCoalescer(t, ThrottleDeferred)

	res := newResults()
	c.Resolve(testDevice, telemetry.ScopeTelemetry, testKey, res.callback(), false)
	c.Resolve(testDevice, telemetry.ScopeAttribute, "running", res.callback(), false)
	res.wait(t)
	res.wait(t)

	c.Clear()
	if s := c.Stats(); s.Entries != 0 {
		t.Fatalf("Stats().Entries = %d after Clear", s.Entries)
	}

	// No time has passed; the throttle timestamps must be gone too.
	c.Resolve(testDevice, telemetry.ScopeTelemetry, testKey, res.callback(), false)
	c.Resolve(testDevice, telemetry.ScopeAttribute, "running", res.callback(), false)
	res.wait(t)
	res.wait(t)

	if reader.Calls() != 4 {
		t.Errorf("reader calls = %d, want 4", reader.Calls())
	}
}

func TestClear_PreservesInFlightDedup(t *testing.T) {
	tests := []struct {
		name  string
		clear func(*Coalescer)
	}{
		{"clear", (*Coalescer).Clear},
		{"invalidate", func(c *Coalescer) { c.Invalidate("push") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, reader, _ := newTestCoalescer(t, ThrottleDeferred)
			reader.block()

			res := newResults()
			c.Resolve(testDevice, telemetry.ScopeTelemetry, testKey, res.callback(), false)
			tt.clear(c)
			c.Resolve(testDevice, telemetry.ScopeTelemetry, testKey, res.callback(), false)

			reader.unblock()
			res.wait(t)
			res.wait(t)

			if reader.Calls() != 1 {
				t.Errorf("reader calls = %d, want 1", reader.Calls())
			}
			// The late result lands in the fresh cache.
			if v, ok := c.Peek(testDevice, telemetry.ScopeTelemetry, testKey); !ok || v.Raw() != 3.5 {
				t.Errorf("Peek() = %v, %v after late result", v, ok)
			}
		})
	}
}

func TestResolve_CallbackPanicIsContained(t *testing.T) {
	c, reader, _ := newTestCoalescer(t, ThrottleDeferred)
	reader.block()

	res := newResults()
	c.Resolve(testDevice, telemetry.ScopeTelemetry, testKey, res.callback(), false)
	c.Resolve(testDevice, telemetry.ScopeTelemetry, testKey, func(telemetry.Value) { panic("boom") }, false)
	c.Resolve(testDevice, telemetry.ScopeTelemetry, testKey, res.callback(), false)

	reader.unblock()
	res.wait(t)
	res.wait(t)
}

func TestClose_AnswersDeferredWaiters(t *testing.T) {
	reader := &fakeReader{value: telemetry.Known(1.0)}
	clock := newManualClock()
	c := New(entity.NewResolver(testBindings), reader, Config{}, WithClock(clock))

	res := newResults()
	c.Resolve(testDevice, telemetry.ScopeTelemetry, testKey, res.callback(), false)
	res.wait(t)

	clock.Advance(10 * time.Millisecond)
	c.Resolve(testDevice, telemetry.ScopeTelemetry, testKey, res.callback(), true)
	c.Close()

	if v := res.wait(t); v.IsKnown() {
		t.Errorf("orphaned waiter got %v, want Unknown", v)
	}

	clock.Advance(time.Second)
	res.none(t)
	if reader.Calls() != 1 {
		t.Errorf("reader calls = %d, want 1", reader.Calls())
	}

	called := false
	c.Resolve(testDevice, telemetry.ScopeTelemetry, testKey, func(v telemetry.Value) { called = !v.IsKnown() }, false)
	if !called {
		t.Error("Resolve after Close should answer Unknown synchronously")
	}
}

func TestParseThrottlePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    ThrottlePolicy
		wantErr bool
	}{
		{"", ThrottleDeferred, false},
		{"deferred", ThrottleDeferred, false},
		{"QUEUE_ONLY", ThrottleQueueOnly, false},
		{"queue-only", ThrottleQueueOnly, false},
		{"skip", ThrottleDeferred, true},
	}
	for _, tt := range tests {
		got, err := ParseThrottlePolicy(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseThrottlePolicy(%q) = %v, %v", tt.in, got, err)
		}
		if tt.wantErr && !errors.Is(err, ErrUnknownPolicy) {
			t.Errorf("ParseThrottlePolicy(%q) error = %v, want ErrUnknownPolicy", tt.in, err)
		}
	}
}
