package cache

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/scada-overlay/internal/entity"
	"github.com/nerrad567/scada-overlay/internal/telemetry"
)

// Callback receives the resolved value, or telemetry.Unknown.
type Callback func(telemetry.Value)

// Reader performs one backend read.
type Reader interface {
	Read(ctx context.Context, ref entity.Ref, scope telemetry.Scope, key string) (telemetry.Value, error)
}

// EntityResolver maps a device name to its backend entity.
type EntityResolver interface {
	ResolveEntity(deviceName string) (entity.Ref, bool)
}

// Logger defines the logging interface used by the Coalescer.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// fetchState is the per-key throttle and dedup record.
type fetchState struct {
	inFlight    bool
	lastFetchAt time.Time

	// deferred is the pending end-of-window fetch, with what it reads.
	deferred Timer
	ref      entity.Ref
	scope    telemetry.Scope
	key      string
}

// Stats is a point-in-time view of the coalescer's state.
type Stats struct {
	Entries  int `json:"entries"`
	InFlight int `json:"in_flight"`
	Queued   int `json:"queued"`
	Deferred int `json:"deferred"`
}

// Coalescer is the read-through cache. All methods are safe for
// concurrent use.
type Coalescer struct {
	resolver EntityResolver
	reader   Reader
	cfg      Config
	clock    Clock
	logger   Logger
	metrics  *Metrics

	mu      sync.Mutex
	entries map[Key]telemetry.Value
	fetches map[Key]*fetchState
	queues  map[Key][]Callback
	closed  bool
}

// Option configures a Coalescer.
type Option func(*Coalescer)

// WithClock replaces the wall clock.
func WithClock(clock Clock) Option {
	return func(c *Coalescer) { c.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(logger Logger) Option {
	return func(c *Coalescer) { c.logger = logger }
}

// WithMetrics records request, read and invalidation counts.
func WithMetrics(m *Metrics) Option {
	return func(c *Coalescer) { c.metrics = m }
}

// New creates a coalescer reading through reader for entities found by resolver.
func New(resolver EntityResolver, reader Reader, cfg Config, opts ...Option) *Coalescer {
	c := &Coalescer{
		resolver: resolver,
		reader:   reader,
		cfg:      cfg.withDefaults(),
		clock:    SystemClock,
		logger:   noopLogger{},
		entries:  make(map[Key]telemetry.Value),
		fetches:  make(map[Key]*fetchState),
		queues:   make(map[Key][]Callback),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resolve answers cb with the value of key on device in scope. See the
// package documentation for the decision order. force skips the cache
// entry but still joins an outstanding read and respects the throttle.
func (c *Coalescer) Resolve(device string, scope telemetry.Scope, key string, cb Callback, force bool) {
	ref, ok := c.resolver.ResolveEntity(device)
	if !ok {
		c.metrics.request(OutcomeUnresolved)
		c.logger.Debug("device not bound", "device", device, "key", key)
		c.invoke(cb, telemetry.Unknown)
		return
	}

	k := MakeKey(scope, device, key)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.invoke(cb, telemetry.Unknown)
		return
	}

	entry, cached := c.entries[k]
	if cached && !force {
		c.mu.Unlock()
		c.metrics.request(OutcomeHit)
		c.invoke(cb, entry)
		return
	}

	st := c.fetches[k]
	if st == nil {
		st = &fetchState{}
		c.fetches[k] = st
	}

	if st.inFlight {
		c.enqueue(k, cb)
		c.mu.Unlock()
		c.metrics.request(OutcomeJoined)
		return
	}

	window := c.cfg.FirstReadWindow
	if cached {
		window = c.cfg.RefreshWindow
	}
	now := c.clock.Now()
	if !st.lastFetchAt.IsZero() {
		if elapsed := now.Sub(st.lastFetchAt); elapsed < window {
			c.enqueue(k, cb)
			if c.cfg.Policy == ThrottleDeferred && st.deferred == nil {
				st.ref, st.scope, st.key = ref, scope, key
				st.deferred = c.clock.AfterFunc(window-elapsed, func() { c.fireDeferred(k) })
			}
			c.mu.Unlock()
			c.metrics.request(OutcomeThrottled)
			return
		}
	}

	st.inFlight = true
	st.lastFetchAt = now
	c.mu.Unlock()

	c.metrics.request(OutcomeFetched)
	go c.fetch(k, ref, scope, key, cb)
}

// enqueue appends cb to the key's queue. Caller holds c.mu.
func (c *Coalescer) enqueue(k Key, cb Callback) {
	if cb == nil {
		return
	}
	c.queues[k] = append(c.queues[k], cb)
}

// fireDeferred starts the end-of-window fetch for k unless a read is
// already outstanding or nobody is waiting.
func (c *Coalescer) fireDeferred(k Key) {
	c.mu.Lock()
	st := c.fetches[k]
	if c.closed || st == nil || st.deferred == nil {
		c.mu.Unlock()
		return
	}
	st.deferred = nil
	if st.inFlight || len(c.queues[k]) == 0 {
		c.mu.Unlock()
		return
	}
	st.inFlight = true
	st.lastFetchAt = c.clock.Now()
	ref, scope, key := st.ref, st.scope, st.key
	c.mu.Unlock()

	c.logger.Debug("deferred fetch", "key", string(k))
	go c.fetch(k, ref, scope, key, nil)
}

// fetch performs the read and completes every waiter for k.
func (c *Coalescer) fetch(k Key, ref entity.Ref, scope telemetry.Scope, key string, cb Callback) {
	ctx := context.Background()
	if c.cfg.ReadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.ReadTimeout)
		defer cancel()
	}

	v, err := c.reader.Read(ctx, ref, scope, key)
	if err != nil || !v.IsKnown() {
		c.logger.Debug("read failed", "key", string(k), "entity", ref.String(), "error", err)
		v = telemetry.Unknown
	}
	c.metrics.read(v.IsKnown())

	c.mu.Lock()
	if st := c.fetches[k]; st != nil {
		st.inFlight = false
	}
	if v.IsKnown() {
		c.entries[k] = v
	}
	queued := c.queues[k]
	delete(c.queues, k)
	c.mu.Unlock()

	for _, q := range queued {
		c.invoke(q, v)
	}
	c.invoke(cb, v)
}

// invoke runs cb, recovering a panic so the remaining callbacks still run.
func (c *Coalescer) invoke(cb Callback, v telemetry.Value) {
	if cb == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.metrics.callbackPanic()
			c.logger.Error("cache callback panicked", "panic", r)
		}
	}()
	cb(v)
}

// Clear evicts every entry and throttle timestamp. Outstanding reads keep
// their in-flight mark so later requests still join them, and pending
// deferred fetches stay scheduled for the callers already queued.
func (c *Coalescer) Clear() {
	c.Invalidate("manual")
}

// Invalidate evicts every entry and throttle timestamp, recording source
// in metrics. Reads in flight and pending deferred fetches survive with
// their last-fetch time reset, so joiners keep their callbacks and the next
// request is not throttled.
func (c *Coalescer) Invalidate(source string) {
	c.mu.Lock()
	c.entries = make(map[Key]telemetry.Value)
	kept := make(map[Key]*fetchState)
	for k, st := range c.fetches {
		if st.inFlight || st.deferred != nil {
			st.lastFetchAt = time.Time{}
			kept[k] = st
		}
	}
	c.fetches = kept
	c.mu.Unlock()

	c.metrics.invalidation(source)
	c.logger.Debug("cache cleared", "source", source)
}

// Peek returns the cached value for a request without reading.
func (c *Coalescer) Peek(device string, scope telemetry.Scope, key string) (telemetry.Value, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[MakeKey(scope, device, key)]
	return v, ok
}

// Stats returns a snapshot of the coalescer's state.
func (c *Coalescer) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{Entries: len(c.entries)}
	for _, st := range c.fetches {
		if st.inFlight {
			s.InFlight++
		}
		if st.deferred != nil {
			s.Deferred++
		}
	}
	for _, q := range c.queues {
		s.Queued += len(q)
	}
	return s
}

// Close stops pending deferred fetches and answers callers that were
// waiting on them with Unknown. Reads in flight still complete normally.
// Resolve after Close answers Unknown.
func (c *Coalescer) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true

	var orphaned []Callback
	for k, st := range c.fetches {
		if st.deferred != nil {
			st.deferred.Stop()
			st.deferred = nil
		}
		if !st.inFlight {
			orphaned = append(orphaned, c.queues[k]...)
			delete(c.queues, k)
		}
	}
	for k, q := range c.queues {
		if st := c.fetches[k]; st == nil || !st.inFlight {
			orphaned = append(orphaned, q...)
			delete(c.queues, k)
		}
	}
	c.mu.Unlock()

	for _, cb := range orphaned {
		c.invoke(cb, telemetry.Unknown)
	}
}
