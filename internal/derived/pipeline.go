package derived

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/scada-overlay/internal/cache"
	"github.com/nerrad567/scada-overlay/internal/entity"
	"github.com/nerrad567/scada-overlay/internal/telemetry"
)

// InvalidationSource labels cache clears made by a tick.
const InvalidationSource = "derived"

// Cache is the part of the coalescer a tick uses.
type Cache interface {
	Resolve(device string, scope telemetry.Scope, key string, cb cache.Callback, force bool)
	Invalidate(source string)
}

// Writer publishes a result to the backend.
type Writer interface {
	Write(ctx context.Context, ref entity.Ref, key string, value telemetry.Value) error
}

// EntityResolver finds the entity a result is written to.
type EntityResolver interface {
	ResolveEntity(deviceName string) (entity.Ref, bool)
}

// Recorder keeps the history of numeric results.
type Recorder interface {
	WriteDerived(device, name string, value float64, at time.Time)
}

// Publisher mirrors results onto a message bus.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// TopicFunc names the bus topic of a result.
type TopicFunc func(device, name string) string

// Logger defines the logging interface used by the Pipeline.
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

// Result is the outcome of one published tick.
type Result struct {
	Name   string          `json:"name"`
	Device string          `json:"device"`
	Value  telemetry.Value `json:"value"`
	At     time.Time       `json:"at"`
}

// Pipeline runs every spec on its own ticker.
type Pipeline struct {
	specs    []Spec
	cache    Cache
	writer   Writer
	entities EntityResolver

	recorder  Recorder
	publisher Publisher
	topic     TopicFunc
	qos       byte
	logger    Logger
	metrics   *Metrics
	now       func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
	last   map[string]Result
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithRecorder also records every numeric result.
func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

// WithPublisher mirrors every result to topic(device, name) at qos.
func WithPublisher(pub Publisher, topic TopicFunc, qos byte) Option {
	return func(p *Pipeline) {
		p.publisher = pub
		p.topic = topic
		p.qos = qos
	}
}

// WithLogger sets the logger.
func WithLogger(logger Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// WithMetrics records tick results.
func WithMetrics(m *Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// NewPipeline validates specs and returns a stopped pipeline.
func NewPipeline(specs []Spec, c Cache, writer Writer, entities EntityResolver, opts ...Option) (*Pipeline, error) {
	var errs []error
	for _, s := range specs {
		if err := s.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	p := &Pipeline{
		specs:    append([]Spec(nil), specs...),
		cache:    c,
		writer:   writer,
		entities: entities,
		logger:   noopLogger{},
		now:      time.Now,
		last:     make(map[string]Result),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Specs returns the configured specs.
func (p *Pipeline) Specs() []Spec {
	return append([]Spec(nil), p.specs...)
}

// Start begins ticking every spec. A running pipeline is restarted.
func (p *Pipeline) Start(ctx context.Context) {
	p.Stop()

	p.mu.Lock()
	defer p.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	for _, s := range p.specs {
		p.wg.Add(1)
		go p.run(ctx, s)
	}
	p.logger.Info("derived pipeline started", "specs", len(p.specs))
}

// Stop halts every ticker and waits for running ticks to finish.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	p.wg.Wait()
}

func (p *Pipeline) run(ctx context.Context, s Spec) {
	defer p.wg.Done()

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.Tick(ctx, s); err != nil && ctx.Err() == nil {
				p.logger.Warn("derived value dropped", "name", s.Name, "device", s.Device, "error", err)
			}
		}
	}
}

// Tick runs one spec once: clear the cache, collect every input, compute
// and publish. The tick is abandoned after the spec's interval.
func (p *Pipeline) Tick(ctx context.Context, s Spec) (Result, error) {
	start := p.now()
	ctx, cancel := context.WithTimeout(ctx, s.Interval)
	defer cancel()

	p.cache.Invalidate(InvalidationSource)

	inputs, err := p.collect(ctx, s)
	if err != nil {
		p.metrics.tick(s.Name, ResultTimeout, p.now().Sub(start).Seconds())
		return Result{}, err
	}

	value, err := p.compute(s, inputs)
	if err != nil {
		p.metrics.tick(s.Name, ResultComputeFailed, p.now().Sub(start).Seconds())
		return Result{}, err
	}

	res, err := p.publish(ctx, s, value)
	if err != nil {
		p.metrics.tick(s.Name, ResultWriteFailed, p.now().Sub(start).Seconds())
		return Result{}, err
	}
	p.metrics.tick(s.Name, ResultPublished, p.now().Sub(start).Seconds())
	return res, nil
}

// collect resolves every input and waits until all have answered.
func (p *Pipeline) collect(ctx context.Context, s Spec) (map[string]telemetry.Value, error) {
	keys := s.inputKeys()

	var mu sync.Mutex
	collected := make(map[string]telemetry.Value, len(keys))
	pending := len(keys)
	done := make(chan struct{})

	for _, key := range keys {
		key := key
		p.cache.Resolve(s.Device, s.Scope, key, func(v telemetry.Value) {
			mu.Lock()
			defer mu.Unlock()
			if _, seen := collected[key]; seen {
				return
			}
			collected[key] = v
			pending--
			if pending == 0 {
				close(done)
			}
		}, false)
	}

	select {
	case <-done:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s: %w", ErrBarrierTimeout, s.Name, ctx.Err())
	}

	mu.Lock()
	defer mu.Unlock()
	out := make(map[string]telemetry.Value, len(collected))
	for k, v := range collected {
		out[k] = v
	}
	return out, nil
}

func (p *Pipeline) compute(s Spec, inputs map[string]telemetry.Value) (v telemetry.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = telemetry.Unknown, fmt.Errorf("derived %s: compute panicked: %v", s.Name, r)
		}
	}()

	v, err = s.Compute.Compute(inputs)
	if err != nil {
		return telemetry.Unknown, fmt.Errorf("derived %s: %w", s.Name, err)
	}
	if !v.IsKnown() {
		return telemetry.Unknown, fmt.Errorf("derived %s: %w", s.Name, telemetry.ErrNoValue)
	}
	return v, nil
}

func (p *Pipeline) publish(ctx context.Context, s Spec, v telemetry.Value) (Result, error) {
	ref, ok := p.entities.ResolveEntity(s.Device)
	if !ok {
		return Result{}, fmt.Errorf("derived %s: device %q: %w", s.Name, s.Device, telemetry.ErrNoEntity)
	}
	if err := p.writer.Write(ctx, ref, s.Name, v); err != nil {
		return Result{}, fmt.Errorf("derived %s: %w", s.Name, err)
	}

	res := Result{Name: s.Name, Device: s.Device, Value: v, At: p.now()}
	p.mu.Lock()
	p.last[s.Name] = res
	p.mu.Unlock()

	p.logger.Debug("derived value published", "name", s.Name, "device", s.Device, "value", v.String())

	if f, ok := v.Float64(); ok && p.recorder != nil {
		p.recorder.WriteDerived(s.Device, s.Name, f, res.At)
	}
	if p.publisher != nil && p.topic != nil {
		payload, err := json.Marshal(res)
		if err == nil {
			err = p.publisher.Publish(p.topic(s.Device, s.Name), payload, p.qos, true)
		}
		if err != nil {
			p.logger.Warn("mirroring derived value failed", "name", s.Name, "error", err)
		}
	}
	return res, nil
}

// Last returns the most recently published result of every spec.
func (p *Pipeline) Last() []Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Result, 0, len(p.last))
	for _, s := range p.specs {
		if r, ok := p.last[s.Name]; ok {
			out = append(out, r)
		}
	}
	return out
}
