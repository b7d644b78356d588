package overlay

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/scada-overlay/internal/cache"
	"github.com/nerrad567/scada-overlay/internal/entity"
	"github.com/nerrad567/scada-overlay/internal/invalidation"
	"github.com/nerrad567/scada-overlay/internal/telemetry"
)

// Invalidation sources recorded by the widget.
const (
	SourcePoll   = "poll"
	SourcePush   = "push"
	SourceManual = "manual"
)

// DefaultPollInterval is used when Options leaves it unset.
const DefaultPollInterval = 5 * time.Second

// Cache is the part of the coalescer the widget uses.
type Cache interface {
	Resolve(device string, scope telemetry.Scope, key string, cb cache.Callback, force bool)
	Invalidate(source string)
}

// EntityResolver maps device names for push subscriptions.
type EntityResolver interface {
	ResolveEntity(deviceName string) (entity.Ref, bool)
}

// ViewBinding receives rendered items. Apply may be called from any
// goroutine.
type ViewBinding interface {
	Apply(u Update)
}

// Pipeline is the derived value pipeline the widget starts and stops.
type Pipeline interface {
	Start(ctx context.Context)
	Stop()
}

// Logger defines the logging interface used by the Widget.
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

// Options describe what the widget binds.
type Options struct {
	// Device is used by items that do not name one.
	Device       string
	Items        []Item
	PollInterval time.Duration
	// Push opens push subscriptions when Deps.Subscriber is set.
	Push bool
}

// Deps are the collaborators a widget drives. Cache, Entities and View
// are required.
type Deps struct {
	Cache      Cache
	Entities   EntityResolver
	View       ViewBinding
	Loader     Loader
	Subscriber invalidation.Subscriber
	Pipeline   Pipeline
	Logger     Logger
}

// Widget is one overlay instance.
type Widget struct {
	opts  Options
	deps  Deps
	items []Item

	logger Logger
	poller *invalidation.Poller

	mu       sync.Mutex
	ready    bool
	document []byte
	pushes   []*invalidation.PushChannel
}

// New validates the items and returns a widget that has not started.
func New(opts Options, deps Deps) (*Widget, error) {
	if deps.Cache == nil || deps.Entities == nil || deps.View == nil {
		return nil, fmt.Errorf("overlay: cache, entities and view are required")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}

	items := make([]Item, 0, len(opts.Items))
	for i, it := range opts.Items {
		it.Name = strings.TrimSpace(it.Name)
		it.Key = strings.TrimSpace(it.Key)
		if it.Device == "" {
			it.Device = opts.Device
		}
		if it.Name == "" || it.Key == "" || strings.TrimSpace(it.Device) == "" {
			return nil, fmt.Errorf("%w: items[%d] needs a name, key and device", ErrInvalidItem, i)
		}
		items = append(items, it)
	}

	w := &Widget{opts: opts, deps: deps, items: items, logger: deps.Logger}
	if w.logger == nil {
		w.logger = noopLogger{}
	}
	w.poller = invalidation.NewPoller(opts.PollInterval, func() { w.Invalidate(SourcePoll) }, w.logger)
	return w, nil
}

// Initialize loads the document, renders every item and starts the
// poller, push subscriptions and derived pipeline. Calling it again
// restarts everything.
func (w *Widget) Initialize(ctx context.Context) error {
	w.Teardown()

	var doc []byte
	if w.deps.Loader != nil {
		var err error
		doc, err = w.deps.Loader.Load(ctx)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrLoadFailed, err)
		}
	}

	w.mu.Lock()
	w.document = doc
	w.ready = true
	w.mu.Unlock()

	w.Refresh()

	w.poller.Start(ctx)
	if w.opts.Push && w.deps.Subscriber != nil {
		w.openPush()
	}
	if w.deps.Pipeline != nil {
		w.deps.Pipeline.Start(ctx)
	}

	w.logger.Info("overlay initialised",
		"items", len(w.items), "document_bytes", len(doc), "poll_interval", w.opts.PollInterval)
	return nil
}

// openPush subscribes once per bound entity to the keys its items use.
// Several device names may resolve to the same entity; their keys merge.
func (w *Widget) openPush() {
	byRef := make(map[entity.Ref]map[telemetry.Scope][]string)
	var refs []entity.Ref
	skipped := make(map[string]bool)
	for _, it := range w.items {
		ref, ok := w.deps.Entities.ResolveEntity(it.Device)
		if !ok {
			norm := entity.NormalizeName(it.Device)
			if !skipped[norm] {
				skipped[norm] = true
				w.logger.Warn("push skipped, device not bound", "device", it.Device)
			}
			continue
		}
		if byRef[ref] == nil {
			byRef[ref] = make(map[telemetry.Scope][]string)
			refs = append(refs, ref)
		}
		byRef[ref][it.Scope] = append(byRef[ref][it.Scope], it.Key)
	}

	var pushes []*invalidation.PushChannel
	for _, ref := range refs {
		ch := invalidation.NewPushChannel(w.deps.Subscriber, func() { w.Invalidate(SourcePush) }, w.logger)
		if ch.Open(ref, byRef[ref]) > 0 {
			pushes = append(pushes, ch)
		}
	}

	w.mu.Lock()
	w.pushes = pushes
	w.mu.Unlock()
}

// Teardown stops every timer and removes push subscriptions. Safe to call
// on a widget that never started.
func (w *Widget) Teardown() {
	w.mu.Lock()
	wasReady := w.ready
	w.ready = false
	pushes := w.pushes
	w.pushes = nil
	w.mu.Unlock()

	w.poller.Stop()
	for _, ch := range pushes {
		ch.Close()
	}
	if w.deps.Pipeline != nil {
		w.deps.Pipeline.Stop()
	}
	if wasReady {
		w.logger.Info("overlay torn down")
	}
}

// Refresh re-resolves every item and hands the results to the view
// binding. It does nothing before Initialize.
func (w *Widget) Refresh() {
	if !w.Ready() {
		return
	}
	for _, it := range w.items {
		it := it
		w.deps.Cache.Resolve(it.Device, it.Scope, it.Key, func(v telemetry.Value) {
			w.deps.View.Apply(it.render(v, time.Now()))
		}, false)
	}
}

// Invalidate clears the cache and refreshes.
func (w *Widget) Invalidate(source string) {
	if !w.Ready() {
		return
	}
	w.deps.Cache.Invalidate(source)
	w.Refresh()
}

// Ready reports whether the widget is initialised.
func (w *Widget) Ready() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ready
}

// Document returns the loaded overlay document.
func (w *Widget) Document() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.document
}

// Items returns the bound items.
func (w *Widget) Items() []Item {
	return append([]Item(nil), w.items...)
}

// PushActive returns the number of open push subscriptions.
func (w *Widget) PushActive() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, ch := range w.pushes {
		n += ch.Active()
	}
	return n
}
