package entity

import (
	"context"
	"fmt"
	"sync"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry keeps the persisted binding list in memory and serves it as a
// BindingSource. The list is replaced wholesale by RefreshCache and kept in
// sync by Upsert and Delete.
//
// All public methods are thread-safe.
type Registry struct {
	repo     Repository
	bindings []Binding
	mu       sync.RWMutex
	logger   Logger
}

// NewRegistry creates a registry over repo. The list is empty until
// RefreshCache is called.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all bindings from the repository.
func (r *Registry) RefreshCache(ctx context.Context) error {
	bindings, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading bindings: %w", err)
	}

	r.mu.Lock()
	r.bindings = bindings
	r.mu.Unlock()

	r.logger.Info("binding cache refreshed", "count", len(bindings))
	return nil
}

// Bindings implements BindingSource. The returned slice is a copy.
func (r *Registry) Bindings() []Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.bindings == nil {
		return nil
	}
	out := make([]Binding, len(r.bindings))
	copy(out, r.bindings)
	return out
}

// Count returns the number of cached bindings.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bindings)
}

// Upsert persists a binding and reloads the in-memory list.
func (r *Registry) Upsert(ctx context.Context, b Binding) error {
	if err := r.repo.Upsert(ctx, b); err != nil {
		return err
	}
	return r.RefreshCache(ctx)
}

// Delete removes a binding and reloads the in-memory list.
func (r *Registry) Delete(ctx context.Context, name string) error {
	if err := r.repo.Delete(ctx, name); err != nil {
		return err
	}
	return r.RefreshCache(ctx)
}

// Seed upserts every binding, then reloads once. Used at startup to load
// the bindings declared in config.
func (r *Registry) Seed(ctx context.Context, bindings []Binding) error {
	for _, b := range bindings {
		if err := r.repo.Upsert(ctx, b); err != nil {
			return fmt.Errorf("seeding binding %q: %w", b.Name, err)
		}
	}
	return r.RefreshCache(ctx)
}
