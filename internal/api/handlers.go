package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/scada-overlay/internal/telemetry"
)

// healthCheckTimeout bounds each component check in GET /health.
const healthCheckTimeout = 2 * time.Second

// maxResolveKeys caps the keys accepted by one GET /resolve.
const maxResolveKeys = 64

// ResolvedValue is one key answered by GET /resolve.
type ResolvedValue struct {
	Key   string          `json:"key"`
	Value telemetry.Value `json:"value"`
	Known bool            `json:"known"`
}

// handleHealth reports the server and every configured component.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := make(map[string]string, len(s.health))
	status := "ok"

	for name, checker := range s.health {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := checker.HealthCheck(ctx)
		cancel()
		if err != nil {
			components[name] = err.Error()
			status = "degraded"
			continue
		}
		components[name] = "ok"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"version":    s.version,
		"ready":      s.widget.Ready(),
		"components": components,
	})
}

// handleOverlayDocument serves the loaded vector document.
func (s *Server) handleOverlayDocument(w http.ResponseWriter, _ *http.Request) {
	doc := s.widget.Document()
	if len(doc) == 0 {
		writeNotFound(w, "overlay document not loaded")
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // Best-effort write to response
	w.Write(doc)
}

// handleValues returns the last rendered update of every item.
func (s *Server) handleValues(w http.ResponseWriter, _ *http.Request) {
	values := s.hub.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"values": values,
		"count":  len(values),
	})
}

// handleResolve resolves keys through the read cache and waits for the
// answers.
//
// Query: device (required), keys (comma separated, required),
// scope (telemetry|attribute), force (bool).
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	device := strings.TrimSpace(q.Get("device"))
	if device == "" {
		writeBadRequest(w, "device is required")
		return
	}
	keys := splitKeys(q.Get("keys"))
	if len(keys) == 0 {
		writeBadRequest(w, "keys is required")
		return
	}
	if len(keys) > maxResolveKeys {
		writeBadRequest(w, fmt.Sprintf("at most %d keys per request", maxResolveKeys))
		return
	}
	force := false
	if raw := q.Get("force"); raw != "" {
		var err error
		if force, err = strconv.ParseBool(raw); err != nil {
			writeBadRequest(w, "force must be a boolean")
			return
		}
	}
	scope := telemetry.ParseScope(q.Get("scope"))

	ctx, cancel := context.WithTimeout(r.Context(), s.resolveTimeout())
	defer cancel()

	results := make([]ResolvedValue, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	for i, key := range keys {
		i, key := i, key
		g.Go(func() error {
			v, err := s.resolve(gctx, device, scope, key, force)
			if err != nil {
				return err
			}
			results[i] = ResolvedValue{Key: key, Value: v, Known: v.IsKnown()}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		writeError(w, http.StatusGatewayTimeout, ErrCodeTimeout, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device": device,
		"scope":  scope.String(),
		"values": results,
	})
}

// resolve blocks until the cache answers or ctx ends.
func (s *Server) resolve(ctx context.Context, device string, scope telemetry.Scope, key string, force bool) (telemetry.Value, error) {
	ch := make(chan telemetry.Value, 1)
	s.cache.Resolve(device, scope, key, func(v telemetry.Value) { ch <- v }, force)

	select {
	case v := <-ch:
		return v, nil
	case <-ctx.Done():
		return telemetry.Unknown, fmt.Errorf("resolving %s: %w", key, ctx.Err())
	}
}

func splitKeys(raw string) []string {
	var keys []string
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// handleRefresh re-resolves every item without clearing the cache.
func (s *Server) handleRefresh(w http.ResponseWriter, _ *http.Request) {
	if !s.widget.Ready() {
		writeUnavailable(w, "overlay not initialised")
		return
	}
	s.widget.Refresh()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "refreshing"})
}

// handleInvalidate clears the cache and re-resolves every item.
func (s *Server) handleInvalidate(w http.ResponseWriter, _ *http.Request) {
	if !s.widget.Ready() {
		writeUnavailable(w, "overlay not initialised")
		return
	}
	s.widget.Invalidate("api")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "invalidated"})
}

// handleDerived lists the last published derived values.
func (s *Server) handleDerived(w http.ResponseWriter, _ *http.Request) {
	if s.derived == nil {
		writeJSON(w, http.StatusOK, map[string]any{"results": []any{}, "count": 0})
		return
	}
	results := s.derived.Last()
	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
		"count":   len(results),
	})
}
