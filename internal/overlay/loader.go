package overlay

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const maxDocumentSize = 8 << 20

// Loader fetches the overlay document.
type Loader interface {
	Load(ctx context.Context) ([]byte, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context) ([]byte, error)

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context) ([]byte, error) { return f(ctx) }

// SourceLoader loads from an http(s) URL or, for anything else, a local
// file path.
type SourceLoader struct {
	Source string
	Client *http.Client
}

// NewSourceLoader returns a loader for source with the given HTTP timeout.
func NewSourceLoader(source string, timeout time.Duration) *SourceLoader {
	return &SourceLoader{Source: source, Client: &http.Client{Timeout: timeout}}
}

// Load implements Loader.
func (l *SourceLoader) Load(ctx context.Context) ([]byte, error) {
	if !strings.HasPrefix(l.Source, "http://") && !strings.HasPrefix(l.Source, "https://") {
		data, err := os.ReadFile(l.Source)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", l.Source, err)
		}
		return data, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.Source, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", l.Source, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetching %s: status %d", l.Source, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", l.Source, err)
	}
	return data, nil
}
