package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nerrad567/scada-overlay/internal/entity"
)

const (
	// maxResponseBytes caps how much of a response body is read.
	maxResponseBytes = 1 << 20

	// defaultTimeout applies when NewClient is given a non-positive timeout.
	defaultTimeout = 10 * time.Second

	authHeader = "X-Authorization"
)

// Scope selects the namespace a key is read from.
type Scope int

const (
	// ScopeTelemetry reads the latest time-series values.
	ScopeTelemetry Scope = iota

	// ScopeAttribute reads shared-scope attributes.
	ScopeAttribute
)

// ParseScope maps a configured source name to a Scope. "attribute",
// "attributes" and "shared" select attributes; anything else is telemetry.
func ParseScope(source string) Scope {
	switch normalizeKey(source) {
	case "attribute", "attributes", "shared":
		return ScopeAttribute
	default:
		return ScopeTelemetry
	}
}

// String returns the scope name used in logs and topics.
func (s Scope) String() string {
	if s == ScopeAttribute {
		return "attribute"
	}
	return "telemetry"
}

// HostClient is an authenticated transport supplied by the host. When set
// on a Client it is used instead of direct HTTP, and its errors count as
// read or write failures.
type HostClient interface {
	Get(ctx context.Context, path string) ([]byte, error)
	Post(ctx context.Context, path string, body []byte) error
}

// Logger defines the logging interface used by the Client.
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

// Client is the remote reader and writer.
type Client struct {
	baseURL string
	http    *http.Client
	host    HostClient
	creds   Credentials
	logger  Logger
	now     func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for direct calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithHostClient routes every call through host.
func WithHostClient(host HostClient) Option {
	return func(c *Client) { c.host = host }
}

// WithCredentials sets the bearer token source for direct calls.
func WithCredentials(creds Credentials) Option {
	return func(c *Client) { c.creds = creds }
}

// WithLogger sets the logger.
func WithLogger(logger Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a client for the backend at baseURL.
func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  noopLogger{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Read fetches the current value of key for ref. It returns ErrNoEntity
// for a zero ref without any network activity, an ErrReadFailed wrap when
// the call fails, and ErrNoValue when the response holds nothing for key.
func (c *Client) Read(ctx context.Context, ref entity.Ref, scope Scope, key string) (Value, error) {
	if ref.IsZero() {
		return Unknown, ErrNoEntity
	}

	path := ReadPath(ref, scope, key)
	body, err := c.get(ctx, path)
	if err != nil {
		return Unknown, fmt.Errorf("%w: %s %s: %w", ErrReadFailed, scope, key, err)
	}

	v := DecodeResponse(body, key)
	if !v.IsKnown() {
		return Unknown, fmt.Errorf("%w: %s %s", ErrNoValue, scope, key)
	}
	return v, nil
}

// Write publishes value under key as time-series data on ref, timestamped now.
func (c *Client) Write(ctx context.Context, ref entity.Ref, key string, value Value) error {
	if ref.IsZero() {
		return ErrNoEntity
	}
	if !value.IsKnown() {
		return fmt.Errorf("%w: refusing to write unknown %s", ErrWriteFailed, key)
	}

	payload := writePayload{
		TS:     c.now().UnixMilli(),
		Values: map[string]any{key: value.Raw()},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: encoding %s: %w", ErrWriteFailed, key, err)
	}

	if err := c.post(ctx, WritePath(ref), body); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrWriteFailed, key, err)
	}
	return nil
}

type writePayload struct {
	TS     int64          `json:"ts"`
	Values map[string]any `json:"values"`
}

// ReadPath returns the backend path for reading key from ref.
func ReadPath(ref entity.Ref, scope Scope, key string) string {
	values := "timeseries"
	if scope == ScopeAttribute {
		values = "attributes/SHARED_SCOPE"
	}
	return fmt.Sprintf("/api/plugins/telemetry/%s/%s/values/%s?keys=%s",
		url.PathEscape(entityType(ref)), url.PathEscape(ref.ID), values, url.QueryEscape(key))
}

// WritePath returns the backend path for writing time-series data to ref.
func WritePath(ref entity.Ref) string {
	return fmt.Sprintf("/api/plugins/telemetry/%s/%s/timeseries/ANY",
		url.PathEscape(entityType(ref)), url.PathEscape(ref.ID))
}

func entityType(ref entity.Ref) string {
	if ref.EntityType == "" {
		return entity.DefaultEntityType
	}
	return ref.EntityType
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	if c.host != nil {
		return c.host.Get(ctx, path)
	}
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *Client) post(ctx context.Context, path string, body []byte) error {
	if c.host != nil {
		return c.host.Post(ctx, path, body)
	}
	_, err := c.do(ctx, http.MethodPost, path, body)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.creds != nil {
		if token, tokenErr := c.creds.Token(); tokenErr == nil {
			req.Header.Set(authHeader, "Bearer "+token)
		} else {
			c.logger.Debug("no backend credential, sending unauthenticated request", "path", path)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return data, nil
}
