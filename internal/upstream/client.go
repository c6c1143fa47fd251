// Package upstream is the HTTP/JSON client for the hosted cafe backend:
// health, menu, order creation and kitchen display.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Default endpoint paths.
const (
	DefaultHealthPath = "/api/health"
	DefaultMenuPath   = "/api/menu"
	DefaultOrdersPath = "/api/orders"
	DefaultKDSPath    = "/api/kds"

	// DefaultRequestTimeout bounds one backend call when the agent is
	// configured from defaults.
	DefaultRequestTimeout = 8 * time.Second

	// IdempotencyHeader carries the client order id on order creation so a
	// resubmitted order is not created twice.
	IdempotencyHeader = "Idempotency-Key"

	maxErrorBody = 4 << 10
)

// Config configures a Client.
type Config struct {
	BaseURL        string
	HealthPath     string
	MenuPath       string
	OrdersPath     string
	KDSPath        string
	APIKey         string
	RequestTimeout time.Duration // per request; 0 relies on ctx only
}

// Client talks to the hosted backend.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client. Empty paths fall back to the defaults.
func New(cfg Config, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("upstream: base url is required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.HealthPath == "" {
		cfg.HealthPath = DefaultHealthPath
	}
	if cfg.MenuPath == "" {
		cfg.MenuPath = DefaultMenuPath
	}
	if cfg.OrdersPath == "" {
		cfg.OrdersPath = DefaultOrdersPath
	}
	if cfg.KDSPath == "" {
		cfg.KDSPath = DefaultKDSPath
	}

	c := &Client{
		cfg:    cfg,
		http:   &http.Client{},
		logger: slog.Default().With("component", "upstream"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// StatusError is a non-2xx response from the backend.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// IsRetryable reports whether err is a transient failure worth retrying
// later: a timeout, a transport error, 408, 429 or any 5xx. Other 4xx
// responses mean the server rejected the request and retrying is pointless.
// Cancellation by the caller is not retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500 ||
			se.StatusCode == http.StatusRequestTimeout ||
			se.StatusCode == http.StatusTooManyRequests
	}
	var de *DecodeError
	if errors.As(err, &de) {
		return false
	}
	// Deadline and transport errors.
	return true
}

// DecodeError is a 2xx response whose body could not be understood.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Ping performs one health check. Any non-2xx response is an error.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, c.cfg.HealthPath, nil, nil, nil)
}

// do sends one request and, when out is non-nil, decodes the JSON response
// into it. The whole exchange, body included, is bounded by RequestTimeout.
func (c *Client) do(ctx context.Context, method, path string, body any, header http.Header, out any) error {
	if c.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(msg)),
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &DecodeError{Path: path, Err: err}
	}
	return nil
}
