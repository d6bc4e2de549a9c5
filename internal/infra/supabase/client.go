// Package supabase provides a client for Supabase PostgREST.
// It is the persistence layer for businesses, social connections,
// subscriptions and engagement records.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/jetsuite/jetsuite-api/internal/domain"
	"github.com/jetsuite/jetsuite-api/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("supabase")

// Client wraps HTTP calls to Supabase PostgREST API.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	apiKey         string
	serviceRoleKey string
	cb             *gobreaker.CircuitBreaker
	cfg            resilience.Config
	logger         *zap.Logger
}

// NewClient creates a Supabase client.
func NewClient(httpClient *http.Client, baseURL, apiKey, serviceRoleKey string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, logger *zap.Logger) *Client {
	return &Client{
		httpClient:     httpClient,
		baseURL:        baseURL,
		apiKey:         apiKey,
		serviceRoleKey: serviceRoleKey,
		cb:             cb,
		cfg:            cfg,
		logger:         logger,
	}
}

// request describes one PostgREST call.
type request struct {
	method string
	path   string // table plus query string
	body   any
	prefer string
}

// statusError is a non-2xx PostgREST response.
type statusError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("supabase %s %s returned %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// do executes req behind the breaker with retries and returns the raw body.
// 4xx responses are not retried. A 404/204 yields a nil body.
func (c *Client) do(ctx context.Context, req request) ([]byte, error) {
	var body []byte
	err := resilience.Execute(ctx, c.cb, c.cfg, func() error {
		b, err := c.send(ctx, req)
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		if resilience.IsCircuitOpen(err) {
			return nil, &domain.ErrCircuitOpen{Service: "supabase"}
		}
		return nil, &domain.ErrExternalService{Service: "supabase", Err: err}
	}
	return body, nil
}

func (c *Client) send(ctx context.Context, req request) ([]byte, error) {
	var reader io.Reader
	if req.body != nil {
		payload, err := json.Marshal(req.body)
		if err != nil {
			return nil, resilience.Permanent(fmt.Errorf("encode body: %w", err))
		}
		reader = bytes.NewReader(payload)
	}

	endpoint := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, req.path)
	httpReq, err := http.NewRequestWithContext(ctx, req.method, endpoint, reader)
	if err != nil {
		c.logger.Error("supabase: failed to create request",
			zap.String("method", req.method),
			zap.String("path", req.path),
			zap.Error(err),
		)
		return nil, resilience.Permanent(err)
	}

	httpReq.Header.Set("apikey", c.apiKey)
	httpReq.Header.Set("Authorization", "Bearer "+c.serviceRoleKey)
	httpReq.Header.Set("Content-Type", "application/json")
	prefer := req.prefer
	if prefer == "" {
		prefer = "return=representation"
	}
	httpReq.Header.Set("Prefer", prefer)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Error("supabase: request failed",
			zap.String("method", req.method),
			zap.String("path", req.path),
			zap.Error(err),
		)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("supabase: non-2xx response",
			zap.String("method", req.method),
			zap.String("path", req.path),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)),
		)
		serr := &statusError{Method: req.method, Path: req.path, Status: resp.StatusCode, Body: string(body)}
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, resilience.Permanent(serr)
		}
		return nil, serr
	}

	c.logger.Debug("supabase: request OK",
		zap.String("method", req.method),
		zap.String("path", req.path),
		zap.Int("status", resp.StatusCode),
	)
	return body, nil
}

// isConflict reports whether err is a PostgREST unique violation (409).
func isConflict(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.Status == http.StatusConflict
}

// selectRows GETs path and decodes the JSON array into out.
func (c *Client) selectRows(ctx context.Context, path string, out any) error {
	body, err := c.do(ctx, request{method: http.MethodGet, path: path})
	if err != nil {
		return err
	}
	if len(body) == 0 {
		body = []byte("[]")
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// insertRow POSTs row and decodes the first returned row into out (may be nil).
func (c *Client) insertRow(ctx context.Context, table string, row any, prefer string, out any) error {
	body, err := c.do(ctx, request{method: http.MethodPost, path: table, body: row, prefer: prefer})
	if err != nil {
		return err
	}
	return decodeFirst(body, table, out)
}

func (c *Client) patch(ctx context.Context, path string, updates map[string]any, out any) error {
	prefer := "return=minimal"
	if out != nil {
		prefer = "return=representation"
	}
	body, err := c.do(ctx, request{method: http.MethodPatch, path: path, body: updates, prefer: prefer})
	if err != nil {
		return err
	}
	return decodeFirst(body, path, out)
}

// remove DELETEs rows matching path and returns how many were deleted.
func (c *Client) remove(ctx context.Context, path string) (int, error) {
	body, err := c.do(ctx, request{method: http.MethodDelete, path: path})
	if err != nil {
		return 0, err
	}
	if len(body) == 0 {
		return 0, nil
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return 0, fmt.Errorf("decode delete %s: %w", path, err)
	}
	return len(rows), nil
}

func decodeFirst(body []byte, what string, out any) error {
	if out == nil || len(body) == 0 {
		return nil
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return fmt.Errorf("decode %s: %w", what, err)
	}
	if len(rows) == 0 {
		return &domain.ErrNotFound{Resource: what, ID: ""}
	}
	if err := json.Unmarshal(rows[0], out); err != nil {
		return fmt.Errorf("decode %s row: %w", what, err)
	}
	return nil
}

// eq renders a PostgREST equality filter with an escaped value.
func eq(column, value string) string {
	return column + "=eq." + url.QueryEscape(value)
}

// Ping checks that PostgREST answers, for readiness probes.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, request{method: http.MethodGet, path: "businesses?select=id&limit=1"})
	return err
}
