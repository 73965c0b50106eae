// Path: internal/client/client.go
package client

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

	"golang.org/x/time/rate"

	"push-broker/internal/domain"
	"push-broker/internal/logger"
)

// ErrUnexpectedStatus is wrapped by every non-2xx response.
var ErrUnexpectedStatus = errors.New("unexpected status code")

// StatusError carries the status and error message of a failed call.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %d", ErrUnexpectedStatus, e.Code)
	}
	return fmt.Sprintf("%s: %d: %s", ErrUnexpectedStatus, e.Code, e.Message)
}

func (e *StatusError) Unwrap() error {
	return ErrUnexpectedStatus
}

// Client talks to a push broker: it streams events and calls the producer API.
type Client struct {
	baseURL string
	client  *http.Client
	stream  *http.Client
	limiter *rate.Limiter
	log     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the client used for producer calls and streams.
// Its Timeout only applies to producer calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.client = hc
			c.stream = &http.Client{Transport: hc.Transport}
		}
	}
}

// WithRateLimit paces producer calls and stream reconnects.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
	}
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// NewClient creates and configures a new Client for the broker at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
		stream:  &http.Client{},
		limiter: rate.NewLimiter(rate.Limit(2), 4),
		log:     logger.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(logger.Component("client"))
	return c
}

// SendEvent submits an event through the producer API.
func (c *Client) SendEvent(ctx context.Context, in domain.SendEventInput) (*domain.SendResult, error) {
	var res domain.SendResult
	if err := c.do(ctx, http.MethodPost, "/sse/events", in, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// SendTestEvent asks the broker to emit a test event to userID, or to
// everyone when userID is empty.
func (c *Client) SendTestEvent(ctx context.Context, userID string) (*domain.SendResult, error) {
	body := struct {
		UserID string `json:"userId,omitempty"`
	}{UserID: userID}

	var res domain.SendResult
	if err := c.do(ctx, http.MethodPost, "/sse/test", body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Connections fetches the broker's active channels.
func (c *Client) Connections(ctx context.Context) (*domain.ConnectionsSnapshot, error) {
	var snap domain.ConnectionsSnapshot
	if err := c.do(ctx, http.MethodGet, "/sse/connections", nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// do performs one rate-limited JSON call.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return waitError(ctx, err)
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp.StatusCode, raw)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to unmarshal json response: %w", err)
	}
	return nil
}

func statusError(code int, body []byte) error {
	var payload struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(body, &payload)
	return &StatusError{Code: code, Message: payload.Error}
}
