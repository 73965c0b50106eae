// Path: internal/client/stream.go
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"push-broker/internal/logger"
	"push-broker/internal/sse"
)

// errStreamEnded marks a stream the server closed cleanly.
var errStreamEnded = errors.New("stream ended by server")

// Listen opens the event stream for userID (anonymous when empty) and calls
// fn for every event. Dropped streams are reopened with Last-Event-ID,
// paced by the client rate limiter. Listen returns nil once fn returns
// sse.ErrStop, any other fn error as is, and ctx.Err() on cancellation.
func (c *Client) Listen(ctx context.Context, userID string, fn func(sse.Message) error) error {
	var (
		lastID  string
		stopped bool
		fnErr   error
	)
	handle := func(m sse.Message) error {
		if m.ID != "" {
			lastID = m.ID
		}
		if err := fn(m); err != nil {
			if errors.Is(err, sse.ErrStop) {
				stopped = true
			} else {
				fnErr = err
			}
			return err
		}
		return nil
	}

	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return waitError(ctx, err)
		}

		err := c.listenOnce(ctx, userID, lastID, handle)
		switch {
		case stopped:
			return nil
		case fnErr != nil:
			return fnErr
		case ctx.Err() != nil:
			return ctx.Err()
		}
		var se *StatusError
		if errors.As(err, &se) && se.Code >= 400 && se.Code < 500 && se.Code != http.StatusTooManyRequests {
			return err
		}
		c.log.Warn("event stream interrupted, reconnecting", logger.Count("attempt", attempt+1), logger.Error(err))
	}
}

func (c *Client) listenOnce(ctx context.Context, userID, lastID string, fn func(sse.Message) error) error {
	u := c.baseURL + "/sse"
	if userID != "" {
		u += "?" + url.Values{"userId": {userID}}.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", sse.ContentType)
	req.Header.Set("Cache-Control", "no-cache")
	if lastID != "" {
		req.Header.Set("Last-Event-ID", lastID)
	}

	resp, err := c.stream.Do(req)
	if err != nil {
		return fmt.Errorf("failed to open stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return statusError(resp.StatusCode, body)
	}

	if err := sse.Parse(resp.Body, sse.DefaultMaxLine, fn); err != nil {
		return err
	}
	return errStreamEnded
}

// waitError maps a limiter failure to the context error it stands for. The
// limiter refuses early when the next token lies beyond the deadline.
func waitError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if _, ok := ctx.Deadline(); ok {
		return context.DeadlineExceeded
	}
	return err
}
