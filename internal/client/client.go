// Package client talks to the focus daemon over HTTP and maps its answers
// onto what a front end should show.
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
	"net/url"
	"strings"
	"time"

	"github.com/runger/focus/internal/api"
	"github.com/runger/focus/internal/command"
	"github.com/runger/focus/internal/events"
	"github.com/runger/focus/internal/now"
	"github.com/runger/focus/internal/workitems"
)

// DefaultTimeout bounds a request when the caller does not set one.
const DefaultTimeout = 3 * time.Second

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 4 << 20

// APIError is a non-2xx answer from the daemon.
type APIError struct {
	Status    int
	Code      string
	Message   string
	Field     string
	Retryable bool
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// IsRetryable reports whether err is worth retrying: transport failures,
// and server errors flagged retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable || apiErr.Status >= http.StatusInternalServerError
	}
	return true
}

// Client is a focus daemon client.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// New creates a client for the daemon at baseURL.
func New(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Current asks for the user's focus.
func (c *Client) Current(ctx context.Context, userID string) View {
	return c.result(ctx, http.MethodGet, "/now/current?user_id="+url.QueryEscape(userID), nil)
}

// Compute runs the engine on a bundle without touching storage. bundle is
// the raw JSON of a Signal Bundle.
func (c *Client) Compute(ctx context.Context, bundle json.RawMessage) View {
	return c.result(ctx, http.MethodPost, "/now/compute", bundle)
}

// Defer asks to be left alone.
func (c *Client) Defer(ctx context.Context, userID, reason string) View {
	return c.result(ctx, http.MethodPost, "/now/defer", api.DeferRequest{UserID: userID, Reason: reason})
}

// Wake ends a defer, optionally naming what to work on.
func (c *Client) Wake(ctx context.Context, userID, focusKey string) View {
	return c.result(ctx, http.MethodPost, "/now/wake", api.WakeRequest{UserID: userID, FocusKey: focusKey})
}

// Execute applies a command. A business failure is an Outcome with OK
// false, not an error.
func (c *Client) Execute(ctx context.Context, userID string, cmd command.Command) (command.Outcome, error) {
	var out command.Outcome
	err := c.do(ctx, http.MethodPost, "/now/execute", api.ExecuteRequest{
		UserID: userID,
		Op:     cmd.Op,
		RefID:  cmd.RefID,
		Kind:   cmd.Kind,
	}, &out)
	return out, err
}

// Dismiss counts one dismissal of key.
func (c *Client) Dismiss(ctx context.Context, userID, key string) (api.DismissResponse, error) {
	var resp api.DismissResponse
	err := c.do(ctx, http.MethodPost, "/now/dismiss", api.DismissRequest{UserID: userID, Key: key}, &resp)
	return resp, err
}

// LogEvent appends a raw user event.
func (c *Client) LogEvent(ctx context.Context, userID string, typ now.EventType, payload json.RawMessage) (events.Event, error) {
	var ev events.Event
	err := c.do(ctx, http.MethodPost, "/now/events", api.EventRequest{UserID: userID, Type: typ, Payload: payload}, &ev)
	return ev, err
}

// PutItem creates or replaces a work item.
func (c *Client) PutItem(ctx context.Context, userID string, kind now.Kind, it now.Item) error {
	return c.do(ctx, http.MethodPut, "/items", api.ItemRequest{UserID: userID, Kind: kind, Item: it}, nil)
}

// ListItems lists work items; an empty kind lists all of them.
func (c *Client) ListItems(ctx context.Context, userID string, kind now.Kind) ([]workitems.Record, error) {
	q := url.Values{"user_id": {userID}}
	if kind != "" {
		q.Set("kind", string(kind))
	}
	var resp api.ItemsResponse
	if err := c.do(ctx, http.MethodGet, "/items?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// DeleteItem removes a work item.
func (c *Client) DeleteItem(ctx context.Context, userID string, kind now.Kind, id now.ItemID) error {
	path := fmt.Sprintf("/items/%s/%s?user_id=%s", url.PathEscape(string(kind)), url.PathEscape(string(id)), url.QueryEscape(userID))
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// Health checks that the daemon and its storage are up.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

// result performs a request whose success body is a Result.
func (c *Client) result(ctx context.Context, method, path string, body any) View {
	var raw json.RawMessage
	if err := c.do(ctx, method, path, body, &raw); err != nil {
		return ErrorView(err)
	}
	return ViewOf(now.DecodeResultOrFallback(raw))
}

func (c *Client) do(ctx context.Context, method, path string, body, dst any) error {
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case json.RawMessage:
		rd = bytes.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("request failed", "method", method, "path", path, "error", err)
		return fmt.Errorf("failed to reach focus daemon: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var er api.ErrorResponse
		if json.Unmarshal(data, &er) == nil {
			apiErr.Code = er.Error
			apiErr.Message = er.Message
			apiErr.Field = er.Field
			apiErr.Retryable = er.Retryable
		}
		return apiErr
	}

	if dst == nil || len(data) == 0 {
		return nil
	}
	if raw, ok := dst.(*json.RawMessage); ok {
		*raw = data
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
