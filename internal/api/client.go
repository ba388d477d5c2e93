// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/jeranaias/chatsync/internal/config"
	"github.com/jeranaias/chatsync/internal/identity"
)

const (
	// DefaultTimeout is the per-request timeout.
	DefaultTimeout = 15 * time.Second

	// DefaultMaxRetries is the total number of attempts for retryable errors.
	DefaultMaxRetries = 3

	retryBaseDelay = 250 * time.Millisecond
	retryMaxDelay  = 5 * time.Second

	// MaxResponseSize bounds every response body.
	MaxResponseSize = 4 * 1024 * 1024

	// RequestIDHeader carries a per-attempt correlation id.
	RequestIDHeader = "X-Request-ID"
)

var sharedTransport = &http.Transport{
	MaxIdleConns:        20,
	MaxIdleConnsPerHost: 10,
	IdleConnTimeout:     90 * time.Second,
}

// Client talks to the session API.
type Client struct {
	baseURL    string
	identity   identity.Provider
	httpClient *http.Client
	maxRetries int
	limiter    *rate.Limiter
	log        zerolog.Logger

	// sleep is swapped in tests to skip backoff delays.
	sleep func(ctx context.Context, d time.Duration) error
}

var _ Backend = (*Client)(nil)

// NewClient creates a client for baseURL. ids may be nil for anonymous use.
func NewClient(baseURL string, ids identity.Provider) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		identity: ids,
		httpClient: &http.Client{
			Transport: sharedTransport,
			Timeout:   DefaultTimeout,
		},
		maxRetries: DefaultMaxRetries,
		log:        zerolog.Nop(),
		sleep:      sleepCtx,
	}
}

// FromConfig builds a client from the [api] config section.
func FromConfig(cfg *config.Config, ids identity.Provider, log zerolog.Logger) *Client {
	c := NewClient(cfg.API.BaseURL, ids).
		WithTimeout(cfg.API.Timeout()).
		WithMaxRetries(cfg.API.MaxRetries).
		WithLogger(log)
	if cfg.API.RateLimit > 0 {
		c = c.WithRateLimit(cfg.API.RateLimit, cfg.API.RateBurst)
	}
	return c
}

// WithTimeout sets the per-request timeout.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	c.httpClient.Timeout = timeout
	return c
}

// WithMaxRetries sets the total attempt count (minimum 1).
func (c *Client) WithMaxRetries(n int) *Client {
	if n < 1 {
		n = 1
	}
	c.maxRetries = n
	return c
}

// WithRateLimit throttles outgoing requests to perSecond with the given burst.
func (c *Client) WithRateLimit(perSecond float64, burst int) *Client {
	if burst < 1 {
		burst = 1
	}
	c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	return c
}

// WithHTTPClient replaces the underlying http.Client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// WithLogger sets the logger.
func (c *Client) WithLogger(log zerolog.Logger) *Client {
	c.log = log
	return c
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// =============================================================================
// SESSION OPERATIONS
// =============================================================================

func (c *Client) GetOrCreateSession(ctx context.Context) (*SessionInfo, error) {
	const op = "getOrCreateSession"
	var info SessionInfo
	if err := c.do(ctx, op, http.MethodPost, "/api/sessions", nil, struct{}{}, &info); err != nil {
		return nil, err
	}
	if info.SessionID == "" {
		return nil, &Error{Op: op, Message: "response carried no session_id"}
	}
	return &info, nil
}

func (c *Client) GetSessionMessages(ctx context.Context, sessionID string, limit, offset int) ([]Message, error) {
	const op = "getSessionMessages"
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))

	var resp messagesResponse
	path := "/api/sessions/" + url.PathEscape(sessionID) + "/messages"
	if err := c.do(ctx, op, http.MethodGet, path, q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (c *Client) GetSessions(ctx context.Context, limit int) ([]SessionSummary, error) {
	const op = "getSessions"
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))

	var resp sessionsResponse
	if err := c.do(ctx, op, http.MethodGet, "/api/sessions", q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, "deleteSession", http.MethodDelete, "/api/sessions/"+url.PathEscape(sessionID), nil, nil, nil)
}

// =============================================================================
// REQUEST PLUMBING
// =============================================================================

// do runs one logical operation with retries and decodes the JSON body into out.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	if c.baseURL == "" {
		return &Error{Op: op, Err: ErrNotConfigured}
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return &Error{Op: op, Err: fmt.Errorf("encode request: %w", err)}
		}
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, c.calculateBackoff(attempt)); err != nil {
				return &Error{Op: op, Err: err}
			}
		}

		err := c.attempt(ctx, op, method, target, payload, out)
		if err == nil {
			return nil
		}
		if !retryable(StatusOf(err)) {
			return err
		}
		lastErr = err
		c.log.Debug().Str("op", op).Int("attempt", attempt+1).Err(err).Msg("retrying")
	}
	return lastErr
}

func (c *Client) attempt(ctx context.Context, op, method, target string, payload []byte, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return &Error{Op: op, Err: err}
		}
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return &Error{Op: op, Err: fmt.Errorf("create request: %w", err)}
	}
	c.setHeaders(req, payload != nil)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Debug().Str("op", op).Dur("elapsed", time.Since(start)).Err(err).Msg("request failed")
		return &Error{Op: op, Err: err}
	}
	defer resp.Body.Close()

	// Headers and bodies are never logged; they may carry tokens or chat content.
	c.log.Debug().
		Str("op", op).
		Str("method", method).
		Str("path", req.URL.Path).
		Int("status", resp.StatusCode).
		Str("request_id", req.Header.Get(RequestIDHeader)).
		Dur("elapsed", time.Since(start)).
		Msg("api call")

	data, err := readResponse(resp)
	if err != nil {
		return &Error{Op: op, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return handleErrorResponse(op, resp.StatusCode, data)
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &Error{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request, hasBody bool) {
	req.Header.Set("Accept", "application/json")
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(RequestIDHeader, uuid.NewString())
	if c.identity != nil {
		if token := c.identity.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
}

// readResponse reads the body, refusing anything over MaxResponseSize.
func readResponse(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if int64(len(body)) > MaxResponseSize {
		return nil, ErrResponseTooLarge
	}
	return body, nil
}

// handleErrorResponse maps a non-2xx response to *Error, using the JSON
// envelope when the body has one.
func handleErrorResponse(op string, status int, body []byte) error {
	apiErr := &Error{Op: op, Status: status}

	var envelope ErrorBody
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
		return apiErr
	}

	apiErr.Message = strings.TrimSpace(string(body))
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}

// calculateBackoff returns the delay before the given attempt.
func (c *Client) calculateBackoff(attempt int) time.Duration {
	delay := retryBaseDelay * time.Duration(1<<uint(attempt-1))
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	return delay
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsTransport reports whether err is a failure with no HTTP status, such as
// a refused connection, a timeout or a cancelled context.
func IsTransport(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Status == 0
}
