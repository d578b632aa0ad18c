package tablebase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

const DefaultBaseURL = "https://tablebase.lichess.ovh"

var (
	ErrNotFound    = errors.New("position not in tablebase")
	ErrUnavailable = errors.New("tablebase unavailable")
)

// StatusError is a non-2xx answer from the tablebase API.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("tablebase api error: status=%d body=%s", e.Code, e.Body)
}

// Retryable reports whether the status is worth another attempt.
func (e *StatusError) Retryable() bool {
	return e.Code == fasthttp.StatusTooManyRequests || e.Code >= 500
}

// Fetcher loads raw tablebase data for a normalized FEN.
type Fetcher interface {
	Fetch(ctx context.Context, fen string) (*APIResponse, error)
}

type Client struct {
	baseURL string
	http    *fasthttp.Client
	logger  *zap.Logger

	timeout     time.Duration
	maxAttempts int
	backoffBase time.Duration
	maxBackoff  time.Duration
	moves       int
	userAgent   string
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

func WithBackoff(base, ceiling time.Duration) Option {
	return func(c *Client) {
		if base > 0 {
			c.backoffBase = base
		}
		if ceiling > 0 {
			c.maxBackoff = ceiling
		}
	}
}

// WithMoves sets the moves= query parameter (how many moves the API lists).
func WithMoves(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.moves = n
		}
	}
}

func WithMaxConnsPerHost(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.http.MaxConnsPerHost = n
		}
	}
}

func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua = strings.TrimSpace(ua); ua != "" {
			c.userAgent = ua
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func NewClient(baseURL string, opts ...Option) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:     strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:        &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 16},
		logger:      zap.NewNop(),
		timeout:     5 * time.Second,
		maxAttempts: 3,
		backoffBase: 200 * time.Millisecond,
		maxBackoff:  5 * time.Second,
		moves:       256,
		userAgent:   "endgame-trainer",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch queries /standard for fen. 404 maps to ErrNotFound; network errors,
// malformed bodies, 429 and 5xx are retried with exponential backoff.
func (c *Client) Fetch(ctx context.Context, fen string) (*APIResponse, error) {
	uri := c.baseURL + "/standard?fen=" + url.QueryEscape(fen) + "&moves=" + strconv.Itoa(c.moves)

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		resp, wait, err := c.attempt(ctx, uri)
		if err == nil {
			return resp, nil
		}
		var statusErr *StatusError
		switch {
		case errors.Is(err, ErrNotFound):
			return nil, err
		case errors.As(err, &statusErr) && !statusErr.Retryable():
			return nil, err
		}
		lastErr = err
		c.logger.Warn("tablebase_fetch_retry",
			zap.String("fen", fen),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.maxAttempts),
			zap.Error(err),
		)
		if attempt == c.maxAttempts {
			break
		}
		delay := c.backoffDuration(attempt)
		if wait > delay {
			delay = min(wait, c.maxBackoff)
		}
		if sleepErr := sleepWithContext(ctx, delay); sleepErr != nil {
			return nil, sleepErr
		}
	}
	if lastErr == nil {
		lastErr = errors.New("no attempts made")
	}
	return nil, fmt.Errorf("%w: %w", ErrUnavailable, lastErr)
}

// attempt performs one request. The returned duration is a server-requested
// wait (Retry-After) when present.
func (c *Client) attempt(ctx context.Context, uri string) (*APIResponse, time.Duration, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(uri)
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.SetUserAgent(c.userAgent)
	}

	if err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx)); err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}

	status := resp.StatusCode()
	switch {
	case status == fasthttp.StatusNotFound:
		return nil, 0, ErrNotFound
	case status < 200 || status >= 300:
		wait := retryAfter(string(resp.Header.Peek("Retry-After")))
		return nil, wait, &StatusError{Code: status, Body: truncate(string(resp.Body()), 256)}
	}

	var out APIResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if strings.TrimSpace(out.Category) == "" {
		return nil, 0, fmt.Errorf("%w: missing category", ErrMalformedResponse)
	}
	return &out, 0, nil
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func (c *Client) backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	d := time.Duration(1<<uint(attempt-1)) * c.backoffBase
	if d > c.maxBackoff {
		return c.maxBackoff
	}
	return d
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func retryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
