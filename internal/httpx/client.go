package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"sync"
	"time"

	clierr "github.com/ggonzalez94/xroute/internal/errors"
	"github.com/sony/gobreaker"
)

// Breaker settings for clients that opt in with WithBreaker.
const (
	DefaultBreakerFailures = 5
	DefaultBreakerOpenFor  = 30 * time.Second
)

// Client issues JSON requests against upstream quote and price APIs. Every
// request runs under the client timeout; retries only happen when the client
// was built with retries > 0. Clients built with WithBreaker get one circuit
// breaker per upstream host; without it every call reaches the upstream.
type Client struct {
	httpClient *http.Client
	retries    int
	userAgent  string

	breakerFailures uint32
	breakerOpenFor  time.Duration
	onStateChange   func(host string, from, to gobreaker.State)

	breakers *breakerSet
}

type breakerSet struct {
	mu sync.Mutex
	m  map[string]*gobreaker.CircuitBreaker
}

type Option func(*Client)

func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithBreaker sets how many consecutive upstream failures open a host's
// breaker and how long it stays open. failures == 0 disables breaking.
func WithBreaker(failures uint32, openFor time.Duration) Option {
	return func(c *Client) {
		c.breakerFailures = failures
		c.breakerOpenFor = openFor
	}
}

func WithBreakerStateHook(fn func(host string, from, to gobreaker.State)) Option {
	return func(c *Client) { c.onStateChange = fn }
}

func New(timeout time.Duration, retries int, opts ...Option) *Client {
	if retries < 0 {
		retries = 0
	}
	c := &Client{
		httpClient: &http.Client{Timeout: timeout},
		retries:    retries,
		userAgent:  "xroute/1.0",
		breakers:   &breakerSet{m: map[string]*gobreaker.CircuitBreaker{}},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) DoJSON(ctx context.Context, req *http.Request, out any) (http.Header, error) {
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, clierr.Wrap(clierr.CodeUnavailable, "request cancelled", ctx.Err())
			case <-time.After(backoff(attempt)):
			}
		}

		cloneReq := req.Clone(ctx)
		if req.Body != nil && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, clierr.Wrap(clierr.CodeInternal, "clone request body", err)
			}
			cloneReq.Body = body
		}

		header, buf, err := c.execute(cloneReq)
		if err != nil {
			lastErr = err
			if retryable(err) && attempt < c.retries {
				continue
			}
			return header, err
		}

		if out == nil {
			return header, nil
		}
		if len(bytes.TrimSpace(buf)) == 0 {
			return header, clierr.New(clierr.CodeUnavailable, "provider returned empty response")
		}
		if err := json.Unmarshal(buf, out); err != nil {
			return header, clierr.Wrap(clierr.CodeUnavailable, "decode provider JSON", err)
		}
		return header, nil
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, clierr.New(clierr.CodeUnavailable, "request failed")
}

type response struct {
	header http.Header
	body   []byte
}

func (c *Client) execute(req *http.Request) (http.Header, []byte, error) {
	breaker := c.breakerFor(req.URL.Host)
	if breaker == nil {
		return c.roundTrip(req)
	}
	res, err := breaker.Execute(func() (interface{}, error) {
		header, body, err := c.roundTrip(req)
		return response{header: header, body: body}, err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, nil, clierr.Wrap(clierr.CodeUnavailable, fmt.Sprintf("provider circuit open for %s", req.URL.Host), err)
	}
	r, _ := res.(response)
	return r.header, r.body, err
}

func (c *Client) roundTrip(req *http.Request) (http.Header, []byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, mapNetError(err)
	}
	buf, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp.Header, nil, clierr.Wrap(clierr.CodeUnavailable, "read provider response", readErr)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return resp.Header, buf, clierr.New(clierr.CodeRateLimited, "provider rate limited request")
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return resp.Header, buf, clierr.New(clierr.CodeAuth, "provider authentication failed")
	case resp.StatusCode >= http.StatusInternalServerError:
		return resp.Header, buf, clierr.New(clierr.CodeUnavailable, fmt.Sprintf("provider unavailable (status %d)", resp.StatusCode))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return resp.Header, buf, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("provider returned unexpected status %d", resp.StatusCode))
	}
	return resp.Header, buf, nil
}

func (c *Client) breakerFor(host string) *gobreaker.CircuitBreaker {
	if c.breakerFailures == 0 || host == "" {
		return nil
	}
	c.breakers.mu.Lock()
	defer c.breakers.mu.Unlock()
	if cb, ok := c.breakers.m[host]; ok {
		return cb
	}
	threshold := c.breakerFailures
	hook := c.onStateChange
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        host,
		MaxRequests: 1,
		Timeout:     c.breakerOpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// Client-side rejections and caller cancellation say nothing about
		// upstream health.
		IsSuccessful: func(err error) bool {
			return err == nil || !retryable(err) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if hook != nil {
				hook(name, from, to)
			}
		},
	})
	c.breakers.m[host] = cb
	return cb
}

func DoBodyJSON(ctx context.Context, c *Client, method, url string, body []byte, headers map[string]string, out any) (http.Header, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.DoJSON(ctx, req, out)
}

func retryable(err error) bool {
	typed, ok := clierr.As(err)
	if !ok {
		return true
	}
	return typed.Code == clierr.CodeUnavailable || typed.Code == clierr.CodeRateLimited
}

func mapNetError(err error) error {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return clierr.Wrap(clierr.CodeUnavailable, "provider timeout", err)
	}
	return clierr.Wrap(clierr.CodeUnavailable, "provider request failed", err)
}

func backoff(attempt int) time.Duration {
	base := 120 * time.Millisecond
	d := base * time.Duration(1<<uint(attempt-1))
	if d > 2*time.Second {
		d = 2 * time.Second
	}
	jitter := time.Duration(rand.Intn(75)) * time.Millisecond
	return d + jitter
}
