package httpx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	clierr "github.com/ggonzalez94/xroute/internal/errors"
)

func TestDoJSONRetriesServerError(t *testing.T) {
	var count int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&count, 1)
		if n == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"x"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	client := New(2*time.Second, 1)
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	var out map[string]any
	if _, err := client.DoJSON(context.Background(), req, &out); err != nil {
		t.Fatalf("DoJSON failed: %v", err)
	}
	if out["ok"] != true {
		t.Fatalf("unexpected response: %#v", out)
	}
}

func TestDoJSONWithoutRetriesFailsOnce(t *testing.T) {
	var count int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&count, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := New(2*time.Second, 0)
	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)
	_, err := client.DoJSON(context.Background(), req, &map[string]any{})
	if !clierr.Is(err, clierr.CodeUnavailable) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
	if got := atomic.LoadInt32(&count); got != 1 {
		t.Fatalf("expected a single upstream call, got %d", got)
	}
}

func TestDoJSONMapsStatusCodes(t *testing.T) {
	cases := map[int]clierr.Code{
		http.StatusTooManyRequests: clierr.CodeRateLimited,
		http.StatusUnauthorized:    clierr.CodeAuth,
		http.StatusNotFound:        clierr.CodeUnsupported,
	}
	for status, want := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))
		client := New(2*time.Second, 0)
		req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)
		_, err := client.DoJSON(context.Background(), req, nil)
		srv.Close()
		if !clierr.Is(err, want) {
			t.Fatalf("status %d: expected code %d, got %v", status, want, err)
		}
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var count int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&count, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := New(2*time.Second, 0, WithBreaker(2, time.Minute))
	for i := 0; i < 4; i++ {
		req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)
		if _, err := client.DoJSON(context.Background(), req, nil); err == nil {
			t.Fatalf("call %d: expected error", i)
		}
	}
	if got := atomic.LoadInt32(&count); got != 2 {
		t.Fatalf("expected breaker to stop upstream calls after 2 failures, got %d calls", got)
	}
}

func TestBreakerIgnoresClientErrors(t *testing.T) {
	var count int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&count, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	client := New(2*time.Second, 0, WithBreaker(1, time.Minute))
	for i := 0; i < 3; i++ {
		req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)
		_, _ = client.DoJSON(context.Background(), req, nil)
	}
	if got := atomic.LoadInt32(&count); got != 3 {
		t.Fatalf("expected every call to reach upstream, got %d", got)
	}
}

func TestDefaultClientReachesRecoveredUpstream(t *testing.T) {
	var count int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&count, 1) <= DefaultBreakerFailures {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	client := New(2*time.Second, 0)
	for i := 0; i < DefaultBreakerFailures; i++ {
		req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)
		if _, err := client.DoJSON(context.Background(), req, nil); err == nil {
			t.Fatalf("call %d: expected error", i)
		}
	}

	var out struct {
		OK bool `json:"ok"`
	}
	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)
	if _, err := client.DoJSON(context.Background(), req, &out); err != nil {
		t.Fatalf("expected recovered upstream to be called, got %v", err)
	}
	if !out.OK || atomic.LoadInt32(&count) != DefaultBreakerFailures+1 {
		t.Fatalf("unexpected result ok=%v calls=%d", out.OK, atomic.LoadInt32(&count))
	}
}
