package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"foodshare-proxy/internal/config"
	"foodshare-proxy/internal/metrics"
)

func newTestClient(m *metrics.Metrics) *UpstreamClient {
	cfg := &config.Config{
		Proxy: config.ProxyConfig{IdleConnections: 10},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewUpstreamClient(cfg, logger, m)
}

func TestUpstreamClient_Do(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Store-Id") != "42" {
			t.Errorf("X-Store-Id = %q, want %q", r.Header.Get("X-Store-Id"), "42")
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	c := newTestClient(metrics.New())

	header := http.Header{"X-Store-Id": {"42"}}
	resp, err := c.Do(context.Background(), http.MethodGet, srv.URL+"/stores", header, nil, 5*time.Second)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(body) != `{"status":"ok"}` {
		t.Errorf("body = %q, want %q", string(body), `{"status":"ok"}`)
	}
}

func TestUpstreamClient_Do_Error(t *testing.T) {
	c := newTestClient(nil)

	_, err := c.Do(context.Background(), http.MethodGet, "http://127.0.0.1:1/nonexistent", http.Header{}, nil, time.Second)
	if err == nil {
		t.Fatal("Do() expected error for unreachable host, got nil")
	}
	if errors.Is(err, ErrAttemptTimeout) {
		t.Errorf("connection refusal should not be reported as a timeout: %v", err)
	}
}

func TestUpstreamClient_Do_CanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := newTestClient(nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	_, err := c.Do(ctx, http.MethodGet, srv.URL+"/slow", http.Header{}, nil, 30*time.Second)
	if err == nil {
		t.Fatal("Do() expected error for canceled context, got nil")
	}
}

func TestUpstreamClient_Do_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	c := newTestClient(metrics.New())

	start := time.Now()
	_, err := c.Do(context.Background(), http.MethodGet, srv.URL+"/never", http.Header{}, nil, 100*time.Millisecond)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrAttemptTimeout) {
		t.Fatalf("Do() error = %v, want ErrAttemptTimeout", err)
	}
	if elapsed > 3*time.Second {
		t.Errorf("attempt took %v, want it aborted near the 100ms timeout", elapsed)
	}
}

func TestUpstreamClient_Do_TimeoutDoesNotCutStreamedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		time.Sleep(300 * time.Millisecond)
		_, _ = w.Write([]byte("late chunk"))
	}))
	defer srv.Close()

	c := newTestClient(nil)

	resp, err := c.Do(context.Background(), http.MethodGet, srv.URL+"/stream", http.Header{}, nil, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(body) != "late chunk" {
		t.Errorf("body = %q, want %q", body, "late chunk")
	}
}

func TestUpstreamClient_Do_DoesNotFollowRedirects(t *testing.T) {
	var followed bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/target" {
			followed = true
			return
		}
		http.Redirect(w, r, "/target", http.StatusFound)
	}))
	defer srv.Close()

	c := newTestClient(nil)

	resp, err := c.Do(context.Background(), http.MethodGet, srv.URL+"/login", http.Header{}, nil, 5*time.Second)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusFound {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusFound)
	}
	if loc := resp.Header.Get("Location"); loc != "/target" {
		t.Errorf("Location = %q, want %q", loc, "/target")
	}
	if followed {
		t.Error("redirect target was requested; redirects must not be followed")
	}
}

func TestUpstreamClient_Do_KeepsContentEncoding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		_, _ = w.Write([]byte("not really gzip"))
	}))
	defer srv.Close()

	c := newTestClient(nil)

	resp, err := c.Do(context.Background(), http.MethodGet, srv.URL, http.Header{"Accept-Encoding": {"gzip"}}, nil, 5*time.Second)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.Header.Get("Content-Encoding") != "gzip" {
		t.Errorf("Content-Encoding = %q, want gzip", resp.Header.Get("Content-Encoding"))
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "not really gzip" {
		t.Errorf("body = %q, want raw bytes", body)
	}
}

func TestUpstreamClient_Do_SendsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		_, _ = w.Write(b)
	}))
	defer srv.Close()

	c := newTestClient(nil)

	resp, err := c.Do(context.Background(), http.MethodPost, srv.URL, http.Header{}, strings.NewReader("payload"), 5*time.Second)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "payload" {
		t.Errorf("echoed body = %q, want %q", body, "payload")
	}
}

func TestErrorReason(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		timedOut bool
		want     string
	}{
		{"timeout wins", context.Canceled, true, "timeout"},
		{"canceled", context.Canceled, false, "canceled"},
		{"deadline", context.DeadlineExceeded, false, "deadline"},
		{"other", errors.New("connection reset"), false, "connection"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorReason(tt.err, tt.timedOut); got != tt.want {
				t.Errorf("errorReason() = %q, want %q", got, tt.want)
			}
		})
	}
}
