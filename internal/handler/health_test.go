package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"foodshare-proxy/internal/config"
	"foodshare-proxy/internal/gateway"
)

func newTestGateway(baseURL string) *gateway.Client {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return gateway.New(gateway.Config{BaseURL: baseURL, Timeout: time.Second}, logger, nil)
}

func TestHealthz(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := NewHealthHandler(&config.Config{}, "test", nil)
	if err := h.Healthz(c); err != nil {
		t.Fatalf("Healthz() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q, want %q", body["status"], "ok")
	}
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		name         string
		backendCode  int
		wantCode     int
		wantStatus   string
		wantHitsPath string
	}{
		{"backend healthy", http.StatusOK, http.StatusOK, "ok", "/health"},
		{"backend failing", http.StatusInternalServerError, http.StatusServiceUnavailable, "unavailable", "/health"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotPath string
			backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotPath = r.URL.Path
				w.WriteHeader(tt.backendCode)
			}))
			defer backend.Close()

			cfg := &config.Config{Gateway: config.GatewayConfig{HealthPath: "/health"}}
			h := NewHealthHandler(cfg, "test", newTestGateway(backend.URL))

			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/readyz", http.NoBody)
			rec := httptest.NewRecorder()
			if err := h.Readyz(e.NewContext(req, rec)); err != nil {
				t.Fatalf("Readyz() error = %v", err)
			}

			if rec.Code != tt.wantCode {
				t.Errorf("status code = %d, want %d", rec.Code, tt.wantCode)
			}
			if gotPath != tt.wantHitsPath {
				t.Errorf("backend path = %q, want %q", gotPath, tt.wantHitsPath)
			}

			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if body["status"] != tt.wantStatus {
				t.Errorf("status = %q, want %q", body["status"], tt.wantStatus)
			}
		})
	}
}

func TestReadyz_NoGateway(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/readyz", http.NoBody)
	rec := httptest.NewRecorder()

	h := NewHealthHandler(&config.Config{}, "test", nil)
	if err := h.Readyz(e.NewContext(req, rec)); err != nil {
		t.Fatalf("Readyz() error = %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestStatus(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/proxy/status", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	retries := 2
	cfg := &config.Config{
		Proxy: config.ProxyConfig{
			Upstreams:  []string{"https://a.example.com", "https://b.example.com"},
			TimeoutMS:  8000,
			MaxRetries: &retries,
		},
		Gateway: config.GatewayConfig{BaseURL: "https://api.foodshare.app"},
	}
	h := NewHealthHandler(cfg, "1.2.3", nil)
	if err := h.Status(c); err != nil {
		t.Fatalf("Status() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body struct {
		Status     string   `json:"status"`
		Version    string   `json:"version"`
		Upstreams  []string `json:"upstreams"`
		TimeoutMS  int      `json:"timeout_ms"`
		MaxRetries int      `json:"max_retries"`
		GatewayURL string   `json:"gateway_url"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
	if body.Version != "1.2.3" {
		t.Errorf("version = %q, want %q", body.Version, "1.2.3")
	}
	if len(body.Upstreams) != 2 {
		t.Errorf("upstreams = %v, want 2 entries", body.Upstreams)
	}
	if body.TimeoutMS != 8000 || body.MaxRetries != 2 {
		t.Errorf("timeout_ms/max_retries = %d/%d, want 8000/2", body.TimeoutMS, body.MaxRetries)
	}
	if body.GatewayURL != "https://api.foodshare.app" {
		t.Errorf("gateway_url = %q, want %q", body.GatewayURL, "https://api.foodshare.app")
	}
}
