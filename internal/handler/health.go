package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"foodshare-proxy/internal/config"
	"foodshare-proxy/internal/gateway"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
	gateway *gateway.Client
}

// NewHealthHandler creates a HealthHandler. The gateway is used by Readyz
// to reach the backend directly; it may be nil, in which case Readyz
// always reports ready.
func NewHealthHandler(cfg *config.Config, v Version, gw *gateway.Client) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v, gateway: gw}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Readyz checks that the backend answers on its health path.
func (h *HealthHandler) Readyz(c echo.Context) error {
	if h.gateway == nil {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	}

	if _, err := h.gateway.Get(c.Request().Context(), h.cfg.Gateway.HealthPath, nil); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  sanitizeError(err),
		})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// Status returns proxy status information.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":      "ok",
		"version":     string(h.version),
		"upstreams":   h.cfg.Proxy.Upstreams,
		"timeout_ms":  h.cfg.Proxy.TimeoutMS,
		"max_retries": h.cfg.Proxy.Retries(),
		"gateway_url": h.cfg.Gateway.BaseURL,
	})
}
