package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/labstack/echo/v4"

	"foodshare-proxy/internal/client"
	"foodshare-proxy/internal/config"
	"foodshare-proxy/internal/model"
	"foodshare-proxy/internal/service"
	"foodshare-proxy/internal/upstream"
)

// secretParamPattern matches credential-like query parameter values in URLs embedded in error messages.
var secretParamPattern = regexp.MustCompile(`(?i)((?:access_token|token|api_?key|signature)=)[^&\s"]+`)

// FailureEnvelope is the body of a 502 returned when no upstream produced a response.
type FailureEnvelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// ProxyHandler forwards requests under the proxy prefix to the upstream pool.
type ProxyHandler struct {
	service *service.ProxyService
	prefix  string
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, cfg *config.Config, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		prefix:  cfg.Proxy.PathPrefix,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle proxies the request upstream and streams the response back unchanged.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	pr := &model.ProxyRequest{
		Method:   req.Method,
		Segments: pathSegments(req.URL.EscapedPath(), h.prefix),
		RawQuery: req.URL.RawQuery,
		Header:   req.Header,
		Body:     req.Body,
	}

	resp, err := h.service.Forward(req.Context(), pr)
	if err != nil {
		return h.writeFailure(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Upstream headers replace anything set locally (e.g. X-Request-Id).
	dst := c.Response().Header()
	for key, vals := range resp.Header {
		dst[key] = vals
	}

	c.Response().WriteHeader(resp.StatusCode)

	// Stream the upstream body directly to the client, flushing each chunk.
	// If the copy fails mid-stream (e.g. client disconnect), the status code
	// has already been sent, so the client receives a truncated response.
	if _, err := io.Copy(flushWriter{c.Response()}, resp.Body); err != nil {
		h.logger.Error("streaming response body",
			"err", err,
			"path", req.URL.Path,
		)
	}

	return nil
}

func (h *ProxyHandler) writeFailure(c echo.Context, err error) error {
	h.logger.Error("proxy error",
		"err", sanitizeError(err),
		"path", c.Request().URL.Path,
	)
	return c.JSON(http.StatusBadGateway, FailureEnvelope{Success: false, Error: publicError(err)})
}

// publicError reduces a Forward error to a message that names no upstream
// host or URL. The full error is only logged.
func publicError(err error) string {
	switch {
	case errors.Is(err, upstream.ErrEmptyPool):
		return upstream.ErrEmptyPool.Error()
	case errors.Is(err, service.ErrRequestBody):
		return "invalid request body"
	case errors.Is(err, client.ErrAttemptTimeout):
		return client.ErrAttemptTimeout.Error()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "request canceled"
	default:
		return "upstream unreachable"
	}
}

// pathSegments returns the non-empty escaped segments of path after prefix.
func pathSegments(escapedPath, prefix string) []string {
	rest := strings.TrimPrefix(escapedPath, prefix)
	parts := strings.Split(rest, "/")
	segments := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			segments = append(segments, p)
		}
	}
	return segments
}

// sanitizeError redacts credentials from error messages that may contain upstream URLs.
func sanitizeError(err error) string {
	return secretParamPattern.ReplaceAllString(err.Error(), "${1}[REDACTED]")
}

// flushWriter flushes after every write so streamed bodies are not held back.
type flushWriter struct {
	res *echo.Response
}

func (w flushWriter) Write(p []byte) (int, error) {
	n, err := w.res.Write(p)
	if err == nil {
		if f, ok := w.res.Writer.(http.Flusher); ok {
			f.Flush()
		}
	}
	return n, err
}
