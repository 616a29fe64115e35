// Package model defines shared types for the proxy.
package model

import (
	"io"
	"net/http"
)

// ProxyRequest represents a client request to be forwarded upstream.
type ProxyRequest struct {
	Method string
	// Segments are the escaped path segments after the proxy prefix.
	Segments []string
	// RawQuery is the inbound query string without the leading '?', as received.
	RawQuery string
	Header   http.Header
	Body     io.Reader
}

// ProxyResponse represents the upstream response to be streamed back.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}
