package model

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"strings"
)

// BodyKind is the category of a request body, decided from its Content-Type.
type BodyKind int

const (
	// BodyBinary is anything not recognised below, including a missing Content-Type.
	BodyBinary BodyKind = iota
	BodyJSON
	BodyForm
	BodyMultipart
)

func (k BodyKind) String() string {
	switch k {
	case BodyJSON:
		return "json"
	case BodyForm:
		return "form"
	case BodyMultipart:
		return "multipart"
	case BodyBinary:
		return "binary"
	default:
		return fmt.Sprintf("BodyKind(%d)", int(k))
	}
}

// IsText reports whether the body is textual (JSON or urlencoded form).
func (k BodyKind) IsText() bool {
	return k == BodyJSON || k == BodyForm
}

// ClassifyBody maps a Content-Type header value to a BodyKind.
func ClassifyBody(contentType string) BodyKind {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		// Fall back to the bare type before any parameters.
		mt = strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	}

	switch {
	case mt == "application/json", strings.HasSuffix(mt, "+json"):
		return BodyJSON
	case mt == "application/x-www-form-urlencoded":
		return BodyForm
	case strings.HasPrefix(mt, "multipart/"):
		return BodyMultipart
	default:
		return BodyBinary
	}
}

// Payload is a fully read request body that can be replayed for every attempt.
type Payload struct {
	Kind BodyKind
	data []byte
}

// ReadPayload drains r into a replayable payload tagged with the kind of contentType.
// Every kind is kept as raw bytes so multipart boundaries and binary content
// reach the upstream unchanged.
func ReadPayload(r io.Reader, contentType string) (*Payload, error) {
	kind := ClassifyBody(contentType)
	if r == nil {
		return &Payload{Kind: kind}, nil
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s body: %w", kind, err)
	}
	return &Payload{Kind: kind, data: data}, nil
}

// Reader returns a fresh reader over the payload, or nil when it is empty.
func (p *Payload) Reader() io.Reader {
	if p == nil || len(p.data) == 0 {
		return nil
	}
	return bytes.NewReader(p.data)
}

// Len returns the payload size in bytes.
func (p *Payload) Len() int {
	if p == nil {
		return 0
	}
	return len(p.data)
}

// Bytes returns the raw payload.
func (p *Payload) Bytes() []byte {
	if p == nil {
		return nil
	}
	return p.data
}
