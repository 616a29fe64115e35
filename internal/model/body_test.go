package model

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestClassifyBody(t *testing.T) {
	tests := []struct {
		contentType string
		want        BodyKind
	}{
		{"application/json", BodyJSON},
		{"application/json; charset=utf-8", BodyJSON},
		{"Application/JSON", BodyJSON},
		{"application/problem+json", BodyJSON},
		{"application/x-www-form-urlencoded", BodyForm},
		{"multipart/form-data; boundary=abc", BodyMultipart},
		{"multipart/mixed; boundary=xyz", BodyMultipart},
		{"application/octet-stream", BodyBinary},
		{"image/png", BodyBinary},
		{"text/plain", BodyBinary},
		{"", BodyBinary},
		{"multipart/form-data; boundary=", BodyMultipart},
	}

	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			if got := ClassifyBody(tt.contentType); got != tt.want {
				t.Errorf("ClassifyBody(%q) = %v, want %v", tt.contentType, got, tt.want)
			}
		})
	}
}

func TestBodyKind_IsText(t *testing.T) {
	for kind, want := range map[BodyKind]bool{
		BodyJSON:      true,
		BodyForm:      true,
		BodyMultipart: false,
		BodyBinary:    false,
	} {
		if got := kind.IsText(); got != want {
			t.Errorf("%v.IsText() = %v, want %v", kind, got, want)
		}
	}
}

func TestReadPayload_Replayable(t *testing.T) {
	raw := []byte{0x00, 0xff, 0xfe, '\r', '\n', 0x80}
	p, err := ReadPayload(bytes.NewReader(raw), "application/octet-stream")
	if err != nil {
		t.Fatalf("ReadPayload() error = %v", err)
	}
	if p.Kind != BodyBinary {
		t.Errorf("Kind = %v, want %v", p.Kind, BodyBinary)
	}

	for i := range 2 {
		got, err := io.ReadAll(p.Reader())
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if !bytes.Equal(got, raw) {
			t.Errorf("read %d = %v, want %v", i, got, raw)
		}
	}
}

func TestReadPayload_Empty(t *testing.T) {
	p, err := ReadPayload(strings.NewReader(""), "application/json")
	if err != nil {
		t.Fatalf("ReadPayload() error = %v", err)
	}
	if p.Reader() != nil {
		t.Error("Reader() should be nil for an empty payload")
	}
	if p.Len() != 0 {
		t.Errorf("Len() = %d, want 0", p.Len())
	}

	p, err = ReadPayload(nil, "")
	if err != nil {
		t.Fatalf("ReadPayload(nil) error = %v", err)
	}
	if p.Reader() != nil {
		t.Error("Reader() should be nil for a nil body")
	}
}
