// Package envelope decodes the compressed payload envelope used by the memory
// endpoint: a 3-character tag followed by base64 of compressed JSON.
//
// The tag is skipped by length only. Its content is never checked.
package envelope

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
)

// TagLen is the number of leading characters (not bytes) discarded before decoding.
const TagLen = 3

// ErrDecode matches every *DecodeError via errors.Is.
var ErrDecode = errors.New("envelope decode failed")

// DecodeError reports which decoding stage rejected the envelope.
type DecodeError struct {
	Stage string // field, tag, base64, decompress, utf8, json
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("envelope %s: %v", e.Stage, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// Decode strips the tag, base64-decodes and decompresses the remainder, and parses
// the result as JSON.
func Decode(s string) (any, error) {
	raw, err := DecodeRaw(s)
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, &DecodeError{Stage: "json", Err: err}
	}
	return v, nil
}

// DecodeRaw is Decode without the final JSON parse. The returned bytes are valid UTF-8.
func DecodeRaw(s string) ([]byte, error) {
	body, ok := stripTag(s)
	if !ok {
		return nil, &DecodeError{Stage: "tag", Err: fmt.Errorf("envelope shorter than %d characters", TagLen)}
	}
	compressed, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return nil, &DecodeError{Stage: "base64", Err: err}
	}
	raw, err := decompress(compressed)
	if err != nil {
		return nil, &DecodeError{Stage: "decompress", Err: err}
	}
	if !utf8.Valid(raw) {
		return nil, &DecodeError{Stage: "utf8", Err: errors.New("payload is not valid UTF-8")}
	}
	return raw, nil
}

// stripTag drops the first TagLen runes. A tag character outside the BMP counts as one.
func stripTag(s string) (string, bool) {
	n := 0
	for i := range s {
		if n == TagLen {
			return s[i:], true
		}
		n++
	}
	return "", n == TagLen
}

// decompress accepts gzip, zlib or raw DEFLATE data.
func decompress(b []byte) ([]byte, error) {
	var r io.ReadCloser
	var err error
	switch {
	case len(b) >= 2 && b[0] == 0x1f && b[1] == 0x8b:
		r, err = gzip.NewReader(bytes.NewReader(b))
	case isZlibHeader(b):
		r, err = zlib.NewReader(bytes.NewReader(b))
	default:
		r = flate.NewReader(bytes.NewReader(b))
	}
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// isZlibHeader checks the RFC 1950 header: deflate method and a valid check value.
func isZlibHeader(b []byte) bool {
	if len(b) < 2 {
		return false
	}
	return b[0]&0x0f == 8 && (uint16(b[0])<<8|uint16(b[1]))%31 == 0
}

// Encode produces an envelope for v with the given tag, using gzip like the server does.
func Encode(tag string, v any) (string, error) {
	if utf8.RuneCountInString(tag) != TagLen {
		return "", fmt.Errorf("tag must be %d characters, got %q", TagLen, tag)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return "", fmt.Errorf("failed to compress payload: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("failed to compress payload: %w", err)
	}
	return tag + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
