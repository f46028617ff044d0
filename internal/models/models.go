package models

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap/zapcore"
)

// TargetKind selects which server class a request is addressed to.
type TargetKind string

const (
	// KindPublic is the vendor-hosted cloud server at a fixed address.
	KindPublic TargetKind = "public"
	// KindPrivate is a self-hosted server whose address is discovered at runtime.
	KindPrivate TargetKind = "private"
)

// Target describes who a request is made for and where it goes.
// Username and Token are optional; empty values are not sent.
type Target struct {
	Kind     TargetKind `json:"kind"`
	Username string     `json:"username,omitempty"`
	Token    string     `json:"-"`
}

// RequestDescriptor is a fully resolved request. It is built fresh for every call.
type RequestDescriptor struct {
	ID     string
	Kind   TargetKind
	Secure bool
	Host   string
	Port   int
	Path   string
	Method string
	Header http.Header
	Body   []byte
}

// MarshalLogObject writes the request metadata. The token is redacted and only the
// body size is written, since sign-in bodies carry the password.
func (d *RequestDescriptor) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("id", d.ID)
	enc.AddString("kind", string(d.Kind))
	enc.AddString("host", d.Host)
	enc.AddInt("port", d.Port)
	enc.AddString("path", d.Path)
	enc.AddString("method", d.Method)
	if u := d.Header.Get("X-Username"); u != "" {
		enc.AddString("username", u)
	}
	if d.Header.Get("X-Token") != "" {
		enc.AddString("token", "[redacted]")
	}
	enc.AddInt("body_bytes", len(d.Body))
	return nil
}

// Response is a completed HTTP exchange. Value holds the parsed JSON body when the
// body is valid JSON, and the body text otherwise.
type Response struct {
	StatusCode int    `json:"status_code"`
	Raw        []byte `json:"-"`
	Value      any    `json:"value"`
	JSON       bool   `json:"json"`
}

// Text returns the body as a string.
func (r *Response) Text() string { return string(r.Raw) }

// Decode unmarshals the raw body into v.
func (r *Response) Decode(v any) error { return json.Unmarshal(r.Raw, v) }

// Field returns a top-level field of a JSON object body.
func (r *Response) Field(name string) (any, bool) {
	obj, ok := r.Value.(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok := obj[name]
	return v, ok
}

// OutcomeKind classifies how a bounded request ended.
type OutcomeKind string

const (
	OutcomeSuccess        OutcomeKind = "success"
	OutcomeTimeout        OutcomeKind = "timeout"
	OutcomeTransportError OutcomeKind = "transport_error"
)

// Outcome is the result of executing a RequestDescriptor.
type Outcome struct {
	Kind        OutcomeKind
	Request     *RequestDescriptor
	Response    *Response // Set only for OutcomeSuccess
	Err         error     // Set for OutcomeTimeout and OutcomeTransportError
	RateLimited bool
	StartedAt   time.Time
	Latency     time.Duration
}

// OK reports whether the outcome carries a response.
func (o Outcome) OK() bool { return o.Kind == OutcomeSuccess && o.Response != nil }

// RequestRecord is the persisted form of an Outcome.
type RequestRecord struct {
	ID          string      `json:"id"`
	RequestID   string      `json:"request_id"`
	TargetKind  TargetKind  `json:"target_kind"`
	Method      string      `json:"method"`
	Host        string      `json:"host"`
	Path        string      `json:"path"`
	Outcome     OutcomeKind `json:"outcome"`
	StatusCode  *int        `json:"status_code"` // Pointer to allow for null on timeouts and network errors
	SizeBytes   int64       `json:"size_bytes"`
	RateLimited bool        `json:"rate_limited"`
	Error       *string     `json:"error"`
	LatencyMS   int64       `json:"latency_ms"`
	StartedAt   time.Time   `json:"started_at"`
}

// Snapshot is the latest decoded memory payload fetched for a user and shard.
type Snapshot struct {
	Username  string          `json:"username"`
	Shard     string          `json:"shard"`
	Path      string          `json:"path"`
	Data      json.RawMessage `json:"data"`
	FetchedAt time.Time       `json:"fetched_at"`
}
