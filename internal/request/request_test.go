package request

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"screepsapi/internal/discovery"
	"screepsapi/internal/models"
)

type recordingSink struct {
	mu       sync.Mutex
	outcomes []models.Outcome
}

func (s *recordingSink) Record(out models.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, out)
}

func (s *recordingSink) all() []models.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Outcome(nil), s.outcomes...)
}

func serverPort(t *testing.T, srv *httptest.Server) int {
	t.Helper()
	_, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return port
}

// privateBuilder points private targets at srv.
func privateBuilder(t *testing.T, srv *httptest.Server) *Builder {
	cell := discovery.NewHostCell()
	cell.Set("127.0.0.1")
	b := NewBuilder(cell)
	b.PrivatePort = serverPort(t, srv)
	return b
}

func TestBuildPublic(t *testing.T) {
	b := NewBuilder(discovery.NewHostCell())

	d, err := b.Build(models.Target{Kind: models.KindPublic}, "/api/stats/users", http.MethodGet, nil)
	require.NoError(t, err)

	assert.True(t, d.Secure)
	assert.Equal(t, "screeps.com", d.Host)
	assert.Equal(t, 443, d.Port)
	assert.Equal(t, "/api/stats/users", d.Path)
	assert.Equal(t, http.MethodGet, d.Method)
	assert.Equal(t, "{}", string(d.Body))
	assert.Equal(t, "application/json", d.Header.Get("Content-Type"))
	assert.Equal(t, "2", d.Header.Get("Content-Length"))
	assert.Empty(t, d.Header.Get("X-Username"))
	assert.Empty(t, d.Header.Get("X-Token"))
	assert.NotEmpty(t, d.ID)
}

func TestBuildPrivate(t *testing.T) {
	cell := discovery.NewHostCell()
	b := NewBuilder(cell)
	target := models.Target{Kind: models.KindPrivate, Username: "alice", Token: "tok"}

	_, err := b.Build(target, "/api/auth/me", http.MethodGet, nil)
	require.ErrorIs(t, err, ErrResolutionPending)

	cell.Set("host.docker.internal")
	d, err := b.Build(target, "/api/auth/me", http.MethodGet, nil)
	require.NoError(t, err)
	assert.False(t, d.Secure)
	assert.Equal(t, "host.docker.internal", d.Host)
	assert.Equal(t, 21025, d.Port)
	assert.Equal(t, "alice", d.Header.Get("X-Username"))
	assert.Equal(t, "tok", d.Header.Get("X-Token"))
}

func TestBuildContentLengthMatchesBody(t *testing.T) {
	b := NewBuilder(discovery.NewHostCell())
	bodies := []any{
		nil,
		map[string]string{"email": "alice", "password": "pässwörd"},
		[]int{1, 2, 3},
		"snowman ☃",
	}
	for _, body := range bodies {
		d, err := b.Build(models.Target{Kind: models.KindPublic}, "/x", http.MethodPost, body)
		require.NoError(t, err)
		assert.Equal(t, strconv.Itoa(len(d.Body)), d.Header.Get("Content-Length"))
	}
}

func TestBuildUnknownKind(t *testing.T) {
	b := NewBuilder(discovery.NewHostCell())
	_, err := b.Build(models.Target{Kind: "lan"}, "/x", http.MethodGet, nil)
	require.Error(t, err)
}

func TestExecutePublicJSON(t *testing.T) {
	var gotPath, gotMethod string
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotMethod = r.URL.Path, r.Method
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"users":5}`)
	}))
	defer srv.Close()

	core, logs := observer.New(zapcore.InfoLevel)
	sink := &recordingSink{}
	e, err := NewExecutor(zap.New(core), WithPublicClient(srv.Client()), WithSink(sink))
	require.NoError(t, err)

	b := NewBuilder(discovery.NewHostCell())
	b.PublicHost = "127.0.0.1"
	b.PublicPort = serverPort(t, srv)
	d, err := b.Build(models.Target{Kind: models.KindPublic}, "/api/stats/users", http.MethodGet, nil)
	require.NoError(t, err)

	out := e.Execute(context.Background(), d)
	require.True(t, out.OK())
	assert.Equal(t, models.OutcomeSuccess, out.Kind)
	assert.Equal(t, "/api/stats/users", gotPath)
	assert.Equal(t, http.MethodGet, gotMethod)
	assert.True(t, out.Response.JSON)
	assert.Equal(t, map[string]any{"users": float64(5)}, out.Response.Value)

	entries := logs.FilterMessage("request completed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.InDelta(t, 0.011, entries[0].ContextMap()["size_kb"], 0.0001)
	assert.Len(t, sink.all(), 1)
}

func TestExecutePrivateSendsHeadersAndBody(t *testing.T) {
	var gotHeader http.Header
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		io.WriteString(w, "plain text")
	}))
	defer srv.Close()

	e, err := NewExecutor(zap.NewNop())
	require.NoError(t, err)
	b := privateBuilder(t, srv)

	target := models.Target{Kind: models.KindPrivate, Username: "alice", Token: "tok"}
	d, err := b.Build(target, "/api/auth/signin", http.MethodPost, map[string]string{"email": "alice", "password": "pw"})
	require.NoError(t, err)

	out := e.Execute(context.Background(), d)
	require.True(t, out.OK())
	assert.False(t, out.Response.JSON)
	assert.Equal(t, "plain text", out.Response.Value)

	assert.Equal(t, "alice", gotHeader.Get("X-Username"))
	assert.Equal(t, "tok", gotHeader.Get("X-Token"))
	assert.Equal(t, d.ID, gotHeader.Get("X-Request-Id"))
	assert.Equal(t, strconv.Itoa(len(d.Body)), gotHeader.Get("Content-Length"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(gotBody, &body))
	assert.Equal(t, "pw", body["password"])
}

func TestExecuteTimeout(t *testing.T) {
	arrived := make(chan struct{}, 1)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		arrived <- struct{}{}
		select {
		case <-r.Context().Done():
		case <-release:
		}
		io.WriteString(w, `{"late":true}`)
	}))
	defer srv.Close()
	defer close(release)

	core, logs := observer.New(zapcore.InfoLevel)
	mock := clock.NewMock()
	sink := &recordingSink{}
	e, err := NewExecutor(zap.New(core), WithClock(mock), WithSink(sink))
	require.NoError(t, err)

	d, err := privateBuilder(t, srv).Build(models.Target{Kind: models.KindPrivate}, "/api/auth/me", http.MethodGet, nil)
	require.NoError(t, err)

	done := make(chan models.Outcome, 1)
	go func() { done <- e.Execute(context.Background(), d) }()

	select {
	case <-arrived:
	case <-time.After(5 * time.Second):
		t.Fatal("request never reached the server")
	}
	mock.Add(DefaultDeadline)

	var out models.Outcome
	select {
	case out = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("execute did not return after the deadline")
	}

	assert.Equal(t, models.OutcomeTimeout, out.Kind)
	require.ErrorIs(t, out.Err, ErrTimeout)
	assert.Nil(t, out.Response)
	assert.False(t, out.OK())

	timeouts := logs.FilterMessage("request timed out").All()
	require.Len(t, timeouts, 1)
	assert.Equal(t, zapcore.InfoLevel, timeouts[0].Level)
	assert.Zero(t, logs.FilterMessage("request completed").Len())
	assert.Len(t, sink.all(), 1)
}

func TestExecuteTransportError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	cell := discovery.NewHostCell()
	cell.Set("127.0.0.1")
	b := NewBuilder(cell)
	b.PrivatePort = port

	core, logs := observer.New(zapcore.InfoLevel)
	e, err := NewExecutor(zap.New(core))
	require.NoError(t, err)

	d, err := b.Build(models.Target{Kind: models.KindPrivate}, "/api/auth/me", http.MethodGet, nil)
	require.NoError(t, err)

	out := e.Execute(context.Background(), d)
	assert.Equal(t, models.OutcomeTransportError, out.Kind)
	var te *TransportError
	require.ErrorAs(t, out.Err, &te)
	assert.Equal(t, http.MethodGet, te.Method)

	failures := logs.FilterMessage("request failed").All()
	require.Len(t, failures, 1)
	assert.Equal(t, zapcore.ErrorLevel, failures[0].Level)
}

func TestExecuteRateLimited(t *testing.T) {
	const body = "Rate limit exceeded, try later"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, body)
	}))
	defer srv.Close()

	core, logs := observer.New(zapcore.InfoLevel)
	e, err := NewExecutor(zap.New(core))
	require.NoError(t, err)

	d, err := privateBuilder(t, srv).Build(models.Target{Kind: models.KindPrivate}, "/api/auth/me", http.MethodGet, nil)
	require.NoError(t, err)

	out := e.Execute(context.Background(), d)
	assert.Equal(t, models.OutcomeSuccess, out.Kind)
	assert.True(t, out.RateLimited)
	assert.Equal(t, body, out.Response.Text())

	limited := logs.FilterMessage("rate limited").All()
	require.Len(t, limited, 1)
	assert.Equal(t, zapcore.ErrorLevel, limited[0].Level)
	assert.Equal(t, body, limited[0].ContextMap()["data"])
	assert.Zero(t, logs.FilterMessage("request completed").Len())
}

func TestRequestMetadataRedactsToken(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	d, err := NewBuilder(discovery.NewHostCell()).Build(models.Target{Kind: models.KindPublic, Username: "bob", Token: "secret"}, "/api/auth/me", http.MethodGet, nil)
	require.NoError(t, err)

	zap.New(core).Info("meta", zap.Object("request", d))
	meta := logs.All()[0].ContextMap()["request"].(map[string]any)
	assert.Equal(t, "bob", meta["username"])
	assert.Equal(t, "[redacted]", meta["token"])
	assert.Equal(t, "screeps.com", meta["host"])
}

func TestRequestLogsNeverContainPassword(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"ok":1,"token":"tok-alice"}`)
	}))
	defer srv.Close()

	core, logs := observer.New(zapcore.DebugLevel)
	e, err := NewExecutor(zap.New(core))
	require.NoError(t, err)

	signin := map[string]string{"email": "alice", "password": "hunter2"}
	d, err := privateBuilder(t, srv).Build(models.Target{Kind: models.KindPrivate, Username: "alice"}, "/api/auth/signin", http.MethodPost, signin)
	require.NoError(t, err)
	require.True(t, e.Execute(context.Background(), d).OK())

	// Same body against a closed port exercises the failure entry.
	srv.Close()
	e.Execute(context.Background(), d)

	entries := logs.All()
	require.Len(t, entries, 2)
	for _, entry := range entries {
		b, err := json.Marshal(entry.ContextMap())
		require.NoError(t, err)
		assert.NotContains(t, string(b), "hunter2", entry.Message)
		meta := entry.ContextMap()["request"].(map[string]any)
		assert.EqualValues(t, len(d.Body), meta["body_bytes"])
	}
}

func TestExecuteRejectsOversizedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"data":"0123456789"}`)
	}))
	defer srv.Close()

	e, err := NewExecutor(zap.NewNop())
	require.NoError(t, err)
	e.maxBody = 8

	d, err := privateBuilder(t, srv).Build(models.Target{Kind: models.KindPrivate}, "/api/user/memory", http.MethodGet, nil)
	require.NoError(t, err)

	out := e.Execute(context.Background(), d)
	assert.Equal(t, models.OutcomeTransportError, out.Kind)
	assert.ErrorIs(t, out.Err, ErrBodyTooLarge)
	assert.Nil(t, out.Response)

	e.maxBody = int64(len(`{"data":"0123456789"}`))
	assert.True(t, e.Execute(context.Background(), d).OK(), "a body exactly at the limit is accepted")
}
