package request

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"screepsapi/internal/models"
	"screepsapi/internal/urlutil"
)

const (
	// DefaultDeadline bounds every request from send to fully read body.
	DefaultDeadline = 10 * time.Second
	// RateLimitMarker prefixes the body the server sends when it throttles a client.
	RateLimitMarker = "Rate limit exceeded"

	maxBodyBytes = 64 << 20
)

// ErrBodyTooLarge is wrapped by the transport error of a response whose body exceeds the read limit.
var ErrBodyTooLarge = errors.New("response body too large")

// OutcomeSink receives every classified outcome. Record must not block.
type OutcomeSink interface {
	Record(out models.Outcome)
}

// Executor sends request descriptors under a fixed deadline.
type Executor struct {
	public   *http.Client
	private  *http.Client
	deadline time.Duration
	maxBody  int64
	clock    clock.Clock
	sinks    []OutcomeSink
	log      *zap.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithPublicClient overrides the client used for secure (public) requests.
func WithPublicClient(c *http.Client) Option { return func(e *Executor) { e.public = c } }

// WithPrivateClient overrides the client used for plain (private) requests.
func WithPrivateClient(c *http.Client) Option { return func(e *Executor) { e.private = c } }

// WithDeadline overrides DefaultDeadline.
func WithDeadline(d time.Duration) Option { return func(e *Executor) { e.deadline = d } }

// WithClock replaces the clock driving the deadline timer.
func WithClock(c clock.Clock) Option { return func(e *Executor) { e.clock = c } }

// WithSink adds an outcome sink.
func WithSink(s OutcomeSink) Option { return func(e *Executor) { e.sinks = append(e.sinks, s) } }

// NewExecutor creates an Executor. Without overrides it uses NewPublicClient and
// NewPrivateClient.
func NewExecutor(log *zap.Logger, opts ...Option) (*Executor, error) {
	e := &Executor{
		deadline: DefaultDeadline,
		maxBody:  maxBodyBytes,
		clock:    clock.New(),
		log:      log,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.public == nil {
		c, err := NewPublicClient()
		if err != nil {
			return nil, err
		}
		e.public = c
	}
	if e.private == nil {
		e.private = NewPrivateClient()
	}
	return e, nil
}

type exchangeResult struct {
	resp *models.Response
	err  error
}

// Execute performs the request and races it against the deadline. The outcome is
// classified and logged exactly once before it is returned. A request that loses
// the race is cancelled.
func (e *Executor) Execute(ctx context.Context, d *models.RequestDescriptor) models.Outcome {
	start := e.clock.Now()
	timer := e.clock.Timer(e.deadline)
	defer timer.Stop()

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan exchangeResult, 1)
	go func() {
		resp, err := e.exchange(reqCtx, d)
		results <- exchangeResult{resp: resp, err: err}
	}()

	out := models.Outcome{Request: d, StartedAt: start}
	select {
	case r := <-results:
		if r.err != nil {
			out.Kind = models.OutcomeTransportError
			out.Err = r.err
		} else {
			out.Kind = models.OutcomeSuccess
			out.Response = r.resp
			out.RateLimited = isRateLimited(r.resp)
		}
	case <-timer.C:
		cancel()
		out.Kind = models.OutcomeTimeout
		out.Err = ErrTimeout
	}
	out.Latency = e.clock.Since(start)

	e.classify(out)
	return out
}

func (e *Executor) exchange(ctx context.Context, d *models.RequestDescriptor) (*models.Response, error) {
	target, err := urlutil.RequestURL(d.Secure, d.Host, d.Port, d.Path)
	if err != nil {
		return nil, &TransportError{Method: d.Method, URL: d.Path, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, d.Method, target, bytes.NewReader(d.Body))
	if err != nil {
		return nil, &TransportError{Method: d.Method, URL: target, Err: err}
	}
	for name, values := range d.Header {
		req.Header[name] = append([]string(nil), values...)
	}
	req.Header.Set("X-Request-Id", d.ID)

	client := e.private
	if d.Secure {
		client = e.public
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &TransportError{Method: d.Method, URL: target, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, e.maxBody+1))
	if err != nil {
		return nil, &TransportError{Method: d.Method, URL: target, Err: fmt.Errorf("reading body: %w", err)}
	}
	if int64(len(raw)) > e.maxBody {
		return nil, &TransportError{Method: d.Method, URL: target, Err: fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, e.maxBody)}
	}
	return parseBody(resp.StatusCode, raw), nil
}

// parseBody keeps the parsed JSON when the body is JSON and the text otherwise.
func parseBody(status int, raw []byte) *models.Response {
	r := &models.Response{StatusCode: status, Raw: raw}
	var v any
	if err := json.Unmarshal(raw, &v); err == nil {
		r.Value = v
		r.JSON = true
	} else {
		r.Value = string(raw)
	}
	return r
}

func isRateLimited(r *models.Response) bool {
	s, ok := r.Value.(string)
	return ok && strings.HasPrefix(s, RateLimitMarker)
}

func (e *Executor) classify(out models.Outcome) {
	meta := zap.Object("request", out.Request)
	switch {
	case out.Kind == models.OutcomeTimeout:
		e.log.Info("request timed out", meta, zap.Duration("deadline", e.deadline))
	case out.Kind == models.OutcomeTransportError:
		e.log.Error("request failed", meta, zap.Error(out.Err))
	case out.RateLimited:
		e.log.Error("rate limited", meta, zap.String("data", out.Response.Text()), zap.Int("status", out.Response.StatusCode))
	default:
		e.log.Info("request completed", meta,
			zap.Float64("size_kb", float64(len(out.Response.Raw))/1000),
			zap.Int("status", out.Response.StatusCode),
			zap.Duration("latency", out.Latency))
	}
	for _, s := range e.sinks {
		s.Record(out)
	}
}
