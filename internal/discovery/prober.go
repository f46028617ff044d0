package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ErrNoHostFound is returned when no candidate accepted a connection.
var ErrNoHostFound = errors.New("no private host found")

// Dialer opens network connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Prober looks for a reachable host among a set of candidates.
type Prober struct {
	dialer Dialer
	log    *zap.Logger
}

// NewProber creates a Prober. A nil dialer uses a zero net.Dialer.
func NewProber(dialer Dialer, log *zap.Logger) *Prober {
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	return &Prober{dialer: dialer, log: log}
}

type probeResult struct {
	host string
	err  error
}

// Probe dials every candidate on port concurrently and returns the first host that
// accepts a TCP connection. Connections are closed as soon as they are established.
// Once a winner is known the remaining dials are cancelled.
func (p *Prober) Probe(ctx context.Context, candidates []string, port int, timeout time.Duration) (string, error) {
	if len(candidates) == 0 {
		return "", ErrNoHostFound
	}

	roundCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results := make(chan probeResult, len(candidates))
	for _, host := range candidates {
		go func(host string) {
			addr := net.JoinHostPort(host, strconv.Itoa(port))
			conn, err := p.dialer.DialContext(roundCtx, "tcp", addr)
			if err != nil {
				results <- probeResult{host: host, err: fmt.Errorf("%s: %w", addr, err)}
				return
			}
			conn.Close()
			results <- probeResult{host: host}
		}(host)
	}

	var errs error
	for range candidates {
		r := <-results
		if r.err == nil {
			return r.host, nil
		}
		p.log.Debug("probe attempt failed", zap.String("host", r.host), zap.Error(r.err))
		errs = multierr.Append(errs, r.err)
	}
	return "", fmt.Errorf("%w: %w", ErrNoHostFound, errs)
}
