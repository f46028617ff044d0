package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// RoundObserver is notified after every probe round.
type RoundObserver interface {
	ObserveProbeRound(found bool)
}

// ResolverConfig controls the probing loop.
type ResolverConfig struct {
	Candidates []string
	Port       int
	Timeout    time.Duration // Per-round dial timeout
	Interval   time.Duration // Wait between unsuccessful rounds
	MaxRounds  int           // Zero means retry until resolved or cancelled
}

// Resolver runs probe rounds until the private host is known.
type Resolver struct {
	cfg      ResolverConfig
	prober   *Prober
	cell     *HostCell
	clock    clock.Clock
	observer RoundObserver
	log      *zap.Logger
}

// NewResolver creates a Resolver that stores its result in cell.
func NewResolver(cfg ResolverConfig, prober *Prober, cell *HostCell, log *zap.Logger) *Resolver {
	return &Resolver{
		cfg:    cfg,
		prober: prober,
		cell:   cell,
		clock:  clock.New(),
		log:    log,
	}
}

// WithClock replaces the clock used for the wait between rounds.
func (r *Resolver) WithClock(c clock.Clock) *Resolver {
	r.clock = c
	return r
}

// WithObserver registers an observer for probe rounds.
func (r *Resolver) WithObserver(o RoundObserver) *Resolver {
	r.observer = o
	return r
}

// Run probes until a host is resolved, ctx is cancelled, or MaxRounds is exhausted.
// It returns immediately when the cell is already set.
func (r *Resolver) Run(ctx context.Context) error {
	for round := 1; ; round++ {
		if host, ok := r.cell.Get(); ok {
			r.log.Debug("private host already resolved", zap.String("host", host))
			return nil
		}

		host, err := r.prober.Probe(ctx, r.cfg.Candidates, r.cfg.Port, r.cfg.Timeout)
		if r.observer != nil {
			r.observer.ObserveProbeRound(err == nil)
		}
		if err == nil {
			if r.cell.Set(host) {
				r.log.Info("resolved private host", zap.String("host", host), zap.Int("port", r.cfg.Port), zap.Int("round", round))
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		r.log.Info("no private host found", zap.Strings("candidates", r.cfg.Candidates), zap.Int("round", round), zap.Error(err))
		if r.cfg.MaxRounds > 0 && round >= r.cfg.MaxRounds {
			return fmt.Errorf("giving up after %d rounds: %w", round, ErrNoHostFound)
		}

		timer := r.clock.Timer(r.cfg.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
