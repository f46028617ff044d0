// Package poller periodically collects memory snapshots and global stats
// through the API client and stores them.
package poller

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"screepsapi/internal/config"
	"screepsapi/internal/models"
	"screepsapi/internal/storage"
)

const (
	// GlobalUsername is the username global stats snapshots are stored under.
	GlobalUsername = "_global"
	// DefaultInterval replaces a non-positive poll interval.
	DefaultInterval = 60 * time.Second
)

// HostGetter reports the resolved private host. *discovery.HostCell satisfies it.
type HostGetter interface {
	Get() (string, bool)
}

// Poller is responsible for periodically scheduling stats collection.
type Poller struct {
	fetcher      Fetcher
	store        storage.Storer
	pool         *WorkerPool
	users        []config.User
	hosts        HostGetter
	interval     time.Duration
	globalStats  bool
	log          *zap.Logger
	stopChan     chan struct{}
	wg           sync.WaitGroup
	globalCtx    context.Context
	globalCancel context.CancelFunc
}

// Options configure a Poller.
type Options struct {
	Users            []config.User
	Interval         time.Duration
	MaxConcurrency   int
	FetchGlobalStats bool

	// Hosts gates private users: they are skipped until it reports a host. Nil disables the gate.
	Hosts HostGetter
}

// New creates a new Poller.
func New(fetcher Fetcher, store storage.Storer, opts Options, log *zap.Logger) *Poller {
	if opts.MaxConcurrency < 1 {
		opts.MaxConcurrency = 1
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		fetcher:      fetcher,
		store:        store,
		pool:         NewWorkerPool(fetcher, store, opts.MaxConcurrency, log),
		users:        opts.Users,
		hosts:        opts.Hosts,
		interval:     opts.Interval,
		globalStats:  opts.FetchGlobalStats,
		log:          log,
		stopChan:     make(chan struct{}),
		globalCtx:    ctx,
		globalCancel: cancel,
	}
}

// Start begins the periodic collection process.
func (p *Poller) Start() {
	p.log.Info("starting stats poller", zap.Duration("interval", p.interval), zap.Int("users", len(p.users)))
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		// Collect once on startup
		p.schedule()

		for {
			select {
			case <-ticker.C:
				p.schedule()
			case <-p.stopChan:
				p.log.Info("stopping stats poller...")
				p.pool.Stop()
				return
			}
		}
	}()
}

// Stop gracefully shuts down the poller and its worker pool.
func (p *Poller) Stop() {
	p.globalCancel()
	close(p.stopChan)
	p.wg.Wait()
	p.pool.Stop()
	p.log.Info("stats poller stopped")
}

// schedule dispatches every configured user to the worker pool and, when enabled,
// collects the global stats.
func (p *Poller) schedule() {
	submitted := 0
	for _, u := range p.users {
		if u.Kind() == models.KindPrivate && !p.hostResolved() {
			p.log.Debug("private host not resolved, skipping user", zap.String("username", u.Username))
			continue
		}
		p.pool.Submit(u)
		submitted++
	}
	if submitted > 0 {
		p.log.Debug("submitted users for collection", zap.Int("count", submitted))
	}
	if p.globalStats {
		if err := p.collectGlobal(p.globalCtx); err != nil {
			p.log.Error("error saving global stats", zap.Error(err))
		}
	}
}

func (p *Poller) hostResolved() bool {
	if p.hosts == nil {
		return true
	}
	_, ok := p.hosts.Get()
	return ok
}

// collectGlobal fetches the user and room object stats of the public server concurrently.
// A failed fetch is skipped; only storage errors are returned.
func (p *Poller) collectGlobal(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	fetches := map[string]func(context.Context) *models.Response{
		"users": p.fetcher.FetchGlobalUserStats,
		"rooms": p.fetcher.FetchGlobalRoomObjects,
	}
	for shard, fetch := range fetches {
		g.Go(func() error {
			resp := fetch(ctx)
			if resp == nil || !resp.JSON {
				return nil
			}
			raw, err := json.Marshal(resp.Value)
			if err != nil {
				return err
			}
			return p.store.SaveSnapshot(ctx, &models.Snapshot{
				Username:  GlobalUsername,
				Shard:     shard,
				Data:      raw,
				FetchedAt: time.Now().UTC(),
			})
		})
	}
	return g.Wait()
}
