package poller

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"screepsapi/internal/config"
	"screepsapi/internal/models"
	"screepsapi/internal/storage"
)

// Fetcher is the subset of the API client used by the poller. *screeps.Client satisfies it.
type Fetcher interface {
	Authenticate(ctx context.Context, username, password string) (string, bool)
	FetchMemorySnapshot(ctx context.Context, target models.Target, shard, path string) (any, error)
	FetchGlobalUserStats(ctx context.Context) *models.Response
	FetchGlobalRoomObjects(ctx context.Context) *models.Response
}

// WorkerPool manages a pool of goroutines that collect stats for users concurrently.
type WorkerPool struct {
	fetcher  Fetcher
	store    storage.Storer
	jobs     chan config.User
	limiter  *UserLimiter
	log      *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(fetcher Fetcher, store storage.Storer, maxConcurrency int, log *zap.Logger) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())
	pool := &WorkerPool{
		fetcher: fetcher,
		store:   store,
		jobs:    make(chan config.User, maxConcurrency*2),
		limiter: NewUserLimiter(),
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
	}

	pool.startWorkers(maxConcurrency)
	return pool
}

// startWorkers launches the worker goroutines.
func (p *WorkerPool) startWorkers(count int) {
	p.wg.Add(count)
	for i := 0; i < count; i++ {
		go func() {
			defer p.wg.Done()
			for user := range p.jobs {
				p.collect(user)
			}
		}()
	}
}

// Submit adds a user to the job queue.
func (p *WorkerPool) Submit(user config.User) {
	select {
	case p.jobs <- user:
	default:
		p.log.Warn("job queue full, skipping stats collection", zap.String("username", user.Username))
	}
}

// Stop cancels in-flight work and waits for all workers to exit.
func (p *WorkerPool) Stop() {
	p.stopOnce.Do(func() {
		p.cancel()
		close(p.jobs)
		p.wg.Wait()
	})
}

// collect fetches and stores the memory snapshot of every shard of a user.
func (p *WorkerPool) collect(user config.User) {
	if !p.limiter.Acquire(user.Username) {
		p.log.Debug("skipping collection, previous one still running", zap.String("username", user.Username))
		return
	}
	defer p.limiter.Release(user.Username)

	target := models.Target{Kind: user.Kind(), Username: user.Username, Token: user.Token}
	if target.Kind == models.KindPrivate && target.Token == "" && user.Password != "" {
		token, ok := p.fetcher.Authenticate(p.ctx, user.Username, user.Password)
		if !ok {
			p.log.Warn("sign in failed", zap.String("username", user.Username))
			return
		}
		target.Token = token
	}

	for _, shard := range user.Shards {
		data, err := p.fetcher.FetchMemorySnapshot(p.ctx, target, shard, user.StatsPath)
		if err != nil {
			p.log.Error("failed to decode memory snapshot", zap.String("username", user.Username), zap.String("shard", shard), zap.Error(err))
			continue
		}
		if data == nil {
			continue
		}
		p.save(user.Username, shard, user.StatsPath, data)
	}
}

func (p *WorkerPool) save(username, shard, path string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		p.log.Error("failed to encode snapshot", zap.String("username", username), zap.Error(err))
		return
	}
	snap := &models.Snapshot{
		Username:  username,
		Shard:     shard,
		Path:      path,
		Data:      raw,
		FetchedAt: time.Now().UTC(),
	}
	if err := p.store.SaveSnapshot(p.ctx, snap); err != nil {
		p.log.Error("error saving snapshot", zap.String("username", username), zap.String("shard", shard), zap.Error(err))
	}
}
