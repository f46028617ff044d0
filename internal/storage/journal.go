package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"screepsapi/internal/models"
)

// Journal persists request outcomes in the background. Record never blocks the
// caller: when the queue is full the outcome is dropped and a warning is logged.
type Journal struct {
	store     Storer
	records   chan models.RequestRecord
	log       *zap.Logger
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewJournal starts a journal writer with a queue of the given size.
func NewJournal(store Storer, queueSize int, log *zap.Logger) *Journal {
	j := &Journal{
		store:   store,
		records: make(chan models.RequestRecord, queueSize),
		log:     log,
	}
	j.wg.Add(1)
	go j.run()
	return j
}

func (j *Journal) run() {
	defer j.wg.Done()
	for rec := range j.records {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := j.store.CreateRequestRecord(ctx, &rec); err != nil {
			j.log.Error("error saving request record", zap.String("request_id", rec.RequestID), zap.Error(err))
		}
		cancel()
	}
}

// Record implements request.OutcomeSink.
func (j *Journal) Record(out models.Outcome) {
	rec := NewRequestRecord(out)
	select {
	case j.records <- rec:
	default:
		j.log.Warn("journal queue full, dropping request record", zap.String("request_id", rec.RequestID))
	}
}

// Close stops accepting records and waits for queued ones to be written.
// Record must not be called after Close.
func (j *Journal) Close() {
	j.closeOnce.Do(func() {
		close(j.records)
		j.wg.Wait()
	})
}

// NewRequestRecord converts an outcome to its persisted form.
func NewRequestRecord(out models.Outcome) models.RequestRecord {
	rec := models.RequestRecord{
		ID:          uuid.NewString(),
		Outcome:     out.Kind,
		RateLimited: out.RateLimited,
		LatencyMS:   out.Latency.Milliseconds(),
		StartedAt:   out.StartedAt.UTC(),
	}
	if d := out.Request; d != nil {
		rec.RequestID = d.ID
		rec.TargetKind = d.Kind
		rec.Method = d.Method
		rec.Host = d.Host
		rec.Path = d.Path
	}
	if out.Response != nil {
		status := out.Response.StatusCode
		rec.StatusCode = &status
		rec.SizeBytes = int64(len(out.Response.Raw))
	}
	if out.Err != nil {
		msg := out.Err.Error()
		rec.Error = &msg
	}
	return rec
}
