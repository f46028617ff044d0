package storage

import (
	"context"
	"errors"
	"time"

	"screepsapi/internal/models"
)

var (
	// ErrNotFound is returned when a requested resource is not found
	ErrNotFound = errors.New("not found")
)

// ListRequestRecordsParams contains parameters for listing request records, newest first
type ListRequestRecordsParams struct {
	Kind    models.TargetKind
	Outcome models.OutcomeKind
	Since   *time.Time
	Limit   int
}

// Storer defines the interface for storage operations on request records and snapshots
type Storer interface {
	CreateRequestRecord(ctx context.Context, record *models.RequestRecord) error
	ListRequestRecords(ctx context.Context, params ListRequestRecordsParams) ([]models.RequestRecord, error)

	SaveSnapshot(ctx context.Context, snapshot *models.Snapshot) error
	GetSnapshot(ctx context.Context, username, shard string) (*models.Snapshot, error)
}
