package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"screepsapi/internal/models"
	"screepsapi/internal/storage"
)

// PostgresStore implements the storage.Storer interface for PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// New creates a new PostgresStore and establishes a connection to the database.
// It also runs migrations to ensure the schema is up to date.
func New(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	store := &PostgresStore{db: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS request_records (
	id           UUID PRIMARY KEY,
	request_id   TEXT NOT NULL,
	target_kind  TEXT NOT NULL,
	method       TEXT NOT NULL,
	host         TEXT NOT NULL,
	path         TEXT NOT NULL,
	outcome      TEXT NOT NULL,
	status_code  INTEGER,
	size_bytes   BIGINT NOT NULL,
	rate_limited BOOLEAN NOT NULL,
	error        TEXT,
	latency_ms   BIGINT NOT NULL,
	started_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_request_records_started_at ON request_records (started_at DESC);

CREATE TABLE IF NOT EXISTS snapshots (
	username   TEXT NOT NULL,
	shard      TEXT NOT NULL,
	path       TEXT NOT NULL,
	data       JSONB NOT NULL,
	fetched_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (username, shard)
);
`
	_, err := s.db.Exec(ctx, schema)
	return err
}

// CreateRequestRecord saves a new request record.
func (s *PostgresStore) CreateRequestRecord(ctx context.Context, r *models.RequestRecord) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	query := `
INSERT INTO request_records (id, request_id, target_kind, method, host, path, outcome, status_code, size_bytes, rate_limited, error, latency_ms, started_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err := s.db.Exec(ctx, query,
		r.ID, r.RequestID, string(r.TargetKind), r.Method, r.Host, r.Path, string(r.Outcome),
		r.StatusCode, r.SizeBytes, r.RateLimited, r.Error, r.LatencyMS, r.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to create request record: %w", err)
	}
	return nil
}

// ListRequestRecords retrieves recent request records, newest first.
func (s *PostgresStore) ListRequestRecords(ctx context.Context, params storage.ListRequestRecordsParams) ([]models.RequestRecord, error) {
	var args []interface{}
	qb := strings.Builder{}
	qb.WriteString(`SELECT id::text, request_id, target_kind, method, host, path, outcome, status_code, size_bytes, rate_limited, error, latency_ms, started_at
FROM request_records WHERE 1=1`)
	if params.Kind != "" {
		args = append(args, string(params.Kind))
		qb.WriteString(fmt.Sprintf(" AND target_kind = $%d", len(args)))
	}
	if params.Outcome != "" {
		args = append(args, string(params.Outcome))
		qb.WriteString(fmt.Sprintf(" AND outcome = $%d", len(args)))
	}
	if params.Since != nil {
		args = append(args, *params.Since)
		qb.WriteString(fmt.Sprintf(" AND started_at > $%d", len(args)))
	}
	args = append(args, params.Limit)
	qb.WriteString(fmt.Sprintf(" ORDER BY started_at DESC, id LIMIT $%d", len(args)))

	rows, err := s.db.Query(ctx, qb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list request records: %w", err)
	}
	defer rows.Close()

	var records []models.RequestRecord
	for rows.Next() {
		var r models.RequestRecord
		var kind, outcome string
		if err := rows.Scan(&r.ID, &r.RequestID, &kind, &r.Method, &r.Host, &r.Path, &outcome,
			&r.StatusCode, &r.SizeBytes, &r.RateLimited, &r.Error, &r.LatencyMS, &r.StartedAt); err != nil {
			return nil, fmt.Errorf("failed to scan request record row: %w", err)
		}
		r.TargetKind = models.TargetKind(kind)
		r.Outcome = models.OutcomeKind(outcome)
		records = append(records, r)
	}
	return records, rows.Err()
}

// SaveSnapshot upserts the latest snapshot for a user and shard.
func (s *PostgresStore) SaveSnapshot(ctx context.Context, snap *models.Snapshot) error {
	query := `
INSERT INTO snapshots (username, shard, path, data, fetched_at) VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (username, shard) DO UPDATE SET path = EXCLUDED.path, data = EXCLUDED.data, fetched_at = EXCLUDED.fetched_at`
	if _, err := s.db.Exec(ctx, query, snap.Username, snap.Shard, snap.Path, string(snap.Data), snap.FetchedAt); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// GetSnapshot retrieves the latest snapshot for a user and shard.
func (s *PostgresStore) GetSnapshot(ctx context.Context, username, shard string) (*models.Snapshot, error) {
	query := `SELECT username, shard, path, data::text, fetched_at FROM snapshots WHERE username = $1 AND shard = $2`
	var snap models.Snapshot
	var data string
	err := s.db.QueryRow(ctx, query, username, shard).Scan(&snap.Username, &snap.Shard, &snap.Path, &data, &snap.FetchedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	snap.Data = []byte(data)
	return &snap, nil
}
