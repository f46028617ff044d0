package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"screepsapi/internal/models"
	"screepsapi/internal/storage"
)

// timeFormat is fixed-width so that stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements the storage.Storer interface for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLiteStore and establishes a connection to the database file.
// It also runs migrations to ensure the schema is up to date.
func New(ctx context.Context, dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dataSourceName))
	if err != nil {
		return nil, fmt.Errorf("unable to open sqlite database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	store := &SQLiteStore{db: db}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// migrate ensures the database schema is created.
func (s *SQLiteStore) migrate(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS request_records (
	id           TEXT PRIMARY KEY,
	request_id   TEXT NOT NULL,
	target_kind  TEXT NOT NULL,
	method       TEXT NOT NULL,
	host         TEXT NOT NULL,
	path         TEXT NOT NULL,
	outcome      TEXT NOT NULL,
	status_code  INTEGER,
	size_bytes   INTEGER NOT NULL,
	rate_limited INTEGER NOT NULL,
	error        TEXT,
	latency_ms   INTEGER NOT NULL,
	started_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_request_records_started_at ON request_records (started_at DESC);

CREATE TABLE IF NOT EXISTS snapshots (
	username   TEXT NOT NULL,
	shard      TEXT NOT NULL,
	path       TEXT NOT NULL,
	data       TEXT NOT NULL,
	fetched_at TEXT NOT NULL,
	PRIMARY KEY (username, shard)
);
`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// CreateRequestRecord saves a new request record to the database.
func (s *SQLiteStore) CreateRequestRecord(ctx context.Context, r *models.RequestRecord) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	query := `
INSERT INTO request_records (id, request_id, target_kind, method, host, path, outcome, status_code, size_bytes, rate_limited, error, latency_ms, started_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.RequestID, string(r.TargetKind), r.Method, r.Host, r.Path, string(r.Outcome),
		r.StatusCode, r.SizeBytes, r.RateLimited, r.Error, r.LatencyMS,
		r.StartedAt.UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("failed to create request record: %w", err)
	}
	return nil
}

// ListRequestRecords retrieves recent request records, newest first.
func (s *SQLiteStore) ListRequestRecords(ctx context.Context, params storage.ListRequestRecordsParams) ([]models.RequestRecord, error) {
	var args []interface{}
	qb := strings.Builder{}
	qb.WriteString(`SELECT id, request_id, target_kind, method, host, path, outcome, status_code, size_bytes, rate_limited, error, latency_ms, started_at
FROM request_records WHERE 1=1`)
	if params.Kind != "" {
		args = append(args, string(params.Kind))
		qb.WriteString(" AND target_kind = ?")
	}
	if params.Outcome != "" {
		args = append(args, string(params.Outcome))
		qb.WriteString(" AND outcome = ?")
	}
	if params.Since != nil {
		args = append(args, params.Since.UTC().Format(timeFormat))
		qb.WriteString(" AND started_at > ?")
	}
	qb.WriteString(" ORDER BY started_at DESC, id LIMIT ?")
	args = append(args, params.Limit)

	rows, err := s.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list request records: %w", err)
	}
	defer rows.Close()
	var records []models.RequestRecord
	for rows.Next() {
		var r models.RequestRecord
		var kind, outcome, startedAtStr string
		if err := rows.Scan(&r.ID, &r.RequestID, &kind, &r.Method, &r.Host, &r.Path, &outcome,
			&r.StatusCode, &r.SizeBytes, &r.RateLimited, &r.Error, &r.LatencyMS, &startedAtStr); err != nil {
			return nil, fmt.Errorf("failed to scan request record row: %w", err)
		}
		r.TargetKind = models.TargetKind(kind)
		r.Outcome = models.OutcomeKind(outcome)
		r.StartedAt, _ = time.Parse(timeFormat, startedAtStr)
		records = append(records, r)
	}
	return records, rows.Err()
}

// SaveSnapshot stores the snapshot, replacing any previous one for the same user and shard.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap *models.Snapshot) error {
	query := `
INSERT INTO snapshots (username, shard, path, data, fetched_at) VALUES (?, ?, ?, ?, ?)
ON CONFLICT(username, shard) DO UPDATE SET path = excluded.path, data = excluded.data, fetched_at = excluded.fetched_at`
	_, err := s.db.ExecContext(ctx, query, snap.Username, snap.Shard, snap.Path, string(snap.Data), snap.FetchedAt.UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// GetSnapshot retrieves the latest snapshot for a user and shard.
func (s *SQLiteStore) GetSnapshot(ctx context.Context, username, shard string) (*models.Snapshot, error) {
	query := `SELECT username, shard, path, data, fetched_at FROM snapshots WHERE username = ? AND shard = ?`
	var snap models.Snapshot
	var data, fetchedAtStr string
	err := s.db.QueryRowContext(ctx, query, username, shard).Scan(&snap.Username, &snap.Shard, &snap.Path, &data, &fetchedAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	snap.Data = []byte(data)
	snap.FetchedAt, _ = time.Parse(timeFormat, fetchedAtStr)
	return &snap, nil
}
