package sqlite

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"screepsapi/internal/models"
	"screepsapi/internal/storage"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := New(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRequestRecords(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	status := 200
	errMsg := "request deadline exceeded"
	records := []models.RequestRecord{
		{RequestID: "r1", TargetKind: models.KindPublic, Method: "GET", Host: "screeps.com", Path: "/api/stats/users",
			Outcome: models.OutcomeSuccess, StatusCode: &status, SizeBytes: 11, LatencyMS: 40, StartedAt: base},
		{RequestID: "r2", TargetKind: models.KindPrivate, Method: "GET", Host: "localhost", Path: "/api/auth/me",
			Outcome: models.OutcomeTimeout, Error: &errMsg, LatencyMS: 10000, StartedAt: base.Add(time.Second)},
		{RequestID: "r3", TargetKind: models.KindPrivate, Method: "GET", Host: "localhost", Path: "/api/auth/me",
			Outcome: models.OutcomeSuccess, StatusCode: &status, RateLimited: true, StartedAt: base.Add(2 * time.Second)},
	}
	for i := range records {
		require.NoError(t, store.CreateRequestRecord(ctx, &records[i]))
		assert.NotEmpty(t, records[i].ID)
	}

	t.Run("newest first", func(t *testing.T) {
		got, err := store.ListRequestRecords(ctx, storage.ListRequestRecordsParams{Limit: 10})
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "r3", got[0].RequestID)
		assert.Equal(t, "r1", got[2].RequestID)
		assert.True(t, got[0].RateLimited)
		assert.Equal(t, base, got[2].StartedAt)
		require.NotNil(t, got[2].StatusCode)
		assert.Equal(t, 200, *got[2].StatusCode)
	})

	t.Run("filter by kind and outcome", func(t *testing.T) {
		got, err := store.ListRequestRecords(ctx, storage.ListRequestRecordsParams{
			Kind: models.KindPrivate, Outcome: models.OutcomeTimeout, Limit: 10,
		})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "r2", got[0].RequestID)
		assert.Nil(t, got[0].StatusCode)
		require.NotNil(t, got[0].Error)
		assert.Equal(t, errMsg, *got[0].Error)
	})

	t.Run("since and limit", func(t *testing.T) {
		since := base
		got, err := store.ListRequestRecords(ctx, storage.ListRequestRecordsParams{Since: &since, Limit: 1})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "r3", got[0].RequestID)
	})
}

func TestSnapshots(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.GetSnapshot(ctx, "alice", "shard0")
	require.ErrorIs(t, err, storage.ErrNotFound)

	first := &models.Snapshot{Username: "alice", Shard: "shard0", Path: "stats",
		Data: json.RawMessage(`{"cpu":1}`), FetchedAt: time.Now().UTC()}
	require.NoError(t, store.SaveSnapshot(ctx, first))

	second := &models.Snapshot{Username: "alice", Shard: "shard0", Path: "stats",
		Data: json.RawMessage(`{"cpu":2}`), FetchedAt: first.FetchedAt.Add(time.Minute)}
	require.NoError(t, store.SaveSnapshot(ctx, second))

	got, err := store.GetSnapshot(ctx, "alice", "shard0")
	require.NoError(t, err)
	assert.JSONEq(t, `{"cpu":2}`, string(got.Data))
	assert.True(t, second.FetchedAt.Equal(got.FetchedAt))
}
