package progress

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "progress.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore_UpsertIsIdempotentPerUnit(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	first := Record{Stage: StageDraft, Unit: 1, UnitEnd: 1, Status: StatusFailed, Failure: "timeout", Retries: 5}
	require.NoError(t, store.Upsert(ctx, "job-1", first))

	second := Record{Stage: StageDraft, Unit: 1, UnitEnd: 1, Status: StatusComplete, Payload: json.RawMessage(`[]`)}
	require.NoError(t, store.Upsert(ctx, "job-1", second))

	loaded, err := store.Load(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, loaded, 1, "second upsert replaces the row, not duplicates it")

	got := loaded[UnitKey{Stage: StageDraft, Unit: 1}]
	assert.Equal(t, StatusComplete, got.Status)
	assert.Empty(t, got.Failure)
}

func TestSQLiteStore_StagesAreSeparateRecords(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	require.NoError(t, store.Upsert(ctx, "job-1", Record{Stage: StageDraft, Unit: 1, UnitEnd: 1, Status: StatusComplete}))
	require.NoError(t, store.Upsert(ctx, "job-1", Record{Stage: StageRefined, Unit: 1, UnitEnd: 1, Status: StatusFailed}))

	draftDone, err := store.IsComplete(ctx, "job-1", UnitKey{Stage: StageDraft, Unit: 1})
	require.NoError(t, err)
	refinedDone, err := store.IsComplete(ctx, "job-1", UnitKey{Stage: StageRefined, Unit: 1})
	require.NoError(t, err)

	assert.True(t, draftDone)
	assert.False(t, refinedDone)
}

func TestSQLiteStore_InProgressDemotedToPending(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	require.NoError(t, store.Upsert(ctx, "job-1", Record{Stage: StageDraft, Unit: 4, UnitEnd: 4, Status: StatusInProgress}))

	loaded, err := store.Load(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, loaded[UnitKey{Stage: StageDraft, Unit: 4}].Status)
}

func TestSQLiteStore_Clear(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	require.NoError(t, store.Upsert(ctx, "job-1", Record{Stage: StageDraft, Unit: 1, UnitEnd: 1, Status: StatusComplete}))
	require.NoError(t, store.Upsert(ctx, "job-2", Record{Stage: StageDraft, Unit: 1, UnitEnd: 1, Status: StatusComplete}))

	require.NoError(t, store.Clear(ctx, "job-1"))

	one, err := store.Load(ctx, "job-1")
	require.NoError(t, err)
	assert.Empty(t, one)

	two, err := store.Load(ctx, "job-2")
	require.NoError(t, err)
	assert.Len(t, two, 1, "clearing one job must not touch another")
}
