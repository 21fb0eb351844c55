package progress

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFileStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)
	return store
}

func TestFileStore_UpsertLoadRoundtrip(t *testing.T) {
	ctx := context.Background()
	store := newTestFileStore(t)

	rec := Record{
		Stage:     StageDraft,
		Unit:      3,
		UnitEnd:   3,
		Status:    StatusComplete,
		Payload:   json.RawMessage(`[{"text":"a"}]`),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.Upsert(ctx, "job-1", rec))

	loaded, err := store.Load(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	got := loaded[UnitKey{Stage: StageDraft, Unit: 3}]
	assert.Equal(t, StatusComplete, got.Status)
	assert.JSONEq(t, `[{"text":"a"}]`, string(got.Payload))
}

func TestFileStore_IsComplete(t *testing.T) {
	ctx := context.Background()
	store := newTestFileStore(t)
	key := UnitKey{Stage: StageDraft, Unit: 1}

	ok, err := store.IsComplete(ctx, "job-1", key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Upsert(ctx, "job-1", Record{Stage: StageDraft, Unit: 1, UnitEnd: 1, Status: StatusFailed}))
	ok, err = store.IsComplete(ctx, "job-1", key)
	require.NoError(t, err)
	assert.False(t, ok, "failed unit must not report complete")

	require.NoError(t, store.Upsert(ctx, "job-1", Record{Stage: StageDraft, Unit: 1, UnitEnd: 1, Status: StatusComplete}))
	ok, err = store.IsComplete(ctx, "job-1", key)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFileStore_CorruptFileTreatedAsPending(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewFileStore(dir, nil)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "job-1.json"), []byte("{not json"), 0o644))

	loaded, err := store.Load(ctx, "job-1")
	require.NoError(t, err, "corruption must never fail the job")
	assert.Empty(t, loaded)

	// The store must still accept new writes over the corrupt file.
	require.NoError(t, store.Upsert(ctx, "job-1", Record{Stage: StageDraft, Unit: 1, UnitEnd: 1, Status: StatusComplete}))
	ok, err := store.IsComplete(ctx, "job-1", UnitKey{Stage: StageDraft, Unit: 1})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFileStore_InProgressDemotedToPending(t *testing.T) {
	// Simulates a crash between dispatch and response commit: the unit was
	// written as in_progress and the process died.
	ctx := context.Background()
	store := newTestFileStore(t)

	require.NoError(t, store.Upsert(ctx, "job-1", Record{
		Stage:   StageDraft,
		Unit:    2,
		UnitEnd: 2,
		Status:  StatusInProgress,
		Payload: json.RawMessage(`[{"text":"partial"}]`),
	}))

	loaded, err := store.Load(ctx, "job-1")
	require.NoError(t, err)

	got := loaded[UnitKey{Stage: StageDraft, Unit: 2}]
	assert.Equal(t, StatusPending, got.Status)
	assert.Nil(t, got.Payload, "payload of an uncommitted unit is not trusted")
}

func TestFileStore_Clear(t *testing.T) {
	ctx := context.Background()
	store := newTestFileStore(t)

	require.NoError(t, store.Upsert(ctx, "job-1", Record{Stage: StageDraft, Unit: 1, UnitEnd: 1, Status: StatusComplete}))
	require.NoError(t, store.Clear(ctx, "job-1"))

	loaded, err := store.Load(ctx, "job-1")
	require.NoError(t, err)
	assert.Empty(t, loaded)

	// Clearing an absent job is not an error.
	assert.NoError(t, store.Clear(ctx, "job-2"))
}

func TestFileStore_JobsAreIsolated(t *testing.T) {
	ctx := context.Background()
	store := newTestFileStore(t)

	require.NoError(t, store.Upsert(ctx, "job-a", Record{Stage: StageDraft, Unit: 1, UnitEnd: 1, Status: StatusComplete}))

	loaded, err := store.Load(ctx, "job-b")
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestParseUnitKey(t *testing.T) {
	key := UnitKey{Stage: StageRefined, Unit: 42}
	parsed, err := ParseUnitKey(key.String())
	require.NoError(t, err)
	assert.Equal(t, key, parsed)

	_, err = ParseUnitKey("noseparator")
	assert.Error(t, err)

	_, err = ParseUnitKey("draft:notanumber")
	assert.Error(t, err)
}
