package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbecker/ankigen/internal/deck"
	"github.com/mbecker/ankigen/internal/gateway"
	"github.com/mbecker/ankigen/internal/progress"
	"github.com/mbecker/ankigen/internal/slides"
	"github.com/mbecker/ankigen/internal/types"
)

type fakeSource struct {
	name   string
	slides []slides.Slide
	err    error
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Slides(context.Context) ([]slides.Slide, error) {
	return f.slides, f.err
}

func newFakeSource(name string, n int) *fakeSource {
	src := &fakeSource{name: name}
	for i := 1; i <= n; i++ {
		src.slides = append(src.slides, slides.Slide{
			Index:    i,
			PNG:      []byte{0x89, byte(i)},
			Filename: fmt.Sprintf("slide_%s_%03d.png", name, i),
		})
	}
	return src
}

// fakeSubmitter answers draft and critique requests by stage.
type fakeSubmitter struct {
	mu    sync.Mutex
	calls []gateway.Request

	draftErr    error
	critiqueErr error
	critique    func(req gateway.Request) string
}

func (f *fakeSubmitter) Submit(_ context.Context, req gateway.Request) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()

	if req.Call.Stage == string(progress.StageRefined) {
		if f.critiqueErr != nil {
			return "", f.critiqueErr
		}
		if f.critique != nil {
			return f.critique(req), nil
		}
		return "[]", nil
	}

	if f.draftErr != nil {
		return "", f.draftErr
	}
	return fmt.Sprintf(`[{"text":"{{c1::fact %d}}"}]`, req.Call.Unit), nil
}

func (f *fakeSubmitter) stageCalls(stage progress.Stage) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Call.Stage == string(stage) {
			n++
		}
	}
	return n
}

func newTestOrchestrator(t *testing.T, sub Submitter) (*Orchestrator, progress.Store) {
	t.Helper()
	store, err := progress.NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)
	return New(sub, store, deck.NewDirPackager(), nil), store
}

func baseOptions(t *testing.T) RunOptions {
	return RunOptions{
		OutputDir: t.TempDir(),
		Resume:    true,
		Model:     "gemini-2.5-flash",
	}
}

func TestRun_DraftOnly(t *testing.T) {
	sub := &fakeSubmitter{}
	orch, _ := newTestOrchestrator(t, sub)

	var states []State
	opts := baseOptions(t)
	opts.OnProgress = func(ev ProgressEvent) { states = append(states, ev.State) }

	res, err := orch.Run(context.Background(), newFakeSource("cardio", 3), opts)
	require.NoError(t, err)

	assert.NotEmpty(t, res.JobID)
	assert.Len(t, res.Final.Cards, 3)
	assert.Same(t, res.Draft, res.Final, "no critique pass configured")
	assert.Equal(t, 3, res.DraftStats.CompleteUnits)

	// Strictly forward, refining skipped.
	assert.Equal(t, StateInit, states[0])
	assert.Contains(t, states, StateDrafting)
	assert.NotContains(t, states, StateRefining)
	assert.Equal(t, StateDone, states[len(states)-1])

	// Bundle on disk.
	require.NotEmpty(t, res.BundleDir)
	_, err = os.Stat(filepath.Join(res.BundleDir, "cards.json"))
	assert.NoError(t, err)
}

func TestRun_IdempotentResume(t *testing.T) {
	ctx := context.Background()
	sub := &fakeSubmitter{}
	orch, _ := newTestOrchestrator(t, sub)
	opts := baseOptions(t)

	first, err := orch.Run(ctx, newFakeSource("cardio", 3), opts)
	require.NoError(t, err)
	require.Equal(t, 3, sub.stageCalls(progress.StageDraft))

	second, err := orch.Run(ctx, newFakeSource("cardio", 3), opts)
	require.NoError(t, err)

	assert.Equal(t, 3, sub.stageCalls(progress.StageDraft), "no provider calls on resume")
	assert.Equal(t, 3, second.DraftStats.SkippedUnits)
	assert.Equal(t, first.Final.Cards, second.Final.Cards)
	assert.Equal(t, first.JobID, second.JobID)
}

func TestRun_ResumeDisabledClearsProgress(t *testing.T) {
	ctx := context.Background()
	sub := &fakeSubmitter{}
	orch, _ := newTestOrchestrator(t, sub)
	opts := baseOptions(t)

	_, err := orch.Run(ctx, newFakeSource("cardio", 2), opts)
	require.NoError(t, err)
	require.Equal(t, 2, sub.stageCalls(progress.StageDraft))

	opts.Resume = false
	_, err = orch.Run(ctx, newFakeSource("cardio", 2), opts)
	require.NoError(t, err)
	assert.Equal(t, 4, sub.stageCalls(progress.StageDraft), "cleared progress forces a full redo")
}

func TestRun_OptionsChangeIdentity(t *testing.T) {
	ctx := context.Background()
	sub := &fakeSubmitter{}
	orch, _ := newTestOrchestrator(t, sub)

	opts := baseOptions(t)
	first, err := orch.Run(ctx, newFakeSource("cardio", 1), opts)
	require.NoError(t, err)

	opts.SingleCard = true
	second, err := orch.Run(ctx, newFakeSource("cardio", 1), opts)
	require.NoError(t, err)

	assert.NotEqual(t, first.JobID, second.JobID)
	assert.Equal(t, 2, sub.stageCalls(progress.StageDraft), "different identity shares no progress")
}

func TestRun_RefinePass(t *testing.T) {
	sub := &fakeSubmitter{critique: func(gateway.Request) string {
		return `[
			{"card_id":"u001-c01","action":"keep"},
			{"card_id":"u002-c01","action":"drop","reason":"dup"}
		]`
	}}
	orch, _ := newTestOrchestrator(t, sub)

	opts := baseOptions(t)
	opts.Refine = true

	res, err := orch.Run(context.Background(), newFakeSource("cardio", 2), opts)
	require.NoError(t, err)

	assert.Len(t, res.Draft.Cards, 2, "draft set preserved")
	assert.Len(t, res.Final.Cards, 1)
	assert.Equal(t, 1, res.RefineStats.Kept)
	assert.Equal(t, 1, res.RefineStats.Dropped)

	// Both artifacts on disk.
	_, err = os.Stat(filepath.Join(opts.OutputDir, "cardio", "cards.json"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(opts.OutputDir, "cardio-draft", "cards.json"))
	assert.NoError(t, err)
}

func TestRun_RefineFailOpen(t *testing.T) {
	sub := &fakeSubmitter{
		critiqueErr: &gateway.ProviderUnavailableError{Attempts: 5, Cause: fmt.Errorf("down")},
	}
	orch, _ := newTestOrchestrator(t, sub)

	opts := baseOptions(t)
	opts.Refine = true

	res, err := orch.Run(context.Background(), newFakeSource("cardio", 2), opts)
	require.NoError(t, err, "failed critique degrades to the draft set")

	assert.Equal(t, res.Draft.Cards, res.Final.Cards)
	assert.Equal(t, 1, res.RefineStats.FailedChunks)
	for _, c := range res.Final.Cards {
		assert.Equal(t, types.LineageOriginal, c.Lineage)
	}
}

func TestRun_TotalDraftFailure(t *testing.T) {
	sub := &fakeSubmitter{
		draftErr: &gateway.ProviderUnavailableError{Attempts: 5, Cause: fmt.Errorf("down")},
	}
	orch, _ := newTestOrchestrator(t, sub)

	_, err := orch.Run(context.Background(), newFakeSource("cardio", 3), baseOptions(t))
	var jfe *JobFailedError
	require.ErrorAs(t, err, &jfe)
	assert.Equal(t, 3, jfe.FailedUnits)
}

func TestRun_PartialDraftFailureStillPackages(t *testing.T) {
	// Unit 2 fails; units 1 and 3 succeed.
	inner := &fakeSubmitter{}
	wrapped := submitterFunc(func(ctx context.Context, req gateway.Request) (string, error) {
		if req.Call.Unit == 2 {
			return "", &gateway.ProviderUnavailableError{Attempts: 5, Cause: fmt.Errorf("down")}
		}
		return inner.Submit(ctx, req)
	})
	orch, _ := newTestOrchestrator(t, wrapped)

	res, err := orch.Run(context.Background(), newFakeSource("cardio", 3), baseOptions(t))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, res.Final.Units())
	assert.Equal(t, 1, res.DraftStats.FailedUnits)
	assert.NotEmpty(t, res.BundleDir)
}

func TestRun_NoSlides(t *testing.T) {
	orch, _ := newTestOrchestrator(t, &fakeSubmitter{})

	_, err := orch.Run(context.Background(), newFakeSource("empty", 0), baseOptions(t))
	var nse *NoSlidesError
	require.ErrorAs(t, err, &nse)
	assert.Equal(t, "empty", nse.Source)
}

func TestRun_SharedOutputDirKeepsLecturesSeparate(t *testing.T) {
	sub := &fakeSubmitter{}
	orch, _ := newTestOrchestrator(t, sub)
	opts := baseOptions(t)

	first, err := orch.Run(context.Background(), newFakeSource("cardiology", 2), opts)
	require.NoError(t, err)
	second, err := orch.Run(context.Background(), newFakeSource("neurology", 2), opts)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(opts.OutputDir, "cardiology"), first.BundleDir)
	assert.Equal(t, filepath.Join(opts.OutputDir, "neurology"), second.BundleDir)

	// The first lecture's bundle survives the second run intact.
	data, err := os.ReadFile(filepath.Join(first.BundleDir, "cards.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"name": "cardiology"`)
	assert.NotContains(t, string(data), "neurology")

	ref, err := os.ReadFile(filepath.Join(first.BundleDir, "reference.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(ref), "Deck: cardiology")
}

func TestRun_MarksFullyCompleteJobPackaged(t *testing.T) {
	ctx := context.Background()
	orch, store := newTestOrchestrator(t, &fakeSubmitter{})
	opts := baseOptions(t)

	res, err := orch.Run(ctx, newFakeSource("cardio", 2), opts)
	require.NoError(t, err)

	done, err := store.IsComplete(ctx, res.JobID, progress.UnitKey{Stage: progress.StagePackaged, Unit: 0})
	require.NoError(t, err)
	assert.True(t, done)
}

func TestRun_PartialFailureNotMarkedPackaged(t *testing.T) {
	ctx := context.Background()
	inner := &fakeSubmitter{}
	wrapped := submitterFunc(func(ctx context.Context, req gateway.Request) (string, error) {
		if req.Call.Unit == 2 {
			return "", &gateway.ProviderUnavailableError{Attempts: 5, Cause: fmt.Errorf("down")}
		}
		return inner.Submit(ctx, req)
	})
	orch, store := newTestOrchestrator(t, wrapped)

	res, err := orch.Run(ctx, newFakeSource("cardio", 3), baseOptions(t))
	require.NoError(t, err)

	// The failed unit must get another attempt on the next folder run, so
	// the job stays unmarked.
	done, err := store.IsComplete(ctx, res.JobID, progress.UnitKey{Stage: progress.StagePackaged, Unit: 0})
	require.NoError(t, err)
	assert.False(t, done)
}

func TestRunFolder_EmptyDir(t *testing.T) {
	orch, _ := newTestOrchestrator(t, &fakeSubmitter{})

	_, err := orch.RunFolder(context.Background(), t.TempDir(), baseOptions(t))
	var nse *NoSlidesError
	require.ErrorAs(t, err, &nse)
}

type submitterFunc func(ctx context.Context, req gateway.Request) (string, error)

func (f submitterFunc) Submit(ctx context.Context, req gateway.Request) (string, error) {
	return f(ctx, req)
}
