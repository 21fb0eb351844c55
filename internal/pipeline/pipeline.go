// Package pipeline provides the high-level orchestration for turning
// lecture slides into a packaged flashcard deck.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/mbecker/ankigen/internal/deck"
	"github.com/mbecker/ankigen/internal/draft"
	"github.com/mbecker/ankigen/internal/gateway"
	"github.com/mbecker/ankigen/internal/llm"
	"github.com/mbecker/ankigen/internal/observability"
	"github.com/mbecker/ankigen/internal/progress"
	"github.com/mbecker/ankigen/internal/refine"
	"github.com/mbecker/ankigen/internal/slides"
	"github.com/mbecker/ankigen/internal/types"
)

// State is the orchestrator's phase. Transitions are strictly forward:
// INIT -> DRAFTING -> REFINING -> DONE, with REFINING skipped when the
// critique pass is disabled.
type State string

const (
	StateInit     State = "INIT"
	StateDrafting State = "DRAFTING"
	StateRefining State = "REFINING"
	StateDone     State = "DONE"
)

// ProgressEvent represents a progress update during pipeline execution.
type ProgressEvent struct {
	State   State  `json:"state"`
	JobID   string `json:"job_id,omitempty"`
	Message string `json:"message"`
	Content any    `json:"content,omitempty"`
}

// ProgressCallback is called when pipeline progress occurs.
type ProgressCallback func(event ProgressEvent)

// Submitter is the gateway surface the pipeline stages share.
type Submitter interface {
	Submit(ctx context.Context, req gateway.Request) (string, error)
}

// RunOptions holds configuration for one pipeline run.
type RunOptions struct {
	OutputDir   string
	SingleCard  bool
	BatchSize   int
	Refine      bool
	Resume      bool
	Concurrency int
	Tags        []string
	Styling     map[string]string
	Model       string // provider model, part of the job identity
	DraftTier   llm.ModelTier
	RefineTier  llm.ModelTier
	Verbose     bool
	OnProgress  ProgressCallback
}

// Result is the outcome of one job.
type Result struct {
	JobID       string
	BundleDir   string
	Draft       *types.CardSet
	Final       *types.CardSet
	DraftStats  draft.Stats
	RefineStats refine.Stats
}

// Orchestrator wires the stages together over shared infrastructure.
type Orchestrator struct {
	submitter Submitter
	store     progress.Store
	packager  deck.Packager
	log       *observability.Logger
	printer   *observability.Printer
}

// New builds an orchestrator. A nil packager disables bundle output and a
// nil logger silences stage logging.
func New(submitter Submitter, store progress.Store, packager deck.Packager, log *observability.Logger) *Orchestrator {
	if log == nil {
		log = observability.NewNopLogger()
	}
	return &Orchestrator{
		submitter: submitter,
		store:     store,
		packager:  packager,
		log:       log,
		printer:   observability.NewPrinter(os.Stdout),
	}
}

// emitProgress calls the progress callback if configured.
func emitProgress(opts *RunOptions, state State, jobID, message string, content any) {
	if opts.OnProgress != nil {
		opts.OnProgress(ProgressEvent{
			State:   state,
			JobID:   jobID,
			Message: message,
			Content: content,
		})
	}
}

// jobIdentity derives the job ID for a single named source under opts.
func jobIdentity(name string, opts RunOptions) string {
	return progress.Identity(progress.JobDescriptor{
		Sources:    []string{name},
		SingleCard: opts.SingleCard,
		BatchSize:  opts.BatchSize,
		Refine:     opts.Refine,
		Model:      opts.Model,
	})
}

// Run executes the full pipeline for one slide source.
func (o *Orchestrator) Run(ctx context.Context, source slides.Source, opts RunOptions) (*Result, error) {
	jobID := jobIdentity(source.Name(), opts)
	emitProgress(&opts, StateInit, jobID, fmt.Sprintf("Processing %s", source.Name()), nil)

	if !opts.Resume {
		// A fresh start discards every record under this identity, both
		// stages, before any work happens.
		if err := o.store.Clear(ctx, jobID); err != nil {
			return nil, fmt.Errorf("clearing previous progress: %w", err)
		}
		o.log.Info("progress cleared", "job", jobID)
	}

	all, err := source.Slides(ctx)
	if err != nil {
		return nil, fmt.Errorf("extracting slides from %s: %w", source.Name(), err)
	}
	if len(all) == 0 {
		return nil, &NoSlidesError{Source: source.Name()}
	}
	o.log.Info("slides extracted", "job", jobID, "source", source.Name(), "slides", len(all))

	emitProgress(&opts, StateDrafting, jobID, fmt.Sprintf("Drafting cards for %d slides", len(all)), nil)
	generator := draft.NewGenerator(o.submitter, o.store, o.log)
	draftSet, draftStats, err := generator.Run(ctx, all, draft.Options{
		JobID:       jobID,
		Lecture:     source.Name(),
		SingleCard:  opts.SingleCard,
		BatchSize:   opts.BatchSize,
		Concurrency: opts.Concurrency,
		Tags:        opts.Tags,
		Tier:        opts.DraftTier,
	})
	if err != nil {
		return nil, fmt.Errorf("draft pass: %w", err)
	}
	if draftStats.CompleteUnits+draftStats.SkippedUnits == 0 {
		// Nothing at all succeeded; the job is failed, not partially done.
		return nil, &JobFailedError{JobID: jobID, FailedUnits: draftStats.FailedUnits}
	}
	if opts.Verbose {
		o.printer.PrintCardSet(draftSet)
	}
	emitProgress(&opts, StateDrafting, jobID,
		fmt.Sprintf("Drafted %d cards (%d units failed)", len(draftSet.Cards), draftStats.FailedUnits), draftStats)

	final := draftSet
	var refineStats refine.Stats
	if opts.Refine {
		emitProgress(&opts, StateRefining, jobID, "Critiquing draft cards", nil)
		merger := refine.NewMerger(o.submitter, o.store, o.log)
		final, refineStats, err = merger.Run(ctx, draftSet, refine.Options{
			JobID:       jobID,
			Lecture:     source.Name(),
			Concurrency: opts.Concurrency,
			Tier:        opts.RefineTier,
		})
		if err != nil {
			return nil, fmt.Errorf("refinement pass: %w", err)
		}
		if opts.Verbose {
			o.printer.PrintCardSet(final)
		}
		emitProgress(&opts, StateRefining, jobID,
			fmt.Sprintf("Refined: %d kept, %d revised, %d dropped, %d added",
				refineStats.Kept, refineStats.Revised, refineStats.Dropped, refineStats.Added), refineStats)
	}

	result := &Result{
		JobID:       jobID,
		Draft:       draftSet,
		Final:       final,
		DraftStats:  draftStats,
		RefineStats: refineStats,
	}

	if o.packager != nil && opts.OutputDir != "" {
		dir, err := o.packager.Package(deck.Bundle{
			Set:     final,
			Media:   all,
			Styling: opts.Styling,
		}, opts.OutputDir)
		if err != nil {
			return nil, fmt.Errorf("packaging deck: %w", err)
		}
		result.BundleDir = dir

		// The unrefined draft stays available as its own artifact when a
		// critique ran over it.
		if opts.Refine {
			draftCopy := draftSet.Clone()
			draftCopy.Name = draftSet.Name + "-draft"
			if _, err := o.packager.Package(deck.Bundle{
				Set:     draftCopy,
				Media:   all,
				Styling: opts.Styling,
			}, opts.OutputDir); err != nil {
				return nil, fmt.Errorf("packaging draft artifact: %w", err)
			}
		}

		// Mark fully-complete jobs so folder runs can skip them without
		// re-rasterizing. Jobs with failed units stay unmarked and get
		// another attempt.
		if draftStats.FailedUnits == 0 && refineStats.FailedChunks == 0 {
			if err := o.store.Upsert(ctx, jobID, progress.Record{
				Stage:     progress.StagePackaged,
				Unit:      0,
				UnitEnd:   0,
				Status:    progress.StatusComplete,
				UpdatedAt: time.Now().UTC(),
			}); err != nil {
				return nil, fmt.Errorf("marking job packaged: %w", err)
			}
		}
	}

	if opts.Verbose {
		o.printer.PrintRunSummary(jobID,
			draftStats.CompleteUnits+draftStats.SkippedUnits, draftStats.FailedUnits, len(final.Cards))
	}
	emitProgress(&opts, StateDone, jobID, fmt.Sprintf("Done: %d cards", len(final.Cards)), nil)
	return result, nil
}

// RunFolder runs one job per PDF in dir. Files keep independent identities
// so each resumes on its own; one file failing does not stop the rest.
func (o *Orchestrator) RunFolder(ctx context.Context, dir string, opts RunOptions) ([]*Result, error) {
	paths, err := slides.FindPDFs(dir)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, &NoSlidesError{Source: dir}
	}

	var results []*Result
	var failed int
	for i, path := range paths {
		fmt.Printf("Lecture %d/%d: %s\n", i+1, len(paths), path)

		source, err := slides.NewPDFSource(path)
		if err != nil {
			o.log.Error("skipping unreadable pdf", "path", path, "error", err)
			failed++
			continue
		}

		// Lectures that already packaged cleanly are skipped outright,
		// before any rasterizing.
		if opts.Resume {
			jobID := jobIdentity(source.Name(), opts)
			done, cerr := o.store.IsComplete(ctx, jobID, progress.UnitKey{Stage: progress.StagePackaged, Unit: 0})
			if cerr == nil && done {
				fmt.Println("  already complete, skipping")
				o.log.Info("lecture already complete", "job", jobID, "path", path)
				continue
			}
		}

		res, err := o.Run(ctx, source, opts)
		if err != nil {
			if ctx.Err() != nil {
				return results, ctx.Err()
			}
			o.log.Error("lecture failed", "path", path, "error", err)
			failed++
			continue
		}
		results = append(results, res)
	}

	if failed == len(paths) {
		return nil, fmt.Errorf("all %d lectures failed", failed)
	}
	return results, nil
}
