package draft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mbecker/ankigen/internal/gateway"
	"github.com/mbecker/ankigen/internal/llm"
	"github.com/mbecker/ankigen/internal/observability"
	"github.com/mbecker/ankigen/internal/progress"
	"github.com/mbecker/ankigen/internal/prompts"
	"github.com/mbecker/ankigen/internal/schemas"
	"github.com/mbecker/ankigen/internal/slides"
	"github.com/mbecker/ankigen/internal/types"
)

// Submitter is the gateway surface the generator needs.
type Submitter interface {
	Submit(ctx context.Context, req gateway.Request) (string, error)
}

// Options configures one draft pass.
type Options struct {
	JobID       string
	Lecture     string
	SingleCard  bool // rewrite every cloze to {{c1::}}
	BatchSize   int  // slides per chunk; <2 disables batching
	Concurrency int  // bounded outstanding dispatches; <2 is sequential
	Tags        []string
	Tier        llm.ModelTier
}

// Stats summarizes a draft pass for the job report.
type Stats struct {
	CompleteUnits int
	FailedUnits   int
	SkippedUnits  int            // already complete before this run
	Failures      map[int]string // chunk start index -> reason
}

// Generator drives the progress store and call gateway to produce the
// draft lineage card set.
type Generator struct {
	submitter Submitter
	store     progress.Store
	log       *observability.Logger
}

// NewGenerator wires the generator's collaborators.
func NewGenerator(submitter Submitter, store progress.Store, log *observability.Logger) *Generator {
	if log == nil {
		log = observability.NewNopLogger()
	}
	return &Generator{submitter: submitter, store: store, log: log}
}

// rawCard is the provider's per-card response shape.
type rawCard struct {
	Text    string   `json:"text"`
	Facts   []string `json:"facts"`
	Context string   `json:"context"`
}

// clozePattern matches any numbered cloze opener.
var clozePattern = regexp.MustCompile(`\{\{c\d+::`)

// Run generates the draft card set for the slide sequence. Chunks already
// complete in the store are reused without a provider call; failed chunks
// are recorded and skipped over, never aborting the pass. The returned set
// is ordered by unit index regardless of dispatch completion order.
func (g *Generator) Run(ctx context.Context, all []slides.Slide, opts Options) (*types.CardSet, Stats, error) {
	chunks := Partition(all, opts.BatchSize)
	stats := Stats{Failures: make(map[int]string)}

	existing, err := g.store.Load(ctx, opts.JobID)
	if err != nil {
		return nil, stats, fmt.Errorf("failed to load progress: %w", err)
	}

	chunkCards := make([][]types.Card, len(chunks))
	var pendingIdx []int

	for i, chunk := range chunks {
		rec, ok := existing[progress.UnitKey{Stage: progress.StageDraft, Unit: chunk.Start}]
		if ok && rec.Status == progress.StatusComplete {
			cards, err := g.cardsFromPayload(chunk, rec.Payload, opts)
			if err != nil {
				// A complete record with an unreadable payload is redone
				// rather than trusted.
				g.log.Warn("stored payload unreadable, redoing unit",
					"job", opts.JobID, "unit", chunk.Start, "error", err)
				pendingIdx = append(pendingIdx, i)
				continue
			}
			g.log.Debug("skipping completed unit", "job", opts.JobID, "unit", chunk.Start)
			chunkCards[i] = cards
			stats.SkippedUnits++
			continue
		}
		pendingIdx = append(pendingIdx, i)
	}

	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	type outcome struct {
		cards []types.Card
		err   error
	}
	outcomes := make([]outcome, len(chunks))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(concurrency)

	for _, i := range pendingIdx {
		chunk := chunks[i]
		eg.Go(func() error {
			cards, err := g.processChunk(egCtx, chunk, opts)
			outcomes[i] = outcome{cards: cards, err: err}
			// Unit failures are recorded, not propagated: only context
			// cancellation stops the pass.
			if egCtx.Err() != nil {
				return egCtx.Err()
			}
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, stats, err
	}

	for _, i := range pendingIdx {
		if outcomes[i].err != nil {
			stats.FailedUnits++
			stats.Failures[chunks[i].Start] = outcomes[i].err.Error()
			continue
		}
		chunkCards[i] = outcomes[i].cards
		stats.CompleteUnits++
	}

	set := &types.CardSet{Name: opts.Lecture}
	for _, cards := range chunkCards {
		set.Cards = append(set.Cards, cards...)
	}
	set.SortByUnit()

	return set, stats, nil
}

// processChunk dispatches one chunk through the gateway and commits the
// result. The in_progress marker is written before dispatch so a crash
// mid-call is detected on the next run.
func (g *Generator) processChunk(ctx context.Context, chunk Chunk, opts Options) ([]types.Card, error) {
	key := progress.UnitKey{Stage: progress.StageDraft, Unit: chunk.Start}

	if err := g.store.Upsert(ctx, opts.JobID, progress.Record{
		Stage:     progress.StageDraft,
		Unit:      chunk.Start,
		UnitEnd:   chunk.End,
		Status:    progress.StatusInProgress,
		UpdatedAt: time.Now().UTC(),
	}); err != nil {
		return nil, fmt.Errorf("failed to mark unit in progress: %w", err)
	}

	raw, err := g.submitter.Submit(ctx, gateway.Request{
		Prompt:         g.buildPrompt(chunk, opts),
		StrictAddendum: prompts.MustGet("generation.json", "strict-json-retry"),
		Images:         chunk.Images(),
		Schema:         schemas.DraftCards,
		Tier:           opts.Tier,
		Call: gateway.CallContext{
			Job:     opts.JobID,
			Stage:   string(progress.StageDraft),
			Unit:    chunk.Start,
			UnitEnd: chunk.End,
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		g.log.Error("unit failed", "job", opts.JobID, "unit", chunk.Start,
			"retries", attemptCount(err), "error", err)
		if uerr := g.store.Upsert(ctx, opts.JobID, progress.Record{
			Stage:     progress.StageDraft,
			Unit:      chunk.Start,
			UnitEnd:   chunk.End,
			Status:    progress.StatusFailed,
			Failure:   err.Error(),
			Retries:   attemptCount(err),
			UpdatedAt: time.Now().UTC(),
		}); uerr != nil {
			g.log.Error("failed to record unit failure", "job", opts.JobID, "unit", chunk.Start, "error", uerr)
		}
		return nil, err
	}

	cards, err := g.cardsFromPayload(chunk, json.RawMessage(raw), opts)
	if err != nil {
		// The gateway validated the schema, so this indicates a bug rather
		// than provider behavior; still recorded as a unit failure.
		return nil, err
	}

	if err := g.store.Upsert(ctx, opts.JobID, progress.Record{
		Stage:     progress.StageDraft,
		Unit:      chunk.Start,
		UnitEnd:   chunk.End,
		Status:    progress.StatusComplete,
		Payload:   json.RawMessage(raw),
		UpdatedAt: time.Now().UTC(),
	}); err != nil {
		return nil, fmt.Errorf("failed to commit unit %s: %w", key, err)
	}

	g.log.Info("unit complete", "job", opts.JobID, "unit", chunk.Start, "cards", len(cards))
	return cards, nil
}

// buildPrompt renders the draft instruction for a chunk.
func (g *Generator) buildPrompt(chunk Chunk, opts Options) string {
	clozeKey := "cloze-multi"
	if opts.SingleCard {
		clozeKey = "cloze-single"
	}
	return prompts.Format(prompts.MustGet("generation.json", "draft-slide"), map[string]string{
		"SlideRange":       chunk.Label(),
		"LectureName":      opts.Lecture,
		"ClozeInstruction": prompts.MustGet("generation.json", clozeKey),
	})
}

// cardsFromPayload converts a stored or fresh provider payload into cards
// attributed to the chunk.
func (g *Generator) cardsFromPayload(chunk Chunk, payload json.RawMessage, opts Options) ([]types.Card, error) {
	var raw []rawCard
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode card payload for unit %d: %w", chunk.Start, err)
	}

	image := ""
	if len(chunk.Slides) > 0 {
		image = chunk.Slides[0].Filename
	}

	tags := make([]string, 0, len(opts.Tags)+2)
	tags = append(tags, fmt.Sprintf("slide_%d", chunk.Start), types.NormalizeTag(opts.Lecture))
	for _, t := range opts.Tags {
		tags = append(tags, types.NormalizeTag(t))
	}

	cards := make([]types.Card, 0, len(raw))
	for i, rc := range raw {
		text := rc.Text
		if opts.SingleCard {
			text = clozePattern.ReplaceAllString(text, "{{c1::")
		}
		cards = append(cards, types.Card{
			ID:      types.CardID(chunk.Start, i+1),
			Unit:    chunk.Start,
			Text:    text,
			Facts:   rc.Facts,
			Context: rc.Context,
			Tags:    append([]string(nil), tags...),
			Image:   image,
			Lineage: types.LineageOriginal,
		})
	}
	return cards, nil
}

// attemptCount extracts the retry count from gateway errors for the
// failure record.
func attemptCount(err error) int {
	var unavailable *gateway.ProviderUnavailableError
	if errors.As(err, &unavailable) {
		return unavailable.Attempts
	}
	var schemaErr *gateway.SchemaError
	if errors.As(err, &schemaErr) {
		return schemaErr.Attempts
	}
	return 0
}
