// Package refine implements the critique pass: draft cards are sent back to
// the provider for review and the returned keep/revise/drop/add decisions
// are merged into the final card set. The pass is fail-open: a chunk whose
// critique cannot be obtained keeps its draft cards unchanged.
package refine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mbecker/ankigen/internal/gateway"
	"github.com/mbecker/ankigen/internal/llm"
	"github.com/mbecker/ankigen/internal/observability"
	"github.com/mbecker/ankigen/internal/progress"
	"github.com/mbecker/ankigen/internal/prompts"
	"github.com/mbecker/ankigen/internal/schemas"
	"github.com/mbecker/ankigen/internal/types"
)

// defaultUnitsPerCall bounds how many slides' worth of cards one critique
// request reviews. Larger chunks give the critique more duplicate-detection
// context but risk truncated responses.
const defaultUnitsPerCall = 8

// Submitter is the gateway surface the merger depends on.
type Submitter interface {
	Submit(ctx context.Context, req gateway.Request) (string, error)
}

// Options configures one refinement pass.
type Options struct {
	JobID   string
	Lecture string
	// UnitsPerCall groups cards from this many consecutive source units
	// into one critique request. Zero uses the default.
	UnitsPerCall int
	Concurrency  int
	Tier         llm.ModelTier
}

// Stats summarizes a refinement pass.
type Stats struct {
	CompleteChunks int
	FailedChunks   int
	SkippedChunks  int // critiques already stored before this run
	Kept           int
	Revised        int
	Dropped        int
	Added          int
	Failures       map[int]string // chunk's first unit -> reason
}

// Merger runs critique calls and folds the decisions into the card set.
type Merger struct {
	submitter Submitter
	store     progress.Store
	log       *observability.Logger
}

// NewMerger builds a merger over the given gateway and progress store.
func NewMerger(submitter Submitter, store progress.Store, log *observability.Logger) *Merger {
	if log == nil {
		log = observability.NewNopLogger()
	}
	return &Merger{submitter: submitter, store: store, log: log}
}

// chunk is one critique unit: the cards of a run of consecutive source
// units, addressed by the first and last unit index.
type chunk struct {
	Start int
	End   int
	Cards []types.Card
}

// Run critiques the draft set and returns the merged result. The input set
// is never mutated. Chunks whose critique fails are carried through
// unchanged and recorded as failed; only context cancellation aborts the
// pass itself.
func (m *Merger) Run(ctx context.Context, draft *types.CardSet, opts Options) (*types.CardSet, Stats, error) {
	stats := Stats{Failures: make(map[int]string)}
	chunks := partitionByUnit(draft, opts.UnitsPerCall)
	if len(chunks) == 0 {
		return draft.Clone(), stats, nil
	}

	existing, err := m.store.Load(ctx, opts.JobID)
	if err != nil {
		return nil, stats, fmt.Errorf("loading refinement progress: %w", err)
	}

	type outcome struct {
		decisions []types.CritiqueDecision
		fromStore bool
		err       error
	}
	outcomes := make([]outcome, len(chunks))

	var pendingIdx []int
	for i, ch := range chunks {
		rec, ok := existing[progress.UnitKey{Stage: progress.StageRefined, Unit: ch.Start}]
		if ok && rec.Status == progress.StatusComplete {
			decisions, derr := decodeDecisions(rec.Payload)
			if derr == nil {
				outcomes[i] = outcome{decisions: decisions, fromStore: true}
				stats.SkippedChunks++
				continue
			}
			m.log.Warn("stored critique unreadable, redoing chunk",
				"job", opts.JobID, "unit", ch.Start, "error", derr)
		}
		pendingIdx = append(pendingIdx, i)
	}

	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	grp, grpCtx := errgroup.WithContext(ctx)
	grp.SetLimit(concurrency)
	for _, i := range pendingIdx {
		grp.Go(func() error {
			decisions, cerr := m.critiqueChunk(grpCtx, chunks[i], opts)
			outcomes[i] = outcome{decisions: decisions, err: cerr}
			if cerr != nil && grpCtx.Err() != nil {
				return grpCtx.Err()
			}
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, stats, err
	}

	merged := &types.CardSet{Name: draft.Name}
	for i, ch := range chunks {
		if outcomes[i].err != nil {
			stats.FailedChunks++
			stats.Failures[ch.Start] = outcomes[i].err.Error()
			// Fail open: the draft cards survive unreviewed.
			merged.Cards = append(merged.Cards, cloneCards(ch.Cards)...)
			continue
		}
		if !outcomes[i].fromStore {
			stats.CompleteChunks++
		}
		merged.Cards = append(merged.Cards, m.applyDecisions(ch, outcomes[i].decisions, opts, &stats)...)
	}
	merged.SortByUnit()
	return merged, stats, nil
}

// critiqueChunk submits one critique request and persists the decision
// payload, bracketing the call with in_progress and terminal records.
func (m *Merger) critiqueChunk(ctx context.Context, ch chunk, opts Options) ([]types.CritiqueDecision, error) {
	if err := m.store.Upsert(ctx, opts.JobID, progress.Record{
		Stage:     progress.StageRefined,
		Unit:      ch.Start,
		UnitEnd:   ch.End,
		Status:    progress.StatusInProgress,
		UpdatedAt: time.Now().UTC(),
	}); err != nil {
		return nil, fmt.Errorf("recording critique dispatch: %w", err)
	}

	cardsJSON, err := json.MarshalIndent(ch.Cards, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding cards for critique: %w", err)
	}

	raw, err := m.submitter.Submit(ctx, gateway.Request{
		Prompt: prompts.Format(prompts.MustGet("critique.json", "critique-cards"), map[string]string{
			"LectureName": opts.Lecture,
			"CardsJSON":   string(cardsJSON),
		}),
		StrictAddendum: prompts.MustGet("critique.json", "strict-json-retry"),
		Schema:         schemas.CritiqueDecisions,
		Tier:           opts.Tier,
		Call: gateway.CallContext{
			Job:     opts.JobID,
			Stage:   string(progress.StageRefined),
			Unit:    ch.Start,
			UnitEnd: ch.End,
		},
	})
	if err != nil {
		if uerr := m.store.Upsert(ctx, opts.JobID, progress.Record{
			Stage:     progress.StageRefined,
			Unit:      ch.Start,
			UnitEnd:   ch.End,
			Status:    progress.StatusFailed,
			Failure:   err.Error(),
			Retries:   attemptCount(err),
			UpdatedAt: time.Now().UTC(),
		}); uerr != nil {
			m.log.Error("recording critique failure", "job", opts.JobID, "unit", ch.Start, "error", uerr)
		}
		return nil, err
	}

	decisions, err := decodeDecisions(json.RawMessage(raw))
	if err != nil {
		return nil, fmt.Errorf("decoding critique response: %w", err)
	}

	if err := m.store.Upsert(ctx, opts.JobID, progress.Record{
		Stage:     progress.StageRefined,
		Unit:      ch.Start,
		UnitEnd:   ch.End,
		Status:    progress.StatusComplete,
		Payload:   json.RawMessage(raw),
		UpdatedAt: time.Now().UTC(),
	}); err != nil {
		return nil, fmt.Errorf("recording critique completion: %w", err)
	}
	return decisions, nil
}

// applyDecisions folds one chunk's decisions into its cards. Cards without
// a decision are kept unchanged; decisions naming unknown cards are
// dropped with a warning. Revisions keep the card's identity and source
// attribution and retain the prior text for audit.
func (m *Merger) applyDecisions(ch chunk, decisions []types.CritiqueDecision, opts Options, stats *Stats) []types.Card {
	byID := make(map[string]types.CritiqueDecision, len(decisions))
	var adds []types.CritiqueDecision
	for _, d := range decisions {
		if d.Action == types.ActionAdd {
			adds = append(adds, d)
			continue
		}
		if d.CardID == "" {
			m.log.Warn("critique decision without card id ignored",
				"job", opts.JobID, "unit", ch.Start, "action", d.Action)
			continue
		}
		if _, dup := byID[d.CardID]; dup {
			m.log.Warn("duplicate critique decision ignored",
				"job", opts.JobID, "card", d.CardID)
			continue
		}
		byID[d.CardID] = d
	}

	known := make(map[string]bool, len(ch.Cards))
	var out []types.Card
	for _, card := range ch.Cards {
		known[card.ID] = true
		d, ok := byID[card.ID]
		if !ok {
			kept := card
			kept.Lineage = types.LineageKept
			out = append(out, *cloneCard(&kept))
			stats.Kept++
			continue
		}
		switch d.Action {
		case types.ActionKeep:
			kept := card
			kept.Lineage = types.LineageKept
			out = append(out, *cloneCard(&kept))
			stats.Kept++
		case types.ActionDrop:
			m.log.Debug("card dropped by critique",
				"job", opts.JobID, "card", card.ID, "reason", d.Reason)
			stats.Dropped++
		case types.ActionRevise:
			revised := *cloneCard(&card)
			revised.PriorText = card.Text
			revised.Replaces = card.ID
			revised.Text = d.Text
			revised.Facts = append([]string(nil), d.Facts...)
			if d.Context != "" {
				revised.Context = d.Context
			}
			revised.Lineage = types.LineageRevised
			out = append(out, revised)
			stats.Revised++
		default:
			m.log.Warn("unknown critique action, keeping card",
				"job", opts.JobID, "card", card.ID, "action", d.Action)
			kept := card
			kept.Lineage = types.LineageKept
			out = append(out, *cloneCard(&kept))
			stats.Kept++
		}
	}

	for _, d := range byID {
		if !known[d.CardID] {
			m.log.Warn("critique decision names unknown card, ignored",
				"job", opts.JobID, "card", d.CardID)
		}
	}

	// Added cards attach to the chunk's first unit and inherit its tags so
	// they land next to the material they supplement.
	ordinal := nextOrdinal(ch.Cards, ch.Start)
	for _, d := range adds {
		if d.Text == "" {
			m.log.Warn("critique add without text ignored", "job", opts.JobID, "unit", ch.Start)
			continue
		}
		card := types.Card{
			ID:      types.CardID(ch.Start, ordinal),
			Unit:    ch.Start,
			Text:    d.Text,
			Facts:   append([]string(nil), d.Facts...),
			Context: d.Context,
			Lineage: types.LineageNew,
		}
		if len(ch.Cards) > 0 {
			card.Tags = append([]string(nil), ch.Cards[0].Tags...)
			card.Image = ch.Cards[0].Image
		}
		out = append(out, card)
		stats.Added++
		ordinal++
	}
	return out
}

// partitionByUnit groups the set's cards into runs of at most unitsPerCall
// consecutive distinct source units, preserving unit order.
func partitionByUnit(set *types.CardSet, unitsPerCall int) []chunk {
	if unitsPerCall < 1 {
		unitsPerCall = defaultUnitsPerCall
	}
	units := set.Units()
	if len(units) == 0 {
		return nil
	}

	byUnit := make(map[int][]types.Card)
	for _, c := range set.Cards {
		byUnit[c.Unit] = append(byUnit[c.Unit], c)
	}

	var chunks []chunk
	for start := 0; start < len(units); start += unitsPerCall {
		end := start + unitsPerCall
		if end > len(units) {
			end = len(units)
		}
		ch := chunk{Start: units[start], End: units[end-1]}
		for _, u := range units[start:end] {
			ch.Cards = append(ch.Cards, byUnit[u]...)
		}
		chunks = append(chunks, ch)
	}
	return chunks
}

// nextOrdinal returns the first unused card ordinal for unit within cards.
func nextOrdinal(cards []types.Card, unit int) int {
	next := 1
	for _, c := range cards {
		if c.Unit != unit {
			continue
		}
		var u, ord int
		if _, err := fmt.Sscanf(c.ID, "u%03d-c%02d", &u, &ord); err == nil && ord >= next {
			next = ord + 1
		}
	}
	return next
}

func decodeDecisions(payload json.RawMessage) ([]types.CritiqueDecision, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty critique payload")
	}
	var decisions []types.CritiqueDecision
	if err := json.Unmarshal(payload, &decisions); err != nil {
		return nil, err
	}
	return decisions, nil
}

func cloneCard(c *types.Card) *types.Card {
	out := *c
	out.Facts = append([]string(nil), c.Facts...)
	out.Tags = append([]string(nil), c.Tags...)
	return &out
}

func cloneCards(cards []types.Card) []types.Card {
	out := make([]types.Card, len(cards))
	for i := range cards {
		out[i] = *cloneCard(&cards[i])
	}
	return out
}

func attemptCount(err error) int {
	var pu *gateway.ProviderUnavailableError
	if errors.As(err, &pu) {
		return pu.Attempts
	}
	var se *gateway.SchemaError
	if errors.As(err, &se) {
		return se.Attempts
	}
	return 0
}
