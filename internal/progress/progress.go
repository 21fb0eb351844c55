// Package progress provides the durable per-unit completion state that
// makes generation runs resumable. A unit is one slide, or one configured
// batch of slides; its record survives process restarts and is the single
// source of truth consulted before any provider call is issued.
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Status is the lifecycle state of a unit within a stage.
type Status string

// Unit statuses. A unit found in_progress at load time is demoted to
// pending: the process died between dispatch and commit, so the unit must
// be redone rather than trusted.
const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
)

// Stage identifies which pipeline pass a record belongs to.
type Stage string

// Pipeline stages. StagePackaged holds a single job-level marker (unit 0)
// written after the deck bundle lands on disk, so folder runs can skip
// lectures that are already done.
const (
	StageDraft    Stage = "draft"
	StageRefined  Stage = "refined"
	StagePackaged Stage = "packaged"
)

// UnitKey addresses one record: the stage plus the first slide index of the
// unit's chunk.
type UnitKey struct {
	Stage Stage
	Unit  int
}

func (k UnitKey) String() string {
	return fmt.Sprintf("%s:%04d", k.Stage, k.Unit)
}

// ParseUnitKey parses the string form produced by UnitKey.String.
func ParseUnitKey(s string) (UnitKey, error) {
	stage, unitStr, ok := strings.Cut(s, ":")
	if !ok {
		return UnitKey{}, fmt.Errorf("malformed unit key %q", s)
	}
	unit, err := strconv.Atoi(unitStr)
	if err != nil {
		return UnitKey{}, fmt.Errorf("malformed unit key %q: %w", s, err)
	}
	return UnitKey{Stage: Stage(stage), Unit: unit}, nil
}

// Record is the persisted state of one unit of work.
type Record struct {
	Stage     Stage           `json:"stage"`
	Unit      int             `json:"unit"`     // first slide index of the chunk
	UnitEnd   int             `json:"unit_end"` // last slide index (== Unit when batching is off)
	Status    Status          `json:"status"`
	Payload   json.RawMessage `json:"payload,omitempty"` // raw structured response, set when complete
	Failure   string          `json:"failure,omitempty"`
	Retries   int             `json:"retries,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Key returns the record's address.
func (r Record) Key() UnitKey {
	return UnitKey{Stage: r.Stage, Unit: r.Unit}
}

// Store is the durable progress contract shared by all backends. Every
// successful Upsert must be persisted before the call returns; a record
// marked complete is immutable for the remainder of the job.
type Store interface {
	// Load returns all records for a job identity. Records that cannot be
	// deserialized, or that were left in_progress by a crashed run, are
	// returned as pending.
	Load(ctx context.Context, jobID string) (map[UnitKey]Record, error)
	// Upsert durably writes one unit's record. Writes to the same unit are
	// serialized; writes to different units may proceed concurrently.
	Upsert(ctx context.Context, jobID string, rec Record) error
	// IsComplete reports whether the unit is complete for its stage.
	IsComplete(ctx context.Context, jobID string, key UnitKey) (bool, error)
	// Clear discards every record for the job identity. Only invoked when
	// resume is explicitly disabled.
	Clear(ctx context.Context, jobID string) error
	Close() error
}

// normalize repairs records loaded from durable storage: a stale
// in_progress unit becomes pending, and a record with an unknown status is
// not trusted either.
func normalize(rec Record) Record {
	switch rec.Status {
	case StatusPending, StatusComplete, StatusFailed:
		return rec
	default:
		rec.Status = StatusPending
		rec.Payload = nil
		return rec
	}
}
