// Package types defines the shared data structures exchanged between
// pipeline stages: cards, card sets, and critique decisions.
package types

import (
	"fmt"
	"sort"
	"strings"
)

// Lineage records how a card entered the final set.
type Lineage string

// Lineage values. A draft card starts as LineageOriginal; after the
// refinement pass it is either kept, revised (with a back-reference to the
// card it replaces), or newly introduced by the critique.
const (
	LineageOriginal Lineage = "original"
	LineageKept     Lineage = "kept"
	LineageRevised  Lineage = "revised"
	LineageNew      Lineage = "new"
)

// Card is the atomic output unit of the pipeline.
type Card struct {
	ID      string   `json:"id"`
	Unit    int      `json:"unit"` // source slide index (1-based)
	Text    string   `json:"text"` // cloze-bearing text ({{c1::...}})
	Facts   []string `json:"facts,omitempty"`
	Context string   `json:"context,omitempty"`
	Tags    []string `json:"tags,omitempty"`
	Image   string   `json:"image,omitempty"` // slide image filename, if any

	Lineage   Lineage `json:"lineage"`
	Replaces  string  `json:"replaces,omitempty"`   // ID of the card a revision supersedes
	PriorText string  `json:"prior_text,omitempty"` // pre-revision text, kept for audit
}

// CardID builds the stable identifier for the n-th card emitted for a unit.
// Identifiers are deterministic so that repeated runs over unchanged input
// name the same cards.
func CardID(unit, ordinal int) string {
	return fmt.Sprintf("u%03d-c%02d", unit, ordinal)
}

// CardSet is an ordered, named sequence of cards for one job.
type CardSet struct {
	Name  string `json:"name"`
	Cards []Card `json:"cards"`
}

// SortByUnit orders cards by source unit index, then by intra-unit emission
// order (the card ID encodes it). Completion order of concurrent dispatches
// must never leak into output order.
func (s *CardSet) SortByUnit() {
	sort.SliceStable(s.Cards, func(i, j int) bool {
		if s.Cards[i].Unit != s.Cards[j].Unit {
			return s.Cards[i].Unit < s.Cards[j].Unit
		}
		return s.Cards[i].ID < s.Cards[j].ID
	})
}

// Units returns the distinct unit indexes present in the set, ascending.
func (s *CardSet) Units() []int {
	seen := make(map[int]bool)
	var units []int
	for _, c := range s.Cards {
		if !seen[c.Unit] {
			seen[c.Unit] = true
			units = append(units, c.Unit)
		}
	}
	sort.Ints(units)
	return units
}

// FindByID returns the card with the given ID, or nil.
func (s *CardSet) FindByID(id string) *Card {
	for i := range s.Cards {
		if s.Cards[i].ID == id {
			return &s.Cards[i]
		}
	}
	return nil
}

// Clone returns a deep copy of the set.
func (s *CardSet) Clone() *CardSet {
	out := &CardSet{Name: s.Name, Cards: make([]Card, len(s.Cards))}
	for i, c := range s.Cards {
		out.Cards[i] = c
		out.Cards[i].Facts = append([]string(nil), c.Facts...)
		out.Cards[i].Tags = append([]string(nil), c.Tags...)
	}
	return out
}

// CritiqueAction is the decision the critique pass returns per card.
type CritiqueAction string

// Critique actions. "add" introduces a supplementary card not tied to an
// existing draft card.
const (
	ActionKeep   CritiqueAction = "keep"
	ActionRevise CritiqueAction = "revise"
	ActionDrop   CritiqueAction = "drop"
	ActionAdd    CritiqueAction = "add"
)

// CritiqueDecision is one entry of a critique response.
type CritiqueDecision struct {
	CardID  string         `json:"card_id,omitempty"`
	Action  CritiqueAction `json:"action"`
	Text    string         `json:"text,omitempty"`
	Facts   []string       `json:"facts,omitempty"`
	Context string         `json:"context,omitempty"`
	Reason  string         `json:"reason,omitempty"`
}

// NormalizeTag converts a free-form label into a single Anki-safe tag
// (tags are whitespace separated in Anki, so spaces become underscores).
func NormalizeTag(label string) string {
	return strings.ReplaceAll(strings.TrimSpace(label), " ", "_")
}
