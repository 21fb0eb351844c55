package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdentity_StableAcrossRuns(t *testing.T) {
	d := JobDescriptor{
		Sources:    []string{"lectures/cardiology.pdf"},
		SingleCard: true,
		BatchSize:  1,
		Refine:     true,
		Model:      "gemini-2.5-flash",
	}
	assert.Equal(t, Identity(d), Identity(d))
}

func TestIdentity_SourceOrderDoesNotMatter(t *testing.T) {
	a := Identity(JobDescriptor{Sources: []string{"a.pdf", "b.pdf"}, BatchSize: 1})
	b := Identity(JobDescriptor{Sources: []string{"b.pdf", "a.pdf"}, BatchSize: 1})
	assert.Equal(t, a, b)
}

func TestIdentity_ConfigChangesIdentity(t *testing.T) {
	base := JobDescriptor{Sources: []string{"a.pdf"}, BatchSize: 1, Model: "gemini-2.5-flash"}

	variants := []JobDescriptor{
		{Sources: []string{"other.pdf"}, BatchSize: 1, Model: base.Model},
		{Sources: base.Sources, SingleCard: true, BatchSize: 1, Model: base.Model},
		{Sources: base.Sources, BatchSize: 5, Model: base.Model},
		{Sources: base.Sources, BatchSize: 1, Refine: true, Model: base.Model},
		{Sources: base.Sources, BatchSize: 1, Model: "gemini-2.5-pro"},
	}

	baseID := Identity(base)
	for _, v := range variants {
		assert.NotEqual(t, baseID, Identity(v))
	}
}

func TestIdentity_ZeroBatchNormalizedToOne(t *testing.T) {
	a := Identity(JobDescriptor{Sources: []string{"a.pdf"}, BatchSize: 0})
	b := Identity(JobDescriptor{Sources: []string{"a.pdf"}, BatchSize: 1})
	assert.Equal(t, a, b)
}
