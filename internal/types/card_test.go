package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCardID(t *testing.T) {
	assert.Equal(t, "u003-c01", CardID(3, 1))
	assert.Equal(t, "u012-c10", CardID(12, 10))
}

func TestCardSet_SortByUnit(t *testing.T) {
	set := &CardSet{
		Cards: []Card{
			{ID: CardID(5, 1), Unit: 5},
			{ID: CardID(1, 2), Unit: 1},
			{ID: CardID(1, 1), Unit: 1},
			{ID: CardID(3, 1), Unit: 3},
		},
	}

	set.SortByUnit()

	var order []string
	for _, c := range set.Cards {
		order = append(order, c.ID)
	}
	assert.Equal(t, []string{"u001-c01", "u001-c02", "u003-c01", "u005-c01"}, order)
}

func TestCardSet_Units(t *testing.T) {
	set := &CardSet{
		Cards: []Card{
			{ID: "a", Unit: 4},
			{ID: "b", Unit: 1},
			{ID: "c", Unit: 4},
		},
	}
	assert.Equal(t, []int{1, 4}, set.Units())
}

func TestCardSet_Clone_IsIndependent(t *testing.T) {
	set := &CardSet{
		Name: "draft",
		Cards: []Card{
			{ID: "a", Unit: 1, Facts: []string{"fact"}, Tags: []string{"tag"}},
		},
	}

	clone := set.Clone()
	require.Len(t, clone.Cards, 1)

	clone.Cards[0].Text = "mutated"
	clone.Cards[0].Facts[0] = "mutated"

	assert.Empty(t, set.Cards[0].Text)
	assert.Equal(t, "fact", set.Cards[0].Facts[0])
}

func TestNormalizeTag(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "spaces become underscores", input: "Cardiology Lecture 3", expected: "Cardiology_Lecture_3"},
		{name: "trimmed", input: "  gi physiology ", expected: "gi_physiology"},
		{name: "already clean", input: "medical", expected: "medical"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeTag(tt.input))
		})
	}
}
