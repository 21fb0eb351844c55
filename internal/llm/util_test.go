package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanJSONBlock(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "json fenced block",
			input:    "```json\n[{\"text\":\"a\"}]\n```",
			expected: `[{"text":"a"}]`,
		},
		{
			name:     "generic fenced block",
			input:    "```\n[1,2]\n```",
			expected: `[1,2]`,
		},
		{
			name:     "fenced block with language identifier",
			input:    "```javascript\n[1]\n```",
			expected: `[1]`,
		},
		{
			name:     "array on fence line kept",
			input:    "```[1]\n```",
			expected: `[1]`,
		},
		{
			name:     "plain json untouched",
			input:    `[{"text":"a"}]`,
			expected: `[{"text":"a"}]`,
		},
		{
			name:     "surrounding whitespace trimmed",
			input:    "  \n[1]\n ",
			expected: `[1]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CleanJSONBlock(tt.input))
		})
	}
}
