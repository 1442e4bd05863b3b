package textsim

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "empty text",
			input:    "",
			expected: nil,
		},
		{
			name:     "lowercases and splits on punctuation",
			input:    "Deploy Failed: retry-loop",
			expected: []string{"deploy", "failed", "retry", "loop"},
		},
		{
			name:     "drops single-char ascii noise",
			input:    "a b redis cache",
			expected: []string{"redis", "cache"},
		},
		{
			name:     "cjk runes become single tokens",
			input:    "部署失败",
			expected: []string{"部", "署", "失", "败"},
		},
		{
			name:     "mixed ascii and cjk",
			input:    "redis缓存",
			expected: []string{"redis", "缓", "存"},
		},
		{
			name:     "digits kept",
			input:    "error 502 on gateway",
			expected: []string{"error", "502", "on", "gateway"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Tokenize(tt.input))
		})
	}
}

func TestTermSet(t *testing.T) {
	set := TermSet([]string{"redis", "cache", "redis"})
	assert.Len(t, set, 2)
	_, ok := set["redis"]
	assert.True(t, ok)
}
