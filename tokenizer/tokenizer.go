// Package tokenizer provides token counting for the layered context engine.
//
// The retrieval engine itself never recomputes token costs (stored node
// estimates are authoritative); these tokenizers serve the archive writer
// and the evaluation harness, which need fresh estimates for new text.
package tokenizer

import "github.com/BaSui01/contextflow/types"

// Tokenizer counts tokens in raw text and in message transcripts.
type Tokenizer interface {
	// CountTokens counts tokens in a text string.
	CountTokens(text string) (int, error)
	// CountMessages counts total tokens in a transcript, including
	// per-message overhead.
	CountMessages(msgs []types.Message) (int, error)
	// Name identifies the implementation for logging.
	Name() string
}

// EstimateText is the degrade-path estimator used when no tokenizer is
// configured: the classic len/4 heuristic.
func EstimateText(text string) int {
	if text == "" {
		return 0
	}
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}
