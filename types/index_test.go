package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLayerRank(t *testing.T) {
	tests := []struct {
		name  string
		layer Layer
		rank  int
	}{
		{"L0", LayerL0, 0},
		{"L1", LayerL1, 1},
		{"L2", LayerL2, 2},
		{"unknown layer ranks below L0", Layer("L9"), -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.rank, tt.layer.Rank())
		})
	}
}

func TestLayerAtLeast(t *testing.T) {
	assert.True(t, LayerL2.AtLeast(LayerL0))
	assert.True(t, LayerL1.AtLeast(LayerL1))
	assert.False(t, LayerL0.AtLeast(LayerL1))
	assert.False(t, Layer("").AtLeast(LayerL0))
}

func TestTokenEstimateForLayer(t *testing.T) {
	est := TokenEstimate{L0: 10, L1: 40, L2: 300}
	assert.Equal(t, 10, est.ForLayer(LayerL0))
	assert.Equal(t, 40, est.ForLayer(LayerL1))
	assert.Equal(t, 300, est.ForLayer(LayerL2))
	// 未知层级按 L0 处理
	assert.Equal(t, 10, est.ForLayer(Layer("bogus")))
}

func TestBaselineL2Tokens(t *testing.T) {
	var nilDoc *IndexDocument
	assert.Equal(t, 0, nilDoc.BaselineL2Tokens())

	doc := &IndexDocument{
		Nodes: []Node{
			{ID: "a", TokenEstimate: TokenEstimate{L2: 100}},
			{ID: "b", TokenEstimate: TokenEstimate{L2: 250}},
		},
	}
	assert.Equal(t, 350, doc.BaselineL2Tokens())
}

func TestTokenUsage(t *testing.T) {
	var u TokenUsage
	u.Add(LayerL0, 12)
	u.Add(LayerL1, 40)
	u.Add(LayerL2, 300)
	u.Add(LayerL0, 8)

	assert.Equal(t, 20, u.L0Tokens)
	assert.Equal(t, 40, u.L1Tokens)
	assert.Equal(t, 300, u.L2Tokens)
	assert.Equal(t, 360, u.Total)

	u.Finalize(720)
	assert.Equal(t, 360, u.Savings)
	assert.InDelta(t, 0.5, u.SavingsRatio, 1e-9)
}

func TestTokenUsageFinalizeZeroBaseline(t *testing.T) {
	var u TokenUsage
	u.Add(LayerL0, 5)
	u.Finalize(0)
	assert.Equal(t, 0.0, u.SavingsRatio)
	assert.Equal(t, -5, u.Savings)
}

func TestContextText(t *testing.T) {
	r := &RetrievalResult{Selections: []Selection{
		{NodeID: "root", Content: "session summary"},
		{NodeID: "a", Content: "details about deploys"},
	}}
	assert.Equal(t, "session summary\n\ndetails about deploys", r.ContextText())

	var empty *RetrievalResult
	assert.Equal(t, "", empty.ContextText())
}
