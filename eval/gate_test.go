package eval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func summaryWith(savings, recallDelta float64, adequacy, loss *float64) *Summary {
	return &Summary{
		SavingsRatio:        Distribution{Mean: savings},
		RecallDelta:         Distribution{Mean: recallDelta},
		LayerAdequacyRate:   adequacy,
		InformationLossRate: loss,
	}
}

func criterion(t *testing.T, res GateResult, name string) Criterion {
	t.Helper()
	for _, c := range res.Criteria {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("criterion %s not reported", name)
	return Criterion{}
}

func TestEvaluateGate(t *testing.T) {
	adequacy, loss := 0.9, 0.02
	th := DefaultGateThresholds()

	t.Run("all criteria pass", func(t *testing.T) {
		res := EvaluateGate(summaryWith(0.25, -0.01, &adequacy, &loss), th)
		assert.True(t, res.Passed)
		require.Len(t, res.Criteria, 4)
		for _, c := range res.Criteria {
			assert.True(t, c.Passed, c.Name)
		}
	})

	t.Run("bounded recall drop passes", func(t *testing.T) {
		// -0.01 >= -0.03：允许的有界退化
		res := EvaluateGate(summaryWith(0.25, -0.01, nil, nil), th)
		assert.True(t, criterion(t, res, "evidence_recall").Passed)
	})

	t.Run("excessive recall drop fails", func(t *testing.T) {
		res := EvaluateGate(summaryWith(0.25, -0.05, &adequacy, &loss), th)
		assert.False(t, res.Passed)
		assert.False(t, criterion(t, res, "evidence_recall").Passed)
		// 其余判据仍然各自报告
		assert.True(t, criterion(t, res, "token_savings").Passed)
	})

	t.Run("insufficient savings fails", func(t *testing.T) {
		res := EvaluateGate(summaryWith(0.10, 0.0, &adequacy, &loss), th)
		assert.False(t, res.Passed)
		assert.False(t, criterion(t, res, "token_savings").Passed)
	})

	t.Run("high information loss fails", func(t *testing.T) {
		bad := 0.2
		res := EvaluateGate(summaryWith(0.25, 0.0, &adequacy, &bad), th)
		assert.False(t, res.Passed)
		assert.False(t, criterion(t, res, "information_loss").Passed)
	})

	t.Run("low layer adequacy fails", func(t *testing.T) {
		bad := 0.5
		res := EvaluateGate(summaryWith(0.25, 0.0, &bad, &loss), th)
		assert.False(t, res.Passed)
		assert.False(t, criterion(t, res, "layer_adequacy").Passed)
	})

	t.Run("null rates auto-pass", func(t *testing.T) {
		res := EvaluateGate(summaryWith(0.25, 0.0, nil, nil), th)
		assert.True(t, res.Passed)
		assert.True(t, criterion(t, res, "information_loss").Passed)
		assert.True(t, criterion(t, res, "layer_adequacy").Passed)
		assert.Contains(t, criterion(t, res, "layer_adequacy").Detail, "automatic pass")
	})
}
