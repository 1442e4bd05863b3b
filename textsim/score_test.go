package textsim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestSparseOverlap(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		content string
		check   func(t *testing.T, score float64)
	}{
		{
			name:    "empty query scores zero",
			query:   "",
			content: "anything",
			check:   func(t *testing.T, s float64) { assert.Equal(t, 0.0, s) },
		},
		{
			name:    "no overlap scores zero without substring",
			query:   "redis cache eviction",
			content: "telegram webhook setup",
			check:   func(t *testing.T, s float64) { assert.Equal(t, 0.0, s) },
		},
		{
			name:    "full overlap plus substring saturates at 1",
			query:   "redis cache",
			content: "we discussed redis cache eviction policies",
			check:   func(t *testing.T, s float64) { assert.Equal(t, 1.0, s) },
		},
		{
			name:    "partial overlap lands strictly between",
			query:   "redis cache eviction",
			content: "the redis instance restarted",
			check: func(t *testing.T, s float64) {
				assert.Greater(t, s, 0.0)
				assert.Less(t, s, 1.0)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, SparseOverlap(tt.query, tt.content))
		})
	}
}

func TestSparseOverlapRepeatedTermsDownweighted(t *testing.T) {
	// 查询里重复的词不应把单一命中推成高分。
	repeated := SparseOverlap("redis redis redis timeout", "redis is up")
	balanced := SparseOverlap("redis timeout", "redis is up")
	assert.InDelta(t, balanced, repeated, 0.25)
	assert.Less(t, repeated, 1.0)
}

func TestSparseOverlapSubstringCaseInsensitive(t *testing.T) {
	s := SparseOverlap("Deploy Pipeline", "our DEPLOY PIPELINE broke at stage two")
	assert.Equal(t, 1.0, s)
}

func TestNormalizeDense(t *testing.T) {
	tests := []struct {
		name     string
		raw      float64
		metric   Metric
		expected float64
	}{
		{"cosine -1 maps to 0", -1, MetricCosine, 0},
		{"cosine 0 maps to 0.5", 0, MetricCosine, 0.5},
		{"cosine 1 maps to 1", 1, MetricCosine, 1},
		{"l2 zero distance maps to 1", 0, MetricL2, 1},
		{"l2 large distance approaches 0", 99, MetricL2, 0.01},
		{"dot zero maps to 0.5", 0, MetricDot, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, NormalizeDense(tt.raw, tt.metric), 1e-9)
		})
	}
}

func TestBlend(t *testing.T) {
	assert.InDelta(t, 0.5, Blend(0.5, 0.5, 0.3), 1e-9)
	assert.InDelta(t, 0.2, Blend(0.2, 0.9, 0), 1e-9)
	assert.InDelta(t, 0.9, Blend(0.2, 0.9, 1), 1e-9)
	// 权重越界时截断而不是外推
	assert.InDelta(t, 0.9, Blend(0.2, 0.9, 3), 1e-9)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float64{1, 0}, []float64{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.Equal(t, 0.0, Cosine([]float64{1, 0}, []float64{1}))
	assert.Equal(t, 0.0, Cosine(nil, nil))
	assert.Equal(t, 0.0, Cosine([]float64{0, 0}, []float64{1, 1}))
}

func TestScoreRangeProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		query := rapid.StringN(0, 64, -1).Draw(t, "query")
		content := rapid.StringN(0, 256, -1).Draw(t, "content")

		s := SparseOverlap(query, content)
		if s < 0 || s > 1 {
			t.Fatalf("SparseOverlap out of range: %v", s)
		}

		raw := rapid.Float64Range(-100, 100).Draw(t, "raw")
		metric := rapid.SampledFrom([]Metric{MetricCosine, MetricDot, MetricL2}).Draw(t, "metric")
		d := NormalizeDense(raw, metric)
		if d < 0 || d > 1 {
			t.Fatalf("NormalizeDense out of range: %v", d)
		}

		w := rapid.Float64Range(-1, 2).Draw(t, "weight")
		b := Blend(s, d, w)
		if b < 0 || b > 1 {
			t.Fatalf("Blend out of range: %v", b)
		}
	})
}
