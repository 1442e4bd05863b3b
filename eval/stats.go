package eval

import (
	"math"
	"math/rand"
	"sort"
)

// Distribution 一个指标的描述统计。
type Distribution struct {
	Mean  float64 `json:"mean"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Count int     `json:"count"`
}

// Summarize 计算一组样本的描述统计；空样本返回零值。
func Summarize(values []float64) Distribution {
	if len(values) == 0 {
		return Distribution{}
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	return Distribution{
		Mean:  sum / float64(len(sorted)),
		P50:   percentile(sorted, 0.50),
		P95:   percentile(sorted, 0.95),
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		Count: len(sorted),
	}
}

// percentile 最近秩法取分位数；输入必须已排序。
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// CI 95% 置信区间。
type CI struct {
	Lower95    float64 `json:"lower95"`
	Upper95    float64 `json:"upper95"`
	Iterations int     `json:"iterations"`
}

const (
	bootstrapPerSample = 30
	bootstrapFloor     = 600
	bootstrapCap       = 3000
)

// BootstrapCI 对逐用例 delta 做有放回重采样，取每次重采样的均值，
// 排序后读 2.5/97.5 分位得到 95% 区间。迭代次数随样本量缩放
//（每样本 30 次，下限 600、上限 3000）；种子固定时结果可复现。
func BootstrapCI(deltas []float64, seed int64) CI {
	if len(deltas) == 0 {
		return CI{}
	}

	iterations := len(deltas) * bootstrapPerSample
	if iterations < bootstrapFloor {
		iterations = bootstrapFloor
	}
	if iterations > bootstrapCap {
		iterations = bootstrapCap
	}

	rng := rand.New(rand.NewSource(seed))
	means := make([]float64, iterations)
	for i := range means {
		var sum float64
		for range deltas {
			sum += deltas[rng.Intn(len(deltas))]
		}
		means[i] = sum / float64(len(deltas))
	}
	sort.Float64s(means)

	lowerIdx := int(0.025 * float64(iterations))
	upperIdx := int(0.975*float64(iterations)) - 1
	if upperIdx < lowerIdx {
		upperIdx = lowerIdx
	}
	return CI{
		Lower95:    means[lowerIdx],
		Upper95:    means[upperIdx],
		Iterations: iterations,
	}
}

// NullableRate 布尔或空标志的均值：空标志不参与计算；
// 没有任何可用标志时返回 nil。
func NullableRate(flags []*bool) *float64 {
	var applicable, hits int
	for _, f := range flags {
		if f == nil {
			continue
		}
		applicable++
		if *f {
			hits++
		}
	}
	if applicable == 0 {
		return nil
	}
	rate := float64(hits) / float64(applicable)
	return &rate
}
