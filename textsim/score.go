package textsim

import (
	"math"
	"strings"
)

// substringBonus 内容逐字包含整条查询时的加分。
const substringBonus = 0.15

// SparseOverlap 用逆频率加权的词项重叠给 content 相对 query 打分，
// 返回 [0,1]。查询里重复出现的词权重被压低（1/(1+ln(1+tf))），
// 内容逐字包含整条查询时再加一个固定加分。
func SparseOverlap(query, content string) float64 {
	queryTokens := Tokenize(query)
	if len(queryTokens) == 0 {
		return 0
	}

	// 查询词频
	tf := make(map[string]int, len(queryTokens))
	for _, t := range queryTokens {
		tf[t]++
	}

	contentSet := TermSet(Tokenize(content))

	var matched, total float64
	for term, count := range tf {
		w := 1.0 / (1.0 + math.Log(1.0+float64(count)))
		total += w
		if _, ok := contentSet[term]; ok {
			matched += w
		}
	}
	if total == 0 {
		return 0
	}

	score := matched / total

	q := strings.TrimSpace(strings.ToLower(query))
	if q != "" && strings.Contains(strings.ToLower(content), q) {
		score += substringBonus
	}

	return Clamp01(score)
}

// Metric 标识稠密打分器返回的原始度量类型。
type Metric string

const (
	MetricCosine Metric = "cosine"
	MetricDot    Metric = "dot"
	MetricL2     Metric = "l2"
)

// NormalizeDense 把任意原始度量映射到 [0,1]，使稀疏/稠密分数可混合：
// cosine [-1,1] 线性映射；内积过 sigmoid；L2 距离取 1/(1+d)。
func NormalizeDense(raw float64, metric Metric) float64 {
	switch metric {
	case MetricDot:
		return Clamp01(1.0 / (1.0 + math.Exp(-raw)))
	case MetricL2:
		if raw < 0 {
			raw = 0
		}
		return Clamp01(1.0 / (1.0 + raw))
	default: // cosine
		return Clamp01((raw + 1.0) / 2.0)
	}
}

// Blend 以权重 w 做稀疏/稠密分数的凸组合；w 被截断到 [0,1]。
func Blend(sparse, dense, w float64) float64 {
	w = Clamp01(w)
	return Clamp01((1.0-w)*sparse + w*dense)
}

// Clamp01 把 x 截断到 [0,1]；NaN 记 0。
func Clamp01(x float64) float64 {
	if math.IsNaN(x) || x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// Cosine 计算两个向量的余弦相似度；维度不符或零向量返回 0。
func Cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
