// Package dense 提供可选的稠密打分能力：把候选节点交给外部嵌入服务
// 打分，再与稀疏分数混合。这是一个纯增强：任何失败（网络、超时、凭证
// 缺失、响应不合法）都返回空 map，检索引擎自动退化为纯稀疏打分。
package dense

import "context"

// Candidate is one node's text handed to the scorer.
type Candidate struct {
	NodeID  string
	Content string
}

// Scorer scores candidates against a query. The returned map holds scores
// in [0,1] keyed by node id; an empty map means "no dense signal" and is
// the mandatory failure behavior — implementations never return an error.
type Scorer interface {
	Scores(ctx context.Context, query string, candidates []Candidate) map[string]float64
}

// NopScorer always returns no scores, yielding sparse-only retrieval.
type NopScorer struct{}

func (NopScorer) Scores(context.Context, string, []Candidate) map[string]float64 {
	return map[string]float64{}
}

var _ Scorer = NopScorer{}
