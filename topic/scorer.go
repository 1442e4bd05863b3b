package topic

import (
	"context"

	"github.com/BaSui01/contextflow/textsim"
)

// Relevance 查询对主/临时话题参照的相关度，均在 [0,1]。
type Relevance struct {
	Main float64 `json:"rel_main"`
	Temp float64 `json:"rel_temp"`
}

// failOpen 打分器故障时的返回值：假定对两个话题都最大相关，
// 使状态机在故障期间倾向于不迁移。
var failOpen = Relevance{Main: 1, Temp: 1}

// Scorer 给查询对两个话题参照打相关度分。实现不返回错误：
// 任何故障都以 failOpen 值吸收。
type Scorer interface {
	Relevance(ctx context.Context, query, mainRef, tempRef string) Relevance
}

// HeuristicScorer 纯本地的词项重叠打分器，无外部依赖，
// 作为 LLM 打分器不可用时的默认实现。
type HeuristicScorer struct{}

// NewHeuristicScorer 创建启发式打分器。
func NewHeuristicScorer() HeuristicScorer {
	return HeuristicScorer{}
}

// Relevance 用稀疏重叠分别给两个参照打分；空参照记 0 分。
func (HeuristicScorer) Relevance(_ context.Context, query, mainRef, tempRef string) Relevance {
	var rel Relevance
	if mainRef != "" {
		rel.Main = textsim.SparseOverlap(query, mainRef)
	}
	if tempRef != "" {
		rel.Temp = textsim.SparseOverlap(query, tempRef)
	}
	return rel
}

var _ Scorer = HeuristicScorer{}
