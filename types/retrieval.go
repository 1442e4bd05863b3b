package types

// QueryMode 是查询精度需求的粗分类。
type QueryMode string

const (
	// QueryModeBroad 宽泛问题，低层级摘要通常足够。
	QueryModeBroad QueryMode = "broad"
	// QueryModeStructured 结构性问题（总结、架构、流程）。
	QueryModeStructured QueryMode = "structured"
	// QueryModePrecise 精确问题（代码、报错、路径），倾向直达全文层。
	QueryModePrecise QueryMode = "precise"
)

// Selection 是一次检索结果中的一条入选内容。
type Selection struct {
	NodeID          string  `json:"node_id"`
	Layer           Layer   `json:"layer"`
	Content         string  `json:"content"`
	Score           float64 `json:"score"`
	EstimatedTokens int     `json:"estimated_tokens"`
	// Reason 人类可读的入选理由，供决策审计。
	Reason string `json:"reason"`
}

// EscalationDecision 描述一次检索的升级决策，纯描述性，不改变状态。
type EscalationDecision struct {
	ReachedLayer   Layer     `json:"reached_layer"`
	Reason         string    `json:"reason"`
	Top1Score      float64   `json:"top1_score"`
	Top1Top2Margin float64   `json:"top1_top2_margin"`
	QueryMode      QueryMode `json:"query_mode"`
}

// TokenUsage 是一次检索的 token 账目。
// BaselineL2 是"不压缩、全部 L2 展开"的成本，用于计算节省比例。
type TokenUsage struct {
	L0Tokens     int     `json:"l0_tokens"`
	L1Tokens     int     `json:"l1_tokens"`
	L2Tokens     int     `json:"l2_tokens"`
	Total        int     `json:"total"`
	BaselineL2   int     `json:"baseline_l2"`
	Savings      int     `json:"savings"`
	SavingsRatio float64 `json:"savings_ratio"`
}

// Add 按层级累计一条入选内容的 token 开销。
func (u *TokenUsage) Add(layer Layer, tokens int) {
	switch layer {
	case LayerL1:
		u.L1Tokens += tokens
	case LayerL2:
		u.L2Tokens += tokens
	default:
		u.L0Tokens += tokens
	}
	u.Total += tokens
}

// Finalize 在账目累计完成后计算节省量；baseline 为 0 时比例记 0。
// Savings 保留原始差值（可为负，如根摘要开销超过了一个很小的基线），
// SavingsRatio 截断在 [0,1]。
func (u *TokenUsage) Finalize(baselineL2 int) {
	u.BaselineL2 = baselineL2
	u.Savings = baselineL2 - u.Total
	if baselineL2 <= 0 {
		u.SavingsRatio = 0
		return
	}
	ratio := float64(u.Savings) / float64(baselineL2)
	if ratio < 0 {
		ratio = 0
	} else if ratio > 1 {
		ratio = 1
	}
	u.SavingsRatio = ratio
}

// RetrievalResult 是 Retrieve 的完整返回：入选内容、决策与账目。
type RetrievalResult struct {
	Selections []Selection        `json:"selections"`
	Decision   EscalationDecision `json:"decision"`
	TokenUsage TokenUsage         `json:"token_usage"`
}

// ContextText 把入选内容拼为提交给 LLM 的上下文文本。
func (r *RetrievalResult) ContextText() string {
	if r == nil || len(r.Selections) == 0 {
		return ""
	}
	out := make([]byte, 0, 256)
	for i, sel := range r.Selections {
		if i > 0 {
			out = append(out, '\n', '\n')
		}
		out = append(out, sel.Content...)
	}
	return string(out)
}
