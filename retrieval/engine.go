// Package retrieval 实现分层检索升级引擎：先在 L0 指纹层打分，置信不足
// 时逐级升到 L1 概览、L2 全文，最终在 token 预算内贪心选取入选内容。
// 引擎只读索引，不修改任何持久状态。
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/contextflow/dense"
	"github.com/BaSui01/contextflow/internal/metrics"
	"github.com/BaSui01/contextflow/store"
	"github.com/BaSui01/contextflow/textsim"
	"github.com/BaSui01/contextflow/tokenizer"
	"github.com/BaSui01/contextflow/types"
)

// Engine 分层检索引擎。并发安全：所有状态在构造后只读。
type Engine struct {
	store   store.ArchiveStore
	cfg     Config
	scorer  dense.Scorer
	logger  *zap.Logger
	metrics *metrics.Collector
	tracer  trace.Tracer
}

// Option 配置 Engine 的可选依赖。
type Option func(*Engine)

// WithLogger 注入日志器。
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithDenseScorer 注入稠密打分器；不注入时纯稀疏打分。
func WithDenseScorer(s dense.Scorer) Option {
	return func(e *Engine) { e.scorer = s }
}

// WithMetrics 注入指标收集器。
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = c }
}

// New 创建检索引擎。cfg 中的零值字段回落到默认值。
func New(st store.ArchiveStore, cfg Config, opts ...Option) *Engine {
	cfg.normalize()
	e := &Engine{
		store:  st,
		cfg:    cfg,
		tracer: otel.Tracer("github.com/BaSui01/contextflow/retrieval"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	e.logger = e.logger.With(zap.String("component", "retrieval"))
	return e
}

// candidate 打分过程中的一个节点、其当前分数，以及（到达 L2 后）
// 已读出的全文转录。
type candidate struct {
	node       *types.Node
	score      float64
	transcript string
}

// Retrieve 对一个会话索引执行一次完整的检索升级流程。
// index 为 nil 或没有节点时返回空结果；不返回错误——打分与归档读取的
// 失败都以降级（跳过、纯稀疏）吸收，上下文取消也只表现为空的 L2 层。
func (e *Engine) Retrieve(ctx context.Context, index *types.IndexDocument, query string) *types.RetrievalResult {
	ctx, span := e.tracer.Start(ctx, "retrieval.Retrieve")
	defer span.End()

	mode := ClassifyQuery(query)
	baseline := index.BaselineL2Tokens()

	if index == nil || len(index.Nodes) == 0 {
		result := &types.RetrievalResult{
			Decision: types.EscalationDecision{
				ReachedLayer: types.LayerL0,
				Reason:       "no archived nodes",
				QueryMode:    mode,
			},
		}
		result.TokenUsage.Finalize(baseline)
		e.observe(result, mode)
		return result
	}

	if e.cfg.Baseline {
		return e.retrieveBaseline(ctx, index, mode)
	}

	span.SetAttributes(
		attribute.String("session_key", index.SessionKey),
		attribute.String("query_mode", string(mode)),
		attribute.Int("node_count", len(index.Nodes)),
	)

	// L0：对摘要+关键词打稀疏分，可选混入稠密分。
	cands := e.scoreL0(ctx, index, query)
	top1, margin := topStats(cands)

	highConfidence := top1 >= e.cfg.ScoreThresholdHigh && margin >= e.cfg.Top1Top2Margin
	if mode == types.QueryModeBroad && highConfidence {
		result := e.assemble(index, [][]pick{picksAt(cands, types.LayerL0, "L0 abstract matched query")},
			types.EscalationDecision{
				ReachedLayer:   types.LayerL0,
				Reason:         "high confidence at L0 for broad query",
				Top1Score:      top1,
				Top1Top2Margin: margin,
				QueryMode:      mode,
			}, baseline)
		e.observe(result, mode)
		return result
	}

	// L1：取前 MaxItemsForL1 个候选，对概览段重新打分。
	l1cands := rescoreL1(topN(cands, e.cfg.MaxItemsForL1), query)
	l1top1, l1margin := topStats(l1cands)

	l1Settled := mode != types.QueryModePrecise &&
		l1top1 >= l1ThresholdFactor*e.cfg.ScoreThresholdHigh &&
		l1margin >= l1MarginFactor*e.cfg.Top1Top2Margin
	if l1Settled {
		result := e.assemble(index, [][]pick{picksAt(l1cands, types.LayerL1, "L1 overview matched query")},
			types.EscalationDecision{
				ReachedLayer:   types.LayerL1,
				Reason:         "settled at L1, overview confidence sufficient",
				Top1Score:      l1top1,
				Top1Top2Margin: l1margin,
				QueryMode:      mode,
			}, baseline)
		e.observe(result, mode)
		return result
	}

	// L2：读前 MaxItemsForL2 个候选的全文归档并对转录直接打分，
	// 同时保留 max(1, L1-L2) 个 L1 候选维持上下文连续性。
	carry := e.cfg.MaxItemsForL1 - e.cfg.MaxItemsForL2
	if carry < 1 {
		carry = 1
	}
	l2head := topN(l1cands, e.cfg.MaxItemsForL2)
	carried := sliceAfter(l1cands, len(l2head), carry)

	l2cands, attempted := e.readAndScoreL2(ctx, l2head, query)

	reason := "low confidence at L1, escalated to L2"
	if mode == types.QueryModePrecise {
		reason = "precise query, escalated to L2"
	}
	if attempted > 0 && len(l2cands) == 0 {
		reason += " (no archives readable)"
	}

	decTop1, decMargin := topStats(l2cands)
	if len(l2cands) == 0 {
		decTop1, decMargin = l1top1, l1margin
	}

	result := e.assemble(index, [][]pick{
		picksAt(l2cands, types.LayerL2, "full transcript matched query"),
		picksAt(carried, types.LayerL1, "carried forward for context continuity"),
	}, types.EscalationDecision{
		ReachedLayer:   types.LayerL2,
		Reason:         reason,
		Top1Score:      decTop1,
		Top1Top2Margin: decMargin,
		QueryMode:      mode,
	}, baseline)
	e.observe(result, mode)
	return result
}

// retrieveBaseline 无预算地展开全部节点的 L2 全文，供评测作对照。
// 不可读的归档照常跳过。
func (e *Engine) retrieveBaseline(ctx context.Context, index *types.IndexDocument, mode types.QueryMode) *types.RetrievalResult {
	all := make([]candidate, 0, len(index.Nodes))
	for i := range index.Nodes {
		all = append(all, candidate{node: &index.Nodes[i]})
	}
	l2cands, _ := e.readAndScoreL2(ctx, all, "")

	result := &types.RetrievalResult{
		Decision: types.EscalationDecision{
			ReachedLayer: types.LayerL2,
			Reason:       "baseline mode, full history revealed",
			QueryMode:    mode,
		},
	}
	if root := index.Root; root != nil && strings.TrimSpace(root.Abstract) != "" {
		cost := tokenCost(root, types.LayerL0, root.Abstract)
		result.Selections = append(result.Selections, types.Selection{
			NodeID:          root.ID,
			Layer:           types.LayerL0,
			Content:         root.Abstract,
			EstimatedTokens: cost,
			Reason:          "session root abstract",
		})
		result.TokenUsage.Add(types.LayerL0, cost)
	}
	for _, c := range l2cands {
		cost := tokenCost(c.node, types.LayerL2, c.transcript)
		result.Selections = append(result.Selections, types.Selection{
			NodeID:          c.node.ID,
			Layer:           types.LayerL2,
			Content:         c.transcript,
			EstimatedTokens: cost,
			Reason:          "baseline expansion",
		})
		result.TokenUsage.Add(types.LayerL2, cost)
	}
	result.TokenUsage.Finalize(index.BaselineL2Tokens())
	return result
}

// scoreL0 对所有节点的 L0 文本（摘要+关键词）打分并按分数降序排序。
func (e *Engine) scoreL0(ctx context.Context, index *types.IndexDocument, query string) []candidate {
	denseScores := e.denseScores(ctx, index, query)

	cands := make([]candidate, 0, len(index.Nodes))
	for i := range index.Nodes {
		n := &index.Nodes[i]
		sparse := textsim.SparseOverlap(query, l0Content(n))
		score := sparse
		if d, ok := denseScores[n.ID]; ok {
			score = textsim.Blend(sparse, d, e.cfg.DenseWeight)
		}
		cands = append(cands, candidate{node: n, score: score})
	}
	sortByScore(cands)
	return cands
}

// denseScores 调用稠密打分器；失败（空 map）时记一次回退并继续。
// 部分截断时未覆盖的节点保持纯稀疏分。
func (e *Engine) denseScores(ctx context.Context, index *types.IndexDocument, query string) map[string]float64 {
	if e.scorer == nil {
		return nil
	}
	dc := make([]dense.Candidate, 0, len(index.Nodes))
	for i := range index.Nodes {
		dc = append(dc, dense.Candidate{NodeID: index.Nodes[i].ID, Content: l0Content(&index.Nodes[i])})
	}
	scores := e.scorer.Scores(ctx, query, dc)
	if len(scores) == 0 {
		if e.metrics != nil {
			e.metrics.ObserveDenseFallback()
		}
		e.logger.Debug("稠密打分不可用，回退纯稀疏", zap.String("session_key", index.SessionKey))
	}
	return scores
}

// readAndScoreL2 并发读取候选的全文归档；query 非空时对转录打稀疏分
// 并降序排序。归档缺失或不可读的候选被静默跳过（只计指标、记日志）。
// 返回可读候选与尝试读取的总数。
func (e *Engine) readAndScoreL2(ctx context.Context, cands []candidate, query string) ([]candidate, int) {
	type slot struct {
		cand candidate
		ok   bool
	}
	slots := make([]slot, len(cands))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.ArchiveReadConcurrency)
	for i, c := range cands {
		i, c := i, c
		g.Go(func() error {
			if c.node.FullContentPath == "" {
				e.skipArchive(c.node.ID, "no archive path")
				return nil
			}
			payload := e.store.ReadArchive(gctx, c.node.FullContentPath).OrElse(nil)
			if payload == nil || payload.Transcript == "" {
				e.skipArchive(c.node.ID, "archive unreadable")
				return nil
			}
			c.transcript = payload.Transcript
			slots[i] = slot{cand: c, ok: true}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]candidate, 0, len(cands))
	for _, s := range slots {
		if !s.ok {
			continue
		}
		if query != "" {
			s.cand.score = textsim.SparseOverlap(query, s.cand.transcript)
		}
		out = append(out, s.cand)
	}
	sortByScore(out)
	return out, len(cands)
}

func (e *Engine) skipArchive(nodeID, cause string) {
	if e.metrics != nil {
		e.metrics.ObserveArchiveSkip()
	}
	e.logger.Warn("跳过 L2 候选", zap.String("node_id", nodeID), zap.String("cause", cause))
}

// pick 预算遍历的一个待选项。
type pick struct {
	node    *types.Node
	layer   types.Layer
	content string
	score   float64
	reason  string
}

// assemble 在 token 预算内做贪心选取：根摘要先入且不受分数门槛约束
// （仍计费），随后按层级分批遍历候选，同一批内遇到第一个放不下的就
// 停止该批，不向后跳选。
func (e *Engine) assemble(index *types.IndexDocument, tiers [][]pick, decision types.EscalationDecision, baseline int) *types.RetrievalResult {
	result := &types.RetrievalResult{Decision: decision}
	remaining := e.cfg.MaxPromptTokens

	if root := index.Root; root != nil && strings.TrimSpace(root.Abstract) != "" {
		cost := tokenCost(root, types.LayerL0, root.Abstract)
		if cost <= remaining {
			result.Selections = append(result.Selections, types.Selection{
				NodeID:          root.ID,
				Layer:           types.LayerL0,
				Content:         root.Abstract,
				EstimatedTokens: cost,
				Reason:          "session root abstract",
			})
			result.TokenUsage.Add(types.LayerL0, cost)
			remaining -= cost
		}
	}

	for _, tier := range tiers {
		for _, p := range tier {
			cost := tokenCost(p.node, p.layer, p.content)
			if cost > remaining {
				break // 该批后面的候选分数更低，不再回填
			}
			result.Selections = append(result.Selections, types.Selection{
				NodeID:          p.node.ID,
				Layer:           p.layer,
				Content:         p.content,
				Score:           p.score,
				EstimatedTokens: cost,
				Reason:          fmt.Sprintf("%s (score %.2f)", p.reason, p.score),
			})
			result.TokenUsage.Add(p.layer, cost)
			remaining -= cost
		}
	}

	result.TokenUsage.Finalize(baseline)
	return result
}

func (e *Engine) observe(r *types.RetrievalResult, mode types.QueryMode) {
	u := r.TokenUsage
	e.logger.Debug("检索完成",
		zap.String("reached_layer", string(r.Decision.ReachedLayer)),
		zap.String("query_mode", string(mode)),
		zap.String("reason", r.Decision.Reason),
		zap.Int("selections", len(r.Selections)),
		zap.Int("total_tokens", u.Total),
		zap.Float64("savings_ratio", u.SavingsRatio),
	)
	if e.metrics != nil {
		e.metrics.ObserveRetrieval(string(r.Decision.ReachedLayer), string(mode),
			u.L0Tokens, u.L1Tokens, u.L2Tokens, u.SavingsRatio)
	}
}

// picksAt 把候选列表转成同一层级的待选项；L0 用摘要、L1 用概览、
// L2 用已读出的转录。
func picksAt(cands []candidate, layer types.Layer, reason string) []pick {
	out := make([]pick, 0, len(cands))
	for _, c := range cands {
		content := c.node.Abstract
		switch layer {
		case types.LayerL1:
			content = c.node.Overview
		case types.LayerL2:
			content = c.transcript
		}
		out = append(out, pick{node: c.node, layer: layer, content: content, score: c.score, reason: reason})
	}
	return out
}

// l0Content 节点的 L0 可打分文本：摘要 + 关键词。
func l0Content(n *types.Node) string {
	if len(n.Keywords) == 0 {
		return n.Abstract
	}
	return n.Abstract + " " + strings.Join(n.Keywords, " ")
}

// rescoreL1 对候选的概览段重新打稀疏分并降序排序。
func rescoreL1(cands []candidate, query string) []candidate {
	out := make([]candidate, len(cands))
	for i, c := range cands {
		c.score = textsim.SparseOverlap(query, c.node.Overview)
		out[i] = c
	}
	sortByScore(out)
	return out
}

// sortByScore 分数降序的稳定排序；同分时保持索引内原有顺序，
// 保证同一输入得到确定性的输出。
func sortByScore(cands []candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].score > cands[j].score
	})
}

// topStats 返回 top1 分数与 top1-top2 分差；单候选时分差即 top1。
func topStats(cands []candidate) (top1, margin float64) {
	if len(cands) == 0 {
		return 0, 0
	}
	top1 = cands[0].score
	if len(cands) > 1 {
		return top1, top1 - cands[1].score
	}
	return top1, top1
}

func topN(cands []candidate, n int) []candidate {
	if n > len(cands) {
		n = len(cands)
	}
	return cands[:n]
}

// sliceAfter 取 cands 中跳过前 skip 个之后的最多 n 个。
func sliceAfter(cands []candidate, skip, n int) []candidate {
	if skip >= len(cands) {
		return nil
	}
	rest := cands[skip:]
	if n > len(rest) {
		n = len(rest)
	}
	return rest[:n]
}

// tokenCost 取节点在该层级的预估 token；归档流程没写估值时按
// 文本长度粗估，避免把零成本内容无限塞进预算。
func tokenCost(n *types.Node, layer types.Layer, content string) int {
	if c := n.TokenEstimate.ForLayer(layer); c > 0 {
		return c
	}
	return tokenizer.EstimateText(content)
}
