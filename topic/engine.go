// Package topic 实现主/临时话题的二态迁移判定。引擎本身无状态：
// 调用方持有 MAIN/TEMP 模式变量与临时话题的消息缓冲，每条查询调用
// 一次 Decide 拿到建议，是否迁移由调用方执行。
package topic

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/contextflow/internal/metrics"
	"github.com/BaSui01/contextflow/types"
)

// Thresholds 迁移判定的三个阈值。
type Thresholds struct {
	// Enter 主话题相关度低于此值时进入（或更换）临时话题。
	Enter float64 `yaml:"enter" json:"enter"`
	// Exit 主话题相关度高于此值时允许退出临时话题。
	Exit float64 `yaml:"exit" json:"exit"`
	// TempStay 临时话题相关度达到此值时留在临时话题。
	TempStay float64 `yaml:"temp_stay" json:"temp_stay"`
}

// DefaultThresholds 返回默认阈值。
func DefaultThresholds() Thresholds {
	return Thresholds{Enter: 0.55, Exit: 0.55, TempStay: 0.8}
}

// Engine 话题迁移引擎。
type Engine struct {
	scorer     Scorer
	thresholds Thresholds
	logger     *zap.Logger
	metrics    *metrics.Collector
}

// EngineOption 配置 Engine 的可选依赖。
type EngineOption func(*Engine)

// WithLogger 注入日志器。
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics 注入指标收集器。
func WithMetrics(c *metrics.Collector) EngineOption {
	return func(e *Engine) { e.metrics = c }
}

// NewEngine 创建话题迁移引擎。scorer 为 nil 时使用启发式打分器；
// thresholds 零值回落到默认。
func NewEngine(scorer Scorer, thresholds Thresholds, opts ...EngineOption) *Engine {
	if scorer == nil {
		scorer = NewHeuristicScorer()
	}
	def := DefaultThresholds()
	if thresholds.Enter <= 0 {
		thresholds.Enter = def.Enter
	}
	if thresholds.Exit <= 0 {
		thresholds.Exit = def.Exit
	}
	if thresholds.TempStay <= 0 {
		thresholds.TempStay = def.TempStay
	}
	e := &Engine{scorer: scorer, thresholds: thresholds}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	e.logger = e.logger.With(zap.String("component", "topic"))
	return e
}

// Decide 给出一次迁移判定。退化情形（无查询、无可比参照）不打分，
// 直接建议维持现状。
func (e *Engine) Decide(ctx context.Context, mode types.TopicMode, query, mainRef, tempRef string) types.TopicTransition {
	query = strings.TrimSpace(query)

	var tr types.TopicTransition
	switch {
	case mode == types.TopicModeTemp && query == "":
		tr = types.TopicTransition{Decision: types.TopicStayTemp}
	case mode != types.TopicModeTemp && (query == "" || strings.TrimSpace(mainRef) == ""):
		tr = types.TopicTransition{Decision: types.TopicStayMain}
	default:
		rel := e.scorer.Relevance(ctx, query, mainRef, tempRef)
		tr = e.transition(mode, mainRef, rel)
	}

	e.logger.Debug("话题判定",
		zap.String("mode", string(mode)),
		zap.String("decision", string(tr.Decision)),
		zap.Float64("rel_main", tr.RelMain),
		zap.Float64("rel_temp", tr.RelTemp),
	)
	if e.metrics != nil {
		e.metrics.ObserveTopicDecision(string(tr.Decision))
	}
	return tr
}

// transition 迁移表本体。MAIN 只看主话题相关度；TEMP 先判退出、
// 再判换题，否则留守。
func (e *Engine) transition(mode types.TopicMode, mainRef string, rel Relevance) types.TopicTransition {
	tr := types.TopicTransition{RelMain: rel.Main, RelTemp: rel.Temp}

	if mode != types.TopicModeTemp {
		if rel.Main < e.thresholds.Enter {
			tr.Decision = types.TopicEnterTemp
		} else {
			tr.Decision = types.TopicStayMain
		}
		return tr
	}

	switch {
	case strings.TrimSpace(mainRef) != "" && rel.Main > e.thresholds.Exit && rel.Temp < e.thresholds.TempStay:
		tr.Decision = types.TopicExitTemp
	case rel.Main < e.thresholds.Enter && rel.Temp < e.thresholds.TempStay:
		tr.Decision = types.TopicReplaceTemp
	default:
		tr.Decision = types.TopicStayTemp
	}
	return tr
}
