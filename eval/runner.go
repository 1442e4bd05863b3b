package eval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/contextflow/retrieval"
	"github.com/BaSui01/contextflow/store"
	"github.com/BaSui01/contextflow/types"
)

// CaseResult 一条用例的基线/候选对比结果。
type CaseResult struct {
	CaseID          string          `json:"caseId"`
	QueryMode       types.QueryMode `json:"queryMode"`
	ReachedLayer    types.Layer     `json:"reachedLayer"`
	BaselineTokens  int             `json:"baselineTokens"`
	CandidateTokens int             `json:"candidateTokens"`
	SavingsRatio    float64         `json:"savingsRatio"`
	// 召回字段只在用例带证据标注时有意义；HasEvidence 为 false 时
	// 三个召回值为占位 0。
	HasEvidence     bool    `json:"hasEvidence"`
	BaselineRecall  float64 `json:"baselineRecall"`
	CandidateRecall float64 `json:"candidateRecall"`
	RecallDelta     float64 `json:"recallDelta"`
	// LayerAdequate 候选是否到达标注的最低层级；无标注时为 null。
	LayerAdequate *bool `json:"layerAdequate"`
	// InformationLoss 候选是否丢失了基线拿到的证据；无证据标注时为 null。
	InformationLoss *bool `json:"informationLoss"`
}

// Summary 一次评测运行的汇总。
type Summary struct {
	RunID       string    `json:"runId"`
	CreatedAt   time.Time `json:"createdAt"`
	DatasetPath string    `json:"datasetPath,omitempty"`
	Cases       int       `json:"cases"`
	Seed        int64     `json:"seed"`

	SavingsRatio    Distribution `json:"savingsRatio"`
	BaselineRecall  Distribution `json:"baselineRecall"`
	CandidateRecall Distribution `json:"candidateRecall"`
	RecallDelta     Distribution `json:"recallDelta"`
	RecallDeltaCI   CI           `json:"recallDeltaCI"`

	LayerAdequacyRate   *float64 `json:"layerAdequacyRate"`
	InformationLossRate *float64 `json:"informationLossRate"`

	CandidateConfig retrieval.Config `json:"candidateConfig"`
}

// RunnerConfig 评测运行参数。
type RunnerConfig struct {
	// Candidate 候选（正常限预算）检索配置。
	Candidate retrieval.Config
	// Seed bootstrap 重采样种子，固定则结果可复现。
	Seed int64
	// ChunkMessages 索引器每段的消息条数。
	ChunkMessages int
	// DatasetPath 记入汇总的来源路径（可空）。
	DatasetPath string
}

// Runner 顺序回放评测用例。刻意不并行：保证 token 账目与种子化
// bootstrap 在重复运行间完全一致。
type Runner struct {
	cfg     RunnerConfig
	indexer *Indexer
	logger  *zap.Logger
}

// NewRunner 创建评测运行器。
func NewRunner(cfg RunnerConfig, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:     cfg,
		indexer: NewIndexer(cfg.ChunkMessages),
		logger:  logger.With(zap.String("component", "eval_runner")),
	}
}

// Run 对每条用例做一次基线检索（无预算、全量展开）和一次候选检索
//（正常预算），汇总逐用例指标。
func (r *Runner) Run(ctx context.Context, cases []EvalCase) (*Summary, []CaseResult, error) {
	if len(cases) == 0 {
		return nil, nil, ErrEmptyDataset
	}

	st := store.NewMemoryStore()
	defer func() { _ = st.Close() }()

	baselineCfg := r.cfg.Candidate
	baselineCfg.Baseline = true
	baselineEngine := retrieval.New(st, baselineCfg, retrieval.WithLogger(r.logger))
	candidateEngine := retrieval.New(st, r.cfg.Candidate, retrieval.WithLogger(r.logger))

	results := make([]CaseResult, 0, len(cases))
	for i := range cases {
		res, err := r.runCase(ctx, st, baselineEngine, candidateEngine, &cases[i])
		if err != nil {
			return nil, nil, fmt.Errorf("case %q: %w", cases[i].ID, err)
		}
		results = append(results, res)
	}

	summary := r.summarize(results)
	r.logger.Info("评测运行完成",
		zap.String("run_id", summary.RunID),
		zap.Int("cases", summary.Cases),
		zap.Float64("mean_savings", summary.SavingsRatio.Mean),
		zap.Float64("mean_recall_delta", summary.RecallDelta.Mean),
	)
	return summary, results, nil
}

func (r *Runner) runCase(ctx context.Context, st store.ArchiveStore, baseline, candidate *retrieval.Engine, c *EvalCase) (CaseResult, error) {
	index, err := r.indexer.Index(ctx, st, c.ID, c.Messages)
	if err != nil {
		return CaseResult{}, err
	}

	baseRes := baseline.Retrieve(ctx, index, c.Query)
	candRes := candidate.Retrieve(ctx, index, c.Query)

	result := CaseResult{
		CaseID:          c.ID,
		QueryMode:       candRes.Decision.QueryMode,
		ReachedLayer:    candRes.Decision.ReachedLayer,
		BaselineTokens:  baseRes.TokenUsage.Total,
		CandidateTokens: candRes.TokenUsage.Total,
		SavingsRatio:    candRes.TokenUsage.SavingsRatio,
	}

	if len(c.Labels.ExpectedEvidence) > 0 {
		result.HasEvidence = true
		result.BaselineRecall = evidenceRecall(c.Labels.ExpectedEvidence, baseRes.ContextText())
		result.CandidateRecall = evidenceRecall(c.Labels.ExpectedEvidence, candRes.ContextText())
		result.RecallDelta = result.CandidateRecall - result.BaselineRecall
		loss := result.CandidateRecall < result.BaselineRecall
		result.InformationLoss = &loss
	}
	if c.Labels.ExpectedLayerMin != "" {
		adequate := candRes.Decision.ReachedLayer.AtLeast(c.Labels.ExpectedLayerMin)
		result.LayerAdequate = &adequate
	}
	return result, nil
}

func (r *Runner) summarize(results []CaseResult) *Summary {
	var savings, baseRecalls, candRecalls, deltas []float64
	var adequacy, loss []*bool
	for i := range results {
		savings = append(savings, results[i].SavingsRatio)
		if results[i].HasEvidence {
			baseRecalls = append(baseRecalls, results[i].BaselineRecall)
			candRecalls = append(candRecalls, results[i].CandidateRecall)
			deltas = append(deltas, results[i].RecallDelta)
		}
		adequacy = append(adequacy, results[i].LayerAdequate)
		loss = append(loss, results[i].InformationLoss)
	}

	return &Summary{
		RunID:               uuid.NewString(),
		CreatedAt:           time.Now().UTC(),
		DatasetPath:         r.cfg.DatasetPath,
		Cases:               len(results),
		Seed:                r.cfg.Seed,
		SavingsRatio:        Summarize(savings),
		BaselineRecall:      Summarize(baseRecalls),
		CandidateRecall:     Summarize(candRecalls),
		RecallDelta:         Summarize(deltas),
		RecallDeltaCI:       BootstrapCI(deltas, r.cfg.Seed),
		LayerAdequacyRate:   NullableRate(adequacy),
		InformationLossRate: NullableRate(loss),
		CandidateConfig:     r.cfg.Candidate,
	}
}

// evidenceRecall 统计证据串在上下文里字面出现的比例，
// 大小写与连续空白不敏感。
func evidenceRecall(evidence []string, contextText string) float64 {
	if len(evidence) == 0 {
		return 0
	}
	haystack := normalizeForMatch(contextText)
	var hits int
	for _, e := range evidence {
		needle := normalizeForMatch(e)
		if needle != "" && strings.Contains(haystack, needle) {
			hits++
		}
	}
	return float64(hits) / float64(len(evidence))
}

func normalizeForMatch(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
