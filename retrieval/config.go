package retrieval

// 升级判据中的两个倍率是手工调出的标定值，为保持行为兼容不要轻改；
// 它们是校准目标，不是推导出的常数。
const (
	l1ThresholdFactor = 0.9
	l1MarginFactor    = 0.5
)

// Config 检索引擎配置。
type Config struct {
	// ScoreThresholdHigh 高置信所需的 top1 分数下限。
	ScoreThresholdHigh float64 `yaml:"score_threshold_high" json:"score_threshold_high"`
	// Top1Top2Margin 高置信所需的 top1-top2 分差下限。
	Top1Top2Margin float64 `yaml:"top1_top2_margin" json:"top1_top2_margin"`
	// MaxItemsForL1 升级到 L1 时重打分的候选数量。
	MaxItemsForL1 int `yaml:"max_items_for_l1" json:"max_items_for_l1"`
	// MaxItemsForL2 升级到 L2 时读取全文归档的候选数量。
	MaxItemsForL2 int `yaml:"max_items_for_l2" json:"max_items_for_l2"`
	// MaxPromptTokens 一次检索可占用的 token 预算。
	MaxPromptTokens int `yaml:"max_prompt_tokens" json:"max_prompt_tokens"`
	// DenseWeight 稠密分数在凸组合中的权重。
	DenseWeight float64 `yaml:"dense_weight" json:"dense_weight"`
	// ArchiveReadConcurrency L2 归档读取的并发上限。
	ArchiveReadConcurrency int `yaml:"archive_read_concurrency" json:"archive_read_concurrency"`
	// Baseline 为 true 时跳过升级逻辑，无预算地展开全部节点的 L2
	// 全文（评测基线模式，生产不用）。
	Baseline bool `yaml:"baseline" json:"baseline"`
}

// DefaultConfig 返回默认配置。
func DefaultConfig() Config {
	return Config{
		ScoreThresholdHigh:     0.62,
		Top1Top2Margin:         0.18,
		MaxItemsForL1:          6,
		MaxItemsForL2:          2,
		MaxPromptTokens:        1800,
		DenseWeight:            0.35,
		ArchiveReadConcurrency: 4,
	}
}

func (c *Config) normalize() {
	def := DefaultConfig()
	if c.ScoreThresholdHigh <= 0 {
		c.ScoreThresholdHigh = def.ScoreThresholdHigh
	}
	if c.Top1Top2Margin <= 0 {
		c.Top1Top2Margin = def.Top1Top2Margin
	}
	if c.MaxItemsForL1 <= 0 {
		c.MaxItemsForL1 = def.MaxItemsForL1
	}
	if c.MaxItemsForL2 <= 0 {
		c.MaxItemsForL2 = def.MaxItemsForL2
	}
	if c.MaxPromptTokens <= 0 {
		c.MaxPromptTokens = def.MaxPromptTokens
	}
	if c.DenseWeight < 0 {
		c.DenseWeight = 0
	}
	if c.DenseWeight > 1 {
		c.DenseWeight = 1
	}
	if c.ArchiveReadConcurrency <= 0 {
		c.ArchiveReadConcurrency = def.ArchiveReadConcurrency
	}
}
