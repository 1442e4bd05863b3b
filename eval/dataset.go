package eval

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/contextflow/retrieval"
	"github.com/BaSui01/contextflow/textsim"
	"github.com/BaSui01/contextflow/types"
)

// 层级配比：目标用例数的 40% 给 L0、35% 给 L1，剩余给 L2。
// 标定值，与门禁阈值一起调出来的，改动会使历史评测不可比。
const (
	layerShareL0 = 0.40
	layerShareL1 = 0.35
)

// Conversation 数据集构建的输入：一个 (platform, chatId) 分组的消息流。
type Conversation struct {
	Platform string          `json:"platform"`
	ChatID   string          `json:"chatId"`
	Messages []types.Message `json:"messages"`
}

// BuildConfig 数据集构建参数。
type BuildConfig struct {
	// TargetCases 目标用例数。
	TargetCases int
	// VariantsPerQuery 每个锚点消息最多生成几个不同大小的窗口。
	VariantsPerQuery int
	// MinHistoryDepth 锚点之前至少要有的消息数。
	MinHistoryDepth int
	// MinUserTurns / MinAssistantTurns 窗口内的最少角色轮次。
	MinUserTurns      int
	MinAssistantTurns int
	// PerConversationCap 单个会话最多贡献的用例数，防止一个群聊
	// 吃掉整个样本。
	PerConversationCap int
	// Strict 为 true 时宁可凑不够目标数也不突破会话上限；
	// false 时从落选者里回填并记一条告警。
	Strict bool
}

func (c *BuildConfig) normalize() {
	if c.TargetCases <= 0 {
		c.TargetCases = 100
	}
	if c.VariantsPerQuery <= 0 {
		c.VariantsPerQuery = 2
	}
	if c.MinHistoryDepth <= 0 {
		c.MinHistoryDepth = 6
	}
	if c.MinUserTurns <= 0 {
		c.MinUserTurns = 2
	}
	if c.MinAssistantTurns <= 0 {
		c.MinAssistantTurns = 2
	}
	if c.PerConversationCap <= 0 {
		c.PerConversationCap = c.TargetCases / 5
		if c.PerConversationCap < 3 {
			c.PerConversationCap = 3
		}
	}
}

// BuildMeta 随数据集一起写出的构建统计与多样性告警。
type BuildMeta struct {
	BuiltAt        time.Time      `json:"builtAt"`
	TargetCases    int            `json:"targetCases"`
	SelectedCases  int            `json:"selectedCases"`
	CandidateCases int            `json:"candidateCases"`
	LayerCounts    map[string]int `json:"layerCounts"`
	PlatformCounts map[string]int `json:"platformCounts"`
	Conversations  int            `json:"conversations"`
	Warnings       []string       `json:"warnings,omitempty"`
}

// Builder 从真实对话流采样评测用例。
type Builder struct {
	cfg    BuildConfig
	logger *zap.Logger
}

// NewBuilder 创建数据集构建器。
func NewBuilder(cfg BuildConfig, logger *zap.Logger) *Builder {
	cfg.normalize()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{cfg: cfg, logger: logger.With(zap.String("component", "eval_builder"))}
}

// Build 采样并标注用例，返回入选用例与构建元信息。
// 没有任何候选用例是致命错误。
func (b *Builder) Build(conversations []Conversation) ([]EvalCase, *BuildMeta, error) {
	candidates := b.collectCandidates(conversations)
	if len(candidates) == 0 {
		return nil, nil, fmt.Errorf("%w: no conversation produced a usable window", ErrEmptyDataset)
	}

	selected, warnings := b.selectBalanced(candidates)

	meta := &BuildMeta{
		BuiltAt:        time.Now().UTC(),
		TargetCases:    b.cfg.TargetCases,
		SelectedCases:  len(selected),
		CandidateCases: len(candidates),
		LayerCounts:    map[string]int{},
		PlatformCounts: map[string]int{},
		Warnings:       warnings,
	}
	convs := map[string]int{}
	for _, c := range selected {
		meta.LayerCounts[string(c.Labels.ExpectedLayerMin)]++
		meta.PlatformCounts[c.Platform]++
		convs[c.Platform+"/"+c.ChatID]++
	}
	meta.Conversations = len(convs)
	meta.Warnings = append(meta.Warnings, diversityWarnings(selected, convs)...)

	b.logger.Info("数据集构建完成",
		zap.Int("candidates", len(candidates)),
		zap.Int("selected", len(selected)),
		zap.Int("conversations", meta.Conversations),
		zap.Strings("warnings", meta.Warnings),
	)
	return selected, meta, nil
}

// collectCandidates 枚举锚点窗口并打标签；按查询文本去重
// （大小写不敏感）。
func (b *Builder) collectCandidates(conversations []Conversation) []EvalCase {
	var out []EvalCase
	seenQuery := map[string]bool{}

	for _, conv := range conversations {
		messages := make([]types.Message, len(conv.Messages))
		copy(messages, conv.Messages)
		sort.SliceStable(messages, func(i, j int) bool {
			return messages[i].Timestamp.Before(messages[j].Timestamp)
		})

		for anchor := b.cfg.MinHistoryDepth; anchor < len(messages); anchor++ {
			if messages[anchor].Role != "user" {
				continue
			}
			query := strings.TrimSpace(messages[anchor].Content)
			if query == "" {
				continue
			}
			dedup := strings.ToLower(query)
			if seenQuery[dedup] {
				continue
			}

			accepted := 0
			for v, window := range anchorWindows(messages, anchor, b.cfg.VariantsPerQuery, b.cfg.MinHistoryDepth) {
				if !hasMinTurns(window, b.cfg.MinUserTurns, b.cfg.MinAssistantTurns) {
					continue
				}
				mode := retrieval.ClassifyQuery(query)
				out = append(out, EvalCase{
					ID:       fmt.Sprintf("%s-%s-a%d-w%d", conv.Platform, conv.ChatID, anchor, v),
					Query:    query,
					Messages: window,
					Platform: conv.Platform,
					ChatID:   conv.ChatID,
					Labels: CaseLabels{
						ExpectedLayerMin: retrieval.MinLayerForMode(mode),
						ExpectedEvidence: extractEvidence(window, query),
					},
				})
				accepted++
			}
			if accepted > 0 {
				seenQuery[dedup] = true
			}
		}
	}
	return out
}

// anchorWindows 生成以 anchor 为终点、长度逐级减半的最多 variants
// 个窗口（不含锚点消息本身）。
func anchorWindows(messages []types.Message, anchor, variants, minDepth int) [][]types.Message {
	var out [][]types.Message
	size := anchor
	for len(out) < variants && size >= minDepth {
		window := make([]types.Message, size)
		copy(window, messages[anchor-size:anchor])
		out = append(out, window)
		size /= 2
	}
	return out
}

func hasMinTurns(window []types.Message, minUser, minAssistant int) bool {
	var user, assistant int
	for _, m := range window {
		switch m.Role {
		case "user":
			user++
		case "assistant":
			assistant++
		}
	}
	return user >= minUser && assistant >= minAssistant
}

var (
	fileNamePattern   = regexp.MustCompile(`\b[\w./-]+\.(?:go|py|js|ts|rs|java|json|yaml|yml|toml|sql|sh|md|log|txt|conf)\b`)
	longNumberPattern = regexp.MustCompile(`\b\d{5,}\b`)
	urlPattern        = regexp.MustCompile(`https?://\S+`)
)

const maxEvidencePerCase = 5

// extractEvidence 从窗口里挑字面证据：先取模式匹配的强标识
// （类文件名、长数字、URL），不够再补窗口高频词，查询自身的词排除。
func extractEvidence(window []types.Message, query string) []string {
	var text strings.Builder
	for _, m := range window {
		text.WriteString(m.Content)
		text.WriteByte('\n')
	}
	full := text.String()

	var out []string
	seen := map[string]bool{}
	add := func(s string) {
		s = strings.TrimSpace(s)
		key := strings.ToLower(s)
		if s == "" || seen[key] || len(out) >= maxEvidencePerCase {
			return
		}
		seen[key] = true
		out = append(out, s)
	}

	for _, m := range fileNamePattern.FindAllString(full, -1) {
		add(m)
	}
	for _, m := range urlPattern.FindAllString(full, -1) {
		add(m)
	}
	for _, m := range longNumberPattern.FindAllString(full, -1) {
		add(m)
	}
	if len(out) >= maxEvidencePerCase {
		return out
	}

	queryTerms := textsim.TermSet(textsim.Tokenize(query))
	freq := map[string]int{}
	for _, term := range textsim.Tokenize(full) {
		if _, own := queryTerms[term]; own {
			continue
		}
		if len(term) < 4 { // 太短的词做不了字面证据
			continue
		}
		freq[term]++
	}
	type kv struct {
		term  string
		count int
	}
	ranked := make([]kv, 0, len(freq))
	for t, c := range freq {
		ranked = append(ranked, kv{t, c})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].term < ranked[j].term
	})
	for _, r := range ranked {
		add(r.term)
	}
	return out
}

// selectBalanced 按层级配比与会话上限挑选用例。
func (b *Builder) selectBalanced(candidates []EvalCase) ([]EvalCase, []string) {
	targets := map[types.Layer]int{
		types.LayerL0: int(float64(b.cfg.TargetCases) * layerShareL0),
		types.LayerL1: int(float64(b.cfg.TargetCases) * layerShareL1),
	}
	targets[types.LayerL2] = b.cfg.TargetCases - targets[types.LayerL0] - targets[types.LayerL1]

	buckets := map[types.Layer][]EvalCase{}
	for _, c := range candidates {
		buckets[c.Labels.ExpectedLayerMin] = append(buckets[c.Labels.ExpectedLayerMin], c)
	}

	var selected []EvalCase
	var leftovers []EvalCase
	var warnings []string
	convCount := map[string]int{}

	for _, layer := range []types.Layer{types.LayerL0, types.LayerL1, types.LayerL2} {
		taken := 0
		for _, c := range buckets[layer] {
			key := c.Platform + "/" + c.ChatID
			if taken >= targets[layer] {
				leftovers = append(leftovers, c)
				continue
			}
			if convCount[key] >= b.cfg.PerConversationCap {
				leftovers = append(leftovers, c)
				continue
			}
			convCount[key]++
			selected = append(selected, c)
			taken++
		}
	}

	// 宽松模式：不够目标数时从落选者回填，允许突破会话上限
	if !b.cfg.Strict && len(selected) < b.cfg.TargetCases && len(leftovers) > 0 {
		relaxed := false
		for _, c := range leftovers {
			if len(selected) >= b.cfg.TargetCases {
				break
			}
			selected = append(selected, c)
			convCount[c.Platform+"/"+c.ChatID]++
			relaxed = true
		}
		if relaxed {
			warnings = append(warnings, "per-conversation cap relaxed to reach target case count")
		}
	}
	return selected, warnings
}

// diversityWarnings 检查样本多样性：单平台垄断、会话太少、
// 单会话占比过半。
func diversityWarnings(selected []EvalCase, convs map[string]int) []string {
	var warnings []string
	if len(selected) == 0 {
		return warnings
	}

	platforms := map[string]int{}
	for _, c := range selected {
		platforms[c.Platform]++
	}
	for p, n := range platforms {
		if len(platforms) > 1 && float64(n) > 0.8*float64(len(selected)) {
			warnings = append(warnings, fmt.Sprintf("platform %q dominates the sample (%d/%d cases)", p, n, len(selected)))
		}
	}
	if len(platforms) == 1 && len(selected) > 1 {
		warnings = append(warnings, "all cases come from a single platform")
	}
	if len(convs) < 3 {
		warnings = append(warnings, fmt.Sprintf("only %d conversation(s) in the sample", len(convs)))
	}
	for key, n := range convs {
		if float64(n) > 0.5*float64(len(selected)) && len(convs) > 1 {
			warnings = append(warnings, fmt.Sprintf("conversation %q holds more than half the sample (%d/%d)", key, n, len(selected)))
		}
	}
	sort.Strings(warnings)
	return warnings
}
