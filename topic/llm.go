package topic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/contextflow/textsim"
	"github.com/BaSui01/contextflow/types"
)

// LLMConfig 配置基于外部语言模型的话题打分器
// （OpenAI 形状的 /v1/chat/completions 接口）。
type LLMConfig struct {
	BaseURL string `yaml:"base_url" json:"base_url"`
	APIKey  string `yaml:"api_key" json:"api_key"`
	Model   string `yaml:"model" json:"model"`
	// Timeout 单次请求硬超时，超时按 failOpen 处理（默认 1500ms）。
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

func (c *LLMConfig) normalize() {
	if c.Timeout <= 0 {
		c.Timeout = 1500 * time.Millisecond
	}
}

// llmClient 两种 LLM 打分器共用的请求逻辑。
type llmClient struct {
	cfg    LLMConfig
	client *http.Client
	logger *zap.Logger
}

func newLLMClient(cfg LLMConfig, logger *zap.Logger, component string) llmClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.normalize()
	return llmClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With(zap.String("component", component)),
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// complete 发送一次对话补全请求并返回首个回复文本。
func (c *llmClient) complete(ctx context.Context, system, user string) (string, error) {
	if c.cfg.BaseURL == "" || c.cfg.APIKey == "" {
		return "", fmt.Errorf("llm scorer not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("chat endpoint returned %d", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("chat response has no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

const numericSystemPrompt = `你是话题相关性判定器。给定当前查询、主话题参照与临时话题参照，` +
	`输出 JSON：{"rel_main": <0到1>, "rel_temp": <0到1>}。只输出 JSON，不要解释。`

// NumericScorer 让外部模型直接输出 {relMain, relTemp} 数值。
// 任何故障（网络、超时、响应不可解析）按 failOpen 处理。
type NumericScorer struct {
	llmClient
}

// NewNumericScorer 创建数值打分器。
func NewNumericScorer(cfg LLMConfig, logger *zap.Logger) *NumericScorer {
	return &NumericScorer{llmClient: newLLMClient(cfg, logger, "topic_numeric_scorer")}
}

// Relevance 实现 Scorer。
func (s *NumericScorer) Relevance(ctx context.Context, query, mainRef, tempRef string) Relevance {
	user := fmt.Sprintf("查询：%s\n\n主话题参照：\n%s\n\n临时话题参照：\n%s", query, mainRef, tempRef)
	content, err := s.complete(ctx, numericSystemPrompt, user)
	if err != nil {
		s.logger.Warn("话题打分失败，按最大相关处理", zap.Error(err))
		return failOpen
	}

	var rel Relevance
	if err := json.Unmarshal([]byte(extractJSON(content)), &rel); err != nil {
		s.logger.Warn("话题打分响应不可解析，按最大相关处理",
			zap.String("content", content), zap.Error(err))
		return failOpen
	}
	rel.Main = textsim.Clamp01(rel.Main)
	rel.Temp = textsim.Clamp01(rel.Temp)
	return rel
}

const classifierSystemPrompt = `你是话题迁移分类器。给定当前模式、查询、主话题参照与临时话题参照，` +
	`输出以下五个标签之一：stay-main、enter-temp、stay-temp、replace-temp、exit-temp。只输出标签。`

// classifierPairs 把分类标签映射回规范的 {relMain, relTemp}，
// 使下游处理与数值打分器一致。每对数值都落在能让默认阈值的迁移表
// 复现该标签的区间里。
var classifierPairs = map[types.TopicDecision]Relevance{
	types.TopicStayMain:    {Main: 0.9, Temp: 0.1},
	types.TopicEnterTemp:   {Main: 0.2, Temp: 0.9},
	types.TopicStayTemp:    {Main: 0.4, Temp: 0.9},
	types.TopicReplaceTemp: {Main: 0.2, Temp: 0.2},
	types.TopicExitTemp:    {Main: 0.9, Temp: 0.2},
}

// ClassifierScorer 让外部模型直接输出迁移标签，再映射回规范数值对。
// 任何故障或未知标签按 failOpen 处理。
type ClassifierScorer struct {
	llmClient
}

// NewClassifierScorer 创建分类打分器。
func NewClassifierScorer(cfg LLMConfig, logger *zap.Logger) *ClassifierScorer {
	return &ClassifierScorer{llmClient: newLLMClient(cfg, logger, "topic_classifier_scorer")}
}

// Relevance 实现 Scorer。
func (s *ClassifierScorer) Relevance(ctx context.Context, query, mainRef, tempRef string) Relevance {
	user := fmt.Sprintf("查询：%s\n\n主话题参照：\n%s\n\n临时话题参照：\n%s", query, mainRef, tempRef)
	content, err := s.complete(ctx, classifierSystemPrompt, user)
	if err != nil {
		s.logger.Warn("话题分类失败，按最大相关处理", zap.Error(err))
		return failOpen
	}

	label := types.TopicDecision(strings.ToLower(strings.TrimSpace(content)))
	rel, ok := classifierPairs[label]
	if !ok {
		s.logger.Warn("话题分类标签未知，按最大相关处理", zap.String("label", string(label)))
		return failOpen
	}
	return rel
}

// extractJSON 取出文本中第一段 {...}，容忍模型在 JSON 外加的赘述。
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}

var (
	_ Scorer = (*NumericScorer)(nil)
	_ Scorer = (*ClassifierScorer)(nil)
)
