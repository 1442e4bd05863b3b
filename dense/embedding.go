package dense

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
	"golang.org/x/time/rate"

	"github.com/BaSui01/contextflow/textsim"
)

// EmbeddingConfig configures the embedding-backed scorer.
type EmbeddingConfig struct {
	// BaseURL 嵌入服务地址（OpenAI 形状的 /v1/embeddings 接口）。
	BaseURL string `yaml:"base_url" json:"base_url"`
	APIKey  string `yaml:"api_key" json:"api_key"`
	Model   string `yaml:"model" json:"model"`
	// Timeout 单次请求硬超时，超时视同失败（默认 1500ms）。
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	// MaxCandidates 送入嵌入服务的候选上限，超出截断（默认 16）。
	MaxCandidates int `yaml:"max_candidates" json:"max_candidates"`
	// Metric 服务返回向量所用的相似度度量（归一化公式按此选择）。
	Metric textsim.Metric `yaml:"metric" json:"metric"`
	// RequestsPerSecond 对外部服务的限速，0 表示不限。
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
}

// EmbeddingScorer asks an external embedding endpoint to embed the query
// and each candidate, then scores by cosine similarity normalized into
// [0,1]. All failures degrade to an empty score map.
type EmbeddingScorer struct {
	cfg     EmbeddingConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewEmbeddingScorer creates an embedding-backed scorer.
func NewEmbeddingScorer(cfg EmbeddingConfig, logger *zap.Logger) *EmbeddingScorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 1500 * time.Millisecond
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = 16
	}
	if cfg.Metric == "" {
		cfg.Metric = textsim.MetricCosine
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &EmbeddingScorer{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
		logger:  logger.With(zap.String("component", "dense_embedding")),
	}
}

type embedRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model,omitempty"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Scores 请求嵌入服务并返回归一化分数；任何失败返回空 map。
func (s *EmbeddingScorer) Scores(ctx context.Context, query string, candidates []Candidate) map[string]float64 {
	empty := map[string]float64{}
	if query == "" || len(candidates) == 0 {
		return empty
	}
	if s.cfg.BaseURL == "" || s.cfg.APIKey == "" {
		s.logger.Debug("embedding scorer not configured, skipping dense scoring")
		return empty
	}

	if len(candidates) > s.cfg.MaxCandidates {
		candidates = candidates[:s.cfg.MaxCandidates]
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			s.logger.Warn("embedding rate limit wait failed", zap.Error(err))
			return empty
		}
	}

	inputs := make([]string, 0, len(candidates)+1)
	inputs = append(inputs, query)
	for _, c := range candidates {
		inputs = append(inputs, c.Content)
	}

	vectors, err := s.embed(ctx, inputs)
	if err != nil {
		s.logger.Warn("dense scoring failed, falling back to sparse only",
			zap.Int("candidates", len(candidates)),
			zap.Error(err))
		return empty
	}
	if len(vectors) != len(inputs) {
		s.logger.Warn("embedding response size mismatch",
			zap.Int("want", len(inputs)), zap.Int("got", len(vectors)))
		return empty
	}

	queryVec := vectors[0]
	scores := make(map[string]float64, len(candidates))
	for i, c := range candidates {
		raw := textsim.Cosine(queryVec, vectors[i+1])
		scores[c.NodeID] = textsim.NormalizeDense(raw, s.cfg.Metric)
	}
	return scores
}

func (s *EmbeddingScorer) embed(ctx context.Context, inputs []string) ([][]float64, error) {
	body, err := json.Marshal(embedRequest{Input: inputs, Model: s.cfg.Model})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimRight(s.cfg.BaseURL, "/") + "/v1/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("embedding endpoint returned %d", resp.StatusCode)
	}

	var parsed embedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	vectors := make([][]float64, len(inputs))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	for i, v := range vectors {
		if v == nil {
			return nil, fmt.Errorf("missing embedding for input %d", i)
		}
	}
	return vectors, nil
}

var _ Scorer = (*EmbeddingScorer)(nil)
