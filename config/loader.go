// Package config 统一配置加载，支持 YAML 文件 + 环境变量覆盖。
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("CONTEXTFLOW").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/contextflow/dense"
	"github.com/BaSui01/contextflow/eval"
	"github.com/BaSui01/contextflow/retrieval"
	"github.com/BaSui01/contextflow/store"
	"github.com/BaSui01/contextflow/textsim"
	"github.com/BaSui01/contextflow/topic"
)

// Config 分层上下文引擎的完整配置。
type Config struct {
	// Store 归档存储配置
	Store store.Config `yaml:"store" env:"STORE"`

	// Retrieval 检索引擎配置
	Retrieval retrieval.Config `yaml:"retrieval" env:"RETRIEVAL"`

	// Dense 稠密打分配置
	Dense DenseConfig `yaml:"dense" env:"DENSE"`

	// Topic 话题迁移配置
	Topic TopicConfig `yaml:"topic" env:"TOPIC"`

	// Eval 评测工具链配置
	Eval EvalConfig `yaml:"eval" env:"EVAL"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// DenseConfig 稠密打分配置。
type DenseConfig struct {
	// 是否启用稠密打分；关闭时纯稀疏
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 嵌入服务地址与凭证
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	APIKey  string `yaml:"api_key" env:"API_KEY"`
	Model   string `yaml:"model" env:"MODEL"`
	// 单次请求硬超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 候选截断上限
	MaxCandidates int `yaml:"max_candidates" env:"MAX_CANDIDATES"`
	// 相似度度量: cosine, dot, l2
	Metric string `yaml:"metric" env:"METRIC"`
	// 对外限速，0 表示不限
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"REQUESTS_PER_SECOND"`
}

// TopicConfig 话题迁移配置。
type TopicConfig struct {
	// 打分器类型: heuristic, numeric, classifier
	Scorer     string           `yaml:"scorer" env:"SCORER"`
	Thresholds topic.Thresholds `yaml:"thresholds" env:"THRESHOLDS"`
	// LLM 打分器的服务配置
	BaseURL string        `yaml:"base_url" env:"BASE_URL"`
	APIKey  string        `yaml:"api_key" env:"API_KEY"`
	Model   string        `yaml:"model" env:"MODEL"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// EvalConfig 评测工具链配置。
type EvalConfig struct {
	// 运行产物输出目录
	OutputDir string `yaml:"output_dir" env:"OUTPUT_DIR"`
	// bootstrap 种子
	Seed int64 `yaml:"seed" env:"SEED"`
	// 索引器每段消息条数
	ChunkMessages int `yaml:"chunk_messages" env:"CHUNK_MESSAGES"`
	// 门禁阈值
	Gate eval.GateThresholds `yaml:"gate" env:"GATE"`
	// 运行登记库
	RunStore eval.RunStoreConfig `yaml:"run_store" env:"RUN_STORE"`
}

// LogConfig 日志配置。
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
}

// TelemetryConfig 遥测配置。
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// DefaultConfig 返回默认配置。
func DefaultConfig() *Config {
	return &Config{
		Store: store.Config{
			Type:    store.TypeMemory,
			BaseDir: "data/archive",
		},
		Retrieval: retrieval.DefaultConfig(),
		Dense: DenseConfig{
			Timeout:       1500 * time.Millisecond,
			MaxCandidates: 16,
			Metric:        string(textsim.MetricCosine),
		},
		Topic: TopicConfig{
			Scorer:     "heuristic",
			Thresholds: topic.DefaultThresholds(),
			Timeout:    1500 * time.Millisecond,
		},
		Eval: EvalConfig{
			OutputDir: "eval-runs",
			Seed:      42,
			Gate:      eval.DefaultGateThresholds(),
			RunStore:  eval.RunStoreConfig{Driver: "sqlite", DSN: "eval-runs/runs.db"},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "contextflow",
			SampleRate:  1.0,
		},
	}
}

// DenseScorerConfig 转为嵌入打分器配置。
func (c *Config) DenseScorerConfig() dense.EmbeddingConfig {
	return dense.EmbeddingConfig{
		BaseURL:           c.Dense.BaseURL,
		APIKey:            c.Dense.APIKey,
		Model:             c.Dense.Model,
		Timeout:           c.Dense.Timeout,
		MaxCandidates:     c.Dense.MaxCandidates,
		Metric:            textsim.Metric(c.Dense.Metric),
		RequestsPerSecond: c.Dense.RequestsPerSecond,
	}
}

// Loader 配置加载器（Builder 模式）。
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器。
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "CONTEXTFLOW",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径。
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀。
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器。
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置。优先级: 默认值 → YAML 文件 → 环境变量。
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置；文件不存在时沿用默认值。
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// loadFromEnv 从环境变量覆盖配置。
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段。没有 env tag 的字段跳过。
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "-" || !fieldType.IsExported() {
			continue
		}
		if envTag == "" {
			// 外部包的配置结构体没有 env tag，用字段名推导
			envTag = envNameFromField(fieldType.Name)
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Duration(0)) {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}
	return nil
}

// envNameFromField 把 Go 字段名转成 SCREAMING_SNAKE 环境变量段：
// MaxPromptTokens → MAX_PROMPT_TOKENS，BaseURL → BASE_URL。
func envNameFromField(name string) string {
	var sb strings.Builder
	runes := []rune(name)
	for i, r := range runes {
		if i > 0 && r >= 'A' && r <= 'Z' {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z'
			if (prev >= 'a' && prev <= 'z') || (prev >= 'A' && prev <= 'Z' && nextLower) || (prev >= '0' && prev <= '9') {
				sb.WriteByte('_')
			}
		}
		sb.WriteRune(r)
	}
	return strings.ToUpper(sb.String())
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}
	return nil
}

// MustLoad 加载配置，失败时 panic。
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}
