// =============================================================================
// ContextFlow 主入口
// =============================================================================
// 分层上下文引擎的评测与门禁工具链
//
// 使用方法:
//
//	contextflow dataset build --input conv.json --output dataset.jsonl
//	contextflow eval run --dataset dataset.jsonl           # 跑评测
//	contextflow gate                                       # 门禁最近一次运行
//	contextflow gate --summary eval-runs/<id>/summary.json # 门禁指定运行
//	contextflow version                                    # 显示版本信息
// =============================================================================

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/contextflow/config"
	"github.com/BaSui01/contextflow/eval"
	"github.com/BaSui01/contextflow/internal/telemetry"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "dataset":
		runDataset(os.Args[2:])
	case "eval":
		runEval(os.Args[2:])
	case "gate":
		runGate(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// =============================================================================
// dataset build 命令
// =============================================================================

func runDataset(args []string) {
	if len(args) < 1 || args[0] != "build" {
		fmt.Fprintln(os.Stderr, "Usage: contextflow dataset build [options]")
		os.Exit(1)
	}

	fs := flag.NewFlagSet("dataset build", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	input := fs.String("input", "", "Conversations JSON file (array of {platform, chatId, messages})")
	output := fs.String("output", "dataset.jsonl", "Output dataset path (JSONL)")
	target := fs.Int("target", 0, "Target case count (default 100)")
	variants := fs.Int("variants", 0, "Window variants per anchor (default 2)")
	strict := fs.Bool("strict", false, "Never exceed the per-conversation cap, even if the target is missed")
	_ = fs.Parse(args[1:])

	if *input == "" {
		fmt.Fprintln(os.Stderr, "dataset build: --input is required")
		os.Exit(1)
	}

	cfg := loadConfig(*configPath)
	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	conversations, err := loadConversations(*input)
	if err != nil {
		logger.Fatal("Failed to load conversations", zap.Error(err))
	}

	builder := eval.NewBuilder(eval.BuildConfig{
		TargetCases:      *target,
		VariantsPerQuery: *variants,
		Strict:           *strict,
	}, logger)

	cases, meta, err := builder.Build(conversations)
	if err != nil {
		logger.Fatal("Dataset build failed", zap.Error(err))
	}
	if err := eval.WriteDataset(*output, cases); err != nil {
		logger.Fatal("Failed to write dataset", zap.Error(err))
	}
	if err := eval.WriteMeta(*output, meta); err != nil {
		logger.Fatal("Failed to write dataset meta", zap.Error(err))
	}

	logger.Info("Dataset built",
		zap.String("path", *output),
		zap.Int("cases", meta.SelectedCases),
		zap.Int("candidates", meta.CandidateCases),
		zap.Int("conversations", meta.Conversations),
		zap.Strings("warnings", meta.Warnings),
	)
}

// loadConversations 读入会话流文件：JSON 数组，每项一个会话。
func loadConversations(path string) ([]eval.Conversation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read conversations: %w", err)
	}
	var conversations []eval.Conversation
	if err := json.Unmarshal(data, &conversations); err != nil {
		return nil, fmt.Errorf("parse conversations: %w", err)
	}
	return conversations, nil
}

// =============================================================================
// eval run 命令
// =============================================================================

func runEval(args []string) {
	if len(args) < 1 || args[0] != "run" {
		fmt.Fprintln(os.Stderr, "Usage: contextflow eval run [options]")
		os.Exit(1)
	}

	fs := flag.NewFlagSet("eval run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	dataset := fs.String("dataset", "dataset.jsonl", "Dataset path (JSONL)")
	outDir := fs.String("out", "", "Output directory (overrides eval.output_dir)")
	seed := fs.Int64("seed", 0, "Bootstrap seed (overrides eval.seed)")
	_ = fs.Parse(args[1:])

	cfg := loadConfig(*configPath)
	if *outDir != "" {
		cfg.Eval.OutputDir = *outDir
	}
	if *seed != 0 {
		cfg.Eval.Seed = *seed
	}

	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting evaluation run",
		zap.String("version", Version),
		zap.String("dataset", *dataset),
		zap.Int64("seed", cfg.Eval.Seed),
	)

	otelProviders, err := telemetry.Init(telemetryConfig(cfg), logger)
	if err != nil {
		logger.Warn("Failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = otelProviders.Shutdown(ctx)
	}()

	cases, err := eval.LoadDataset(*dataset)
	if err != nil {
		logger.Fatal("Failed to load dataset", zap.Error(err))
	}

	runner := eval.NewRunner(eval.RunnerConfig{
		Candidate:     cfg.Retrieval,
		Seed:          cfg.Eval.Seed,
		ChunkMessages: cfg.Eval.ChunkMessages,
		DatasetPath:   *dataset,
	}, logger)

	summary, results, err := runner.Run(context.Background(), cases)
	if err != nil {
		logger.Fatal("Evaluation run failed", zap.Error(err))
	}

	summaryPath, err := eval.WriteReports(cfg.Eval.OutputDir, summary, results)
	if err != nil {
		logger.Fatal("Failed to write reports", zap.Error(err))
	}

	gate := eval.EvaluateGate(summary, cfg.Eval.Gate)
	recordRun(cfg, logger, summary, gate, summaryPath)

	printGate(summary, gate)
	if !gate.Passed {
		os.Exit(1)
	}
}

// recordRun 把运行结果登记到运行库。登记失败只告警，不影响评测产物。
func recordRun(cfg *config.Config, logger *zap.Logger, summary *eval.Summary, gate eval.GateResult, summaryPath string) {
	rs, err := eval.OpenRunStore(cfg.Eval.RunStore, logger)
	if err != nil {
		logger.Warn("Run store unavailable, skipping registration", zap.Error(err))
		return
	}
	defer func() { _ = rs.Close() }()

	if err := rs.Record(summary, gate, summaryPath); err != nil {
		logger.Warn("Failed to record run", zap.Error(err))
	}
}

// =============================================================================
// gate 命令
// =============================================================================

func runGate(args []string) {
	fs := flag.NewFlagSet("gate", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	summaryArg := fs.String("summary", "", "Path to a run summary.json (default: latest run)")
	_ = fs.Parse(args)

	cfg := loadConfig(*configPath)

	path := *summaryArg
	if path == "" {
		var err error
		path, err = eval.LatestSummaryPath(cfg.Eval.OutputDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "No run to gate: %v\n", err)
			os.Exit(1)
		}
	}

	summary, err := eval.LoadSummary(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load summary: %v\n", err)
		os.Exit(1)
	}

	gate := eval.EvaluateGate(summary, cfg.Eval.Gate)
	printGate(summary, gate)
	if !gate.Passed {
		os.Exit(1)
	}
}

// printGate 按判据逐行打印门禁结果。
func printGate(summary *eval.Summary, gate eval.GateResult) {
	fmt.Printf("Run %s (%d cases)\n", summary.RunID, summary.Cases)
	for _, c := range gate.Criteria {
		status := "PASS"
		if !c.Passed {
			status = "FAIL"
		}
		fmt.Printf("  [%s] %-18s %s\n", status, c.Name, c.Detail)
	}
	if gate.Passed {
		fmt.Println("Gate: PASS")
	} else {
		fmt.Println("Gate: FAIL")
	}
}

// =============================================================================
// 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("ContextFlow %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`ContextFlow - Layered Context Engine

Usage:
  contextflow <command> [options]

Commands:
  dataset build   Build an evaluation dataset from conversation logs
  eval run        Run a baseline-vs-candidate evaluation
  gate            Gate the latest (or a given) evaluation run
  version         Show version information
  help            Show this help message

Options for 'dataset build':
  --input <path>    Conversations JSON file (required)
  --output <path>   Output dataset path (default dataset.jsonl)
  --target <n>      Target case count
  --variants <n>    Window variants per anchor
  --strict          Never exceed the per-conversation cap

Options for 'eval run':
  --dataset <path>  Dataset path (default dataset.jsonl)
  --out <dir>       Output directory for run artifacts
  --seed <n>        Bootstrap seed

Options for 'gate':
  --summary <path>  Gate a specific run instead of the latest

All commands accept --config <path> (YAML); CONTEXTFLOW_* environment
variables override any key.

Examples:
  contextflow dataset build --input conv.json --output dataset.jsonl
  contextflow eval run --dataset dataset.jsonl --config config.yaml
  contextflow gate
  contextflow version`)
}

// =============================================================================
// 配置与日志初始化
// =============================================================================

func loadConfig(path string) *config.Config {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func telemetryConfig(cfg *config.Config) telemetry.Config {
	return telemetry.Config{
		Enabled:      cfg.Telemetry.Enabled,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		ServiceName:  cfg.Telemetry.ServiceName,
		SampleRate:   cfg.Telemetry.SampleRate,
	}
}

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      encoding == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
