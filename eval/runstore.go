package eval

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// RunRecord 运行登记表的一行，CI 用它列出和比较历史运行。
type RunRecord struct {
	ID              uint      `gorm:"primaryKey"`
	RunID           string    `gorm:"uniqueIndex;size:64"`
	CreatedAt       time.Time `gorm:"index"`
	Dataset         string
	Cases           int
	MeanSavings     float64
	MeanRecallDelta float64
	LayerAdequacy   *float64
	InformationLoss *float64
	GatePassed      bool
	SummaryPath     string
}

// RunStoreConfig 运行登记库配置。
type RunStoreConfig struct {
	// Driver sqlite（默认，纯 Go 驱动）/ postgres / mysql。
	Driver string `yaml:"driver" json:"driver"`
	// DSN 连接串；sqlite 下是文件路径。
	DSN string `yaml:"dsn" json:"dsn"`
}

// RunStore 评测运行的 gorm 登记库。
type RunStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// OpenRunStore 打开（必要时建表）运行登记库。
func OpenRunStore(cfg RunStoreConfig, logger *zap.Logger) (*RunStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("run store dsn not configured")
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "", "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported run store driver: %s (supported: sqlite, postgres, mysql)", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open run store: %w", err)
	}
	if err := db.AutoMigrate(&RunRecord{}); err != nil {
		return nil, fmt.Errorf("migrate run store: %w", err)
	}

	logger.Info("run store opened", zap.String("driver", cfg.Driver))
	return &RunStore{db: db, logger: logger.With(zap.String("component", "run_store"))}, nil
}

// Record 登记一次运行的汇总与门禁结论。
func (rs *RunStore) Record(summary *Summary, gate GateResult, summaryPath string) error {
	rec := RunRecord{
		RunID:           summary.RunID,
		CreatedAt:       summary.CreatedAt,
		Dataset:         summary.DatasetPath,
		Cases:           summary.Cases,
		MeanSavings:     summary.SavingsRatio.Mean,
		MeanRecallDelta: summary.RecallDelta.Mean,
		LayerAdequacy:   summary.LayerAdequacyRate,
		InformationLoss: summary.InformationLossRate,
		GatePassed:      gate.Passed,
		SummaryPath:     summaryPath,
	}
	if err := rs.db.Create(&rec).Error; err != nil {
		return fmt.Errorf("record run %s: %w", summary.RunID, err)
	}
	return nil
}

// List 按时间倒序返回最近的运行记录。
func (rs *RunStore) List(limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var records []RunRecord
	if err := rs.db.Order("created_at desc").Limit(limit).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return records, nil
}

// Close 释放底层连接。
func (rs *RunStore) Close() error {
	sqlDB, err := rs.db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	return sqlDB.Close()
}
