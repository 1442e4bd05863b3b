package store

import (
	"fmt"

	"go.uber.org/zap"
)

// Type represents the storage backend kind.
type Type string

const (
	TypeMemory Type = "memory"
	TypeFile   Type = "file"
	TypeRedis  Type = "redis"
	TypeMongo  Type = "mongo"
)

// Config selects and configures a backend.
type Config struct {
	// Type: memory, file, redis, mongo (default: memory)
	Type Type `yaml:"type" json:"type"`
	// BaseDir is the root directory for the file backend.
	BaseDir string `yaml:"base_dir" json:"base_dir"`
	// Redis configures the redis backend.
	Redis RedisConfig `yaml:"redis" json:"redis"`
	// Mongo configures the mongo backend.
	Mongo MongoConfig `yaml:"mongo" json:"mongo"`
}

// New creates an ArchiveStore for the configured backend.
func New(cfg Config, logger *zap.Logger) (ArchiveStore, error) {
	switch cfg.Type {
	case TypeMemory, "":
		return NewMemoryStore(), nil
	case TypeFile:
		return NewFileStore(cfg.BaseDir, logger)
	case TypeRedis:
		return NewRedisStore(cfg.Redis, logger)
	case TypeMongo:
		return NewMongoStore(cfg.Mongo, logger)
	default:
		return nil, fmt.Errorf("unsupported archive store type: %s", cfg.Type)
	}
}
