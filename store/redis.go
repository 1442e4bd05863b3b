package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/contextflow/types"
)

// RedisConfig configures the Redis-backed store.
type RedisConfig struct {
	Addr      string        `yaml:"addr" json:"addr"`
	Password  string        `yaml:"password" json:"password"`
	DB        int           `yaml:"db" json:"db"`
	KeyPrefix string        `yaml:"key_prefix" json:"key_prefix"`
	// TTL bounds how long a session lives without updates; 0 means no expiry.
	TTL time.Duration `yaml:"ttl" json:"ttl"`
}

// RedisStore is a Redis-backed ArchiveStore for distributed deployments
// where several bot workers share the same hot sessions.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	logger    *zap.Logger
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "contextflow:"
	}
	return &RedisStore{
		client:    client,
		keyPrefix: prefix,
		ttl:       cfg.TTL,
		logger:    logger.With(zap.String("component", "store_redis")),
	}, nil
}

func (s *RedisStore) indexKey(sessionKey string) string {
	return s.keyPrefix + "index:" + sessionKey
}

func (s *RedisStore) archiveKey(sessionKey, nodeID string) string {
	return s.keyPrefix + "archive:" + sessionKey + ":" + nodeID
}

func (s *RedisStore) LoadIndex(ctx context.Context, sessionKey string) types.Result[*types.IndexDocument] {
	data, err := s.client.Get(ctx, s.indexKey(sessionKey)).Bytes()
	if err == redis.Nil {
		return types.Err[*types.IndexDocument](fmt.Errorf("%w: session %s", ErrNotFound, sessionKey))
	}
	if err != nil {
		return types.Err[*types.IndexDocument](fmt.Errorf("redis get index: %w", err))
	}

	var doc types.IndexDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return types.Err[*types.IndexDocument](fmt.Errorf("parse index: %w", err))
	}
	if err := validateIndex(&doc); err != nil {
		return types.Err[*types.IndexDocument](err)
	}
	return types.Ok(&doc)
}

// SaveIndex 写入是单条 SET，对读者天然原子。
func (s *RedisStore) SaveIndex(ctx context.Context, doc *types.IndexDocument) error {
	if err := normalizeIndex(doc); err != nil {
		return err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal index: %w", err)
	}
	if err := s.client.Set(ctx, s.indexKey(doc.SessionKey), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set index: %w", err)
	}
	return nil
}

func (s *RedisStore) WriteArchive(ctx context.Context, sessionKey, nodeID string, payload *types.ArchivePayload) (string, error) {
	if sessionKey == "" || nodeID == "" || payload == nil {
		return "", ErrInvalidInput
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal archive: %w", err)
	}
	key := s.archiveKey(sessionKey, nodeID)
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("redis set archive: %w", err)
	}
	return key, nil
}

func (s *RedisStore) ReadArchive(ctx context.Context, path string) types.Result[*types.ArchivePayload] {
	data, err := s.client.Get(ctx, path).Bytes()
	if err == redis.Nil {
		return types.Err[*types.ArchivePayload](fmt.Errorf("%w: %s", ErrNotFound, path))
	}
	if err != nil {
		return types.Err[*types.ArchivePayload](fmt.Errorf("redis get archive: %w", err))
	}

	var payload types.ArchivePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return types.Err[*types.ArchivePayload](fmt.Errorf("parse archive: %w", err))
	}
	return types.Ok(&payload)
}

func (s *RedisStore) CleanupArchives(ctx context.Context, sessionKey string, keep map[string]bool) (int, error) {
	pattern := s.archiveKey(sessionKey, "*")
	prefix := s.archiveKey(sessionKey, "")

	removed := 0
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		nodeID := strings.TrimPrefix(key, prefix)
		if keep[nodeID] {
			continue
		}
		if err := s.client.Del(ctx, key).Err(); err != nil {
			s.logger.Warn("failed to remove orphaned archive",
				zap.String("key", key), zap.Error(err))
			continue
		}
		removed++
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("redis scan archives: %w", err)
	}
	return removed, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ ArchiveStore = (*RedisStore)(nil)
