// Package store provides durable persistence of the layered context index
// and per-node full-content archives.
//
// Supported backends:
// - Memory: for development and testing (default)
// - File: for single-node production deployments
// - Redis: for distributed deployments with hot-session caching
// - Mongo: optional document-store backend
//
// Loads return types.Result so callers can distinguish "no data" from
// "operation failed"; in both cases the engine treats the session as a cold
// start, matching the original fallback behavior.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/contextflow/types"
)

// Common errors
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrStoreClosed     = errors.New("store is closed")
	ErrVersionMismatch = errors.New("index version mismatch")
	ErrMalformedIndex  = errors.New("malformed index document")
)

// ArchiveStore persists index documents and node archives for one engine
// deployment. Implementations must be safe for concurrent readers; index
// mutation is owned by the archive writer, which must not race
// CleanupArchives (the keep-set has to come from the snapshot being cleaned
// against).
type ArchiveStore interface {
	// LoadIndex 读取一个会话的索引。缺失、损坏、版本不符、节点表
	// 非法都返回 Err；调用方用 OrElse(nil) 即得到冷启动语义。
	LoadIndex(ctx context.Context, sessionKey string) types.Result[*types.IndexDocument]

	// SaveIndex 原子地覆盖写索引（临时文件 + rename 或后端等价物），
	// 会话目录不存在时自动创建。
	SaveIndex(ctx context.Context, doc *types.IndexDocument) error

	// WriteArchive 写入一个节点的 L2 归档并返回其寻址路径。
	WriteArchive(ctx context.Context, sessionKey, nodeID string, payload *types.ArchivePayload) (string, error)

	// ReadArchive 按路径读取归档；任何失败都返回 Err，调用方跳过该节点。
	ReadArchive(ctx context.Context, path string) types.Result[*types.ArchivePayload]

	// CleanupArchives 删除 keep 集合之外的归档，返回删除数量。
	// 归档目录不存在不算错误（no-op）。
	CleanupArchives(ctx context.Context, sessionKey string, keep map[string]bool) (int, error)

	// Close releases backend resources.
	Close() error
}

// validateIndex rejects documents the engine must treat as absent.
func validateIndex(doc *types.IndexDocument) error {
	if doc.Version != types.IndexVersion {
		return fmt.Errorf("%w: got %d, want %d", ErrVersionMismatch, doc.Version, types.IndexVersion)
	}
	seen := make(map[string]struct{}, len(doc.Nodes))
	for i := range doc.Nodes {
		id := doc.Nodes[i].ID
		if id == "" {
			return fmt.Errorf("%w: node %d has empty id", ErrMalformedIndex, i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: duplicate node id %q", ErrMalformedIndex, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// normalizeIndex fills defaults before a save.
func normalizeIndex(doc *types.IndexDocument) error {
	if doc == nil || doc.SessionKey == "" {
		return ErrInvalidInput
	}
	if doc.Version == 0 {
		doc.Version = types.IndexVersion
	}
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	return nil
}
