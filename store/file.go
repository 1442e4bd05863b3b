package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/contextflow/types"
)

const (
	indexFileName = "index.json"
	archiveDir    = "archive"
)

// FileStore is a file-based ArchiveStore. Layout:
//
//	<baseDir>/<sessionKey>/index.json
//	<baseDir>/<sessionKey>/archive/<nodeID>.json
//
// Index writes go through a temp file + rename so a reader that runs after
// a completed write never observes a partial document.
type FileStore struct {
	baseDir string
	logger  *zap.Logger
}

// NewFileStore creates a file-based store rooted at baseDir.
func NewFileStore(baseDir string, logger *zap.Logger) (*FileStore, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("%w: empty base dir", ErrInvalidInput)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &FileStore{
		baseDir: baseDir,
		logger:  logger.With(zap.String("component", "store_file")),
	}, nil
}

func (s *FileStore) sessionDir(sessionKey string) string {
	return filepath.Join(s.baseDir, sanitizeKey(sessionKey))
}

// LoadIndex 读取索引；任何失败都作为 Err 返回并记一条 debug 日志。
func (s *FileStore) LoadIndex(ctx context.Context, sessionKey string) types.Result[*types.IndexDocument] {
	if err := ctx.Err(); err != nil {
		return types.Err[*types.IndexDocument](err)
	}

	path := filepath.Join(s.sessionDir(sessionKey), indexFileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return types.Err[*types.IndexDocument](fmt.Errorf("%w: %s", ErrNotFound, path))
	}
	if err != nil {
		return types.Err[*types.IndexDocument](fmt.Errorf("read index: %w", err))
	}

	var doc types.IndexDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Debug("index parse failed, treating as cold start",
			zap.String("session", sessionKey), zap.Error(err))
		return types.Err[*types.IndexDocument](fmt.Errorf("parse index: %w", err))
	}
	if err := validateIndex(&doc); err != nil {
		s.logger.Debug("index rejected, treating as cold start",
			zap.String("session", sessionKey), zap.Error(err))
		return types.Err[*types.IndexDocument](err)
	}
	return types.Ok(&doc)
}

// SaveIndex 原子写索引：先写临时文件再 rename。
func (s *FileStore) SaveIndex(ctx context.Context, doc *types.IndexDocument) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := normalizeIndex(doc); err != nil {
		return err
	}

	dir := s.sessionDir(doc.SessionKey)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal index: %w", err)
	}

	path := filepath.Join(dir, indexFileName)
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return fmt.Errorf("write index temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("rename index: %w", err)
	}

	s.logger.Debug("index saved",
		zap.String("session", doc.SessionKey),
		zap.Int("nodes", len(doc.Nodes)))
	return nil
}

// WriteArchive 写入一个节点的归档文件并返回其路径。
func (s *FileStore) WriteArchive(ctx context.Context, sessionKey, nodeID string, payload *types.ArchivePayload) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if sessionKey == "" || nodeID == "" || payload == nil {
		return "", ErrInvalidInput
	}

	dir := filepath.Join(s.sessionDir(sessionKey), archiveDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create archive directory: %w", err)
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal archive: %w", err)
	}

	path := filepath.Join(dir, sanitizeKey(nodeID)+".json")
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return "", fmt.Errorf("write archive temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return "", fmt.Errorf("rename archive: %w", err)
	}
	return path, nil
}

// ReadArchive 按路径读取归档；失败返回 Err，调用方静默跳过该节点。
func (s *FileStore) ReadArchive(ctx context.Context, path string) types.Result[*types.ArchivePayload] {
	if err := ctx.Err(); err != nil {
		return types.Err[*types.ArchivePayload](err)
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return types.Err[*types.ArchivePayload](fmt.Errorf("%w: %s", ErrNotFound, path))
	}
	if err != nil {
		return types.Err[*types.ArchivePayload](fmt.Errorf("read archive: %w", err))
	}

	var payload types.ArchivePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return types.Err[*types.ArchivePayload](fmt.Errorf("parse archive: %w", err))
	}
	return types.Ok(&payload)
}

// CleanupArchives 删除 keep 集合之外的归档文件。
// 归档目录不存在时为 no-op；单个文件删除失败只记警告，继续处理其余文件。
func (s *FileStore) CleanupArchives(ctx context.Context, sessionKey string, keep map[string]bool) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	dir := filepath.Join(s.sessionDir(sessionKey), archiveDir)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read archive directory: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		nodeID := strings.TrimSuffix(name, ".json")
		if keep[nodeID] {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			s.logger.Warn("failed to remove orphaned archive",
				zap.String("session", sessionKey),
				zap.String("node", nodeID),
				zap.Error(err))
			continue
		}
		removed++
	}

	if removed > 0 {
		s.logger.Info("archives cleaned up",
			zap.String("session", sessionKey),
			zap.Int("removed", removed))
	}
	return removed, nil
}

// Close is a no-op for the file store.
func (s *FileStore) Close() error { return nil }

// sanitizeKey 把会话/节点标识映射为安全的文件名。
func sanitizeKey(key string) string {
	var sb strings.Builder
	sb.Grow(len(key))
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '.':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	return sb.String()
}

var _ ArchiveStore = (*FileStore)(nil)
