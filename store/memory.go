package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/BaSui01/contextflow/types"
)

// MemoryStore is an in-memory ArchiveStore for development and testing.
// Documents are deep-copied through JSON-free cloning on both write and
// read so callers can't mutate stored state.
type MemoryStore struct {
	mu       sync.RWMutex
	indexes  map[string]*types.IndexDocument
	archives map[string]*types.ArchivePayload // path -> payload
	closed   bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		indexes:  make(map[string]*types.IndexDocument),
		archives: make(map[string]*types.ArchivePayload),
	}
}

func memArchivePath(sessionKey, nodeID string) string {
	return "mem://" + sessionKey + "/" + nodeID
}

func (s *MemoryStore) LoadIndex(ctx context.Context, sessionKey string) types.Result[*types.IndexDocument] {
	if err := ctx.Err(); err != nil {
		return types.Err[*types.IndexDocument](err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return types.Err[*types.IndexDocument](ErrStoreClosed)
	}

	doc, ok := s.indexes[sessionKey]
	if !ok {
		return types.Err[*types.IndexDocument](fmt.Errorf("%w: session %s", ErrNotFound, sessionKey))
	}
	if err := validateIndex(doc); err != nil {
		return types.Err[*types.IndexDocument](err)
	}
	return types.Ok(cloneIndex(doc))
}

func (s *MemoryStore) SaveIndex(ctx context.Context, doc *types.IndexDocument) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := normalizeIndex(doc); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.indexes[doc.SessionKey] = cloneIndex(doc)
	return nil
}

func (s *MemoryStore) WriteArchive(ctx context.Context, sessionKey, nodeID string, payload *types.ArchivePayload) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if sessionKey == "" || nodeID == "" || payload == nil {
		return "", ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrStoreClosed
	}

	path := memArchivePath(sessionKey, nodeID)
	s.archives[path] = clonePayload(payload)
	return path, nil
}

func (s *MemoryStore) ReadArchive(ctx context.Context, path string) types.Result[*types.ArchivePayload] {
	if err := ctx.Err(); err != nil {
		return types.Err[*types.ArchivePayload](err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return types.Err[*types.ArchivePayload](ErrStoreClosed)
	}

	payload, ok := s.archives[path]
	if !ok {
		return types.Err[*types.ArchivePayload](fmt.Errorf("%w: %s", ErrNotFound, path))
	}
	return types.Ok(clonePayload(payload))
}

func (s *MemoryStore) CleanupArchives(ctx context.Context, sessionKey string, keep map[string]bool) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrStoreClosed
	}

	removed := 0
	prefix := "mem://" + sessionKey + "/"
	for path, payload := range s.archives {
		if len(path) <= len(prefix) || path[:len(prefix)] != prefix {
			continue
		}
		if keep[payload.NodeID] {
			continue
		}
		delete(s.archives, path)
		removed++
	}
	return removed, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func cloneIndex(doc *types.IndexDocument) *types.IndexDocument {
	out := *doc
	if doc.Root != nil {
		root := *doc.Root
		root.Keywords = append([]string(nil), doc.Root.Keywords...)
		out.Root = &root
	}
	out.Nodes = make([]types.Node, len(doc.Nodes))
	for i := range doc.Nodes {
		out.Nodes[i] = doc.Nodes[i]
		out.Nodes[i].Keywords = append([]string(nil), doc.Nodes[i].Keywords...)
	}
	return &out
}

func clonePayload(p *types.ArchivePayload) *types.ArchivePayload {
	out := *p
	out.Messages = append([]types.Message(nil), p.Messages...)
	return &out
}

var _ ArchiveStore = (*MemoryStore)(nil)
