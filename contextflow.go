// Package contextflow provides a top-level convenience entry point for
// assembling the layered context engine with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/contextflow"
//
//	eng, st, err := contextflow.New()
//	eng, st, err := contextflow.New(contextflow.WithStore(store.Config{Type: store.TypeFile, BaseDir: "data"}))
//
// This is a thin wrapper around [store.New] and [retrieval.New]; callers
// needing per-component control should use those packages directly.
package contextflow

import (
	"go.uber.org/zap"

	"github.com/BaSui01/contextflow/dense"
	"github.com/BaSui01/contextflow/retrieval"
	"github.com/BaSui01/contextflow/store"
)

// Option configures the engine created by [New].
type Option func(*options)

type options struct {
	storeCfg     store.Config
	retrievalCfg retrieval.Config
	logger       *zap.Logger
	scorer       dense.Scorer
}

// WithStore selects the archive store backend. Defaults to in-memory.
func WithStore(cfg store.Config) Option {
	return func(o *options) { o.storeCfg = cfg }
}

// WithRetrieval overrides the retrieval configuration.
func WithRetrieval(cfg retrieval.Config) Option {
	return func(o *options) { o.retrievalCfg = cfg }
}

// WithLogger sets the logger for the store and engine.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithDenseScorer enables dense score augmentation.
func WithDenseScorer(s dense.Scorer) Option {
	return func(o *options) { o.scorer = s }
}

// New assembles an archive store and a retrieval engine over it.
// The returned store is owned by the caller and must be closed.
func New(opts ...Option) (*retrieval.Engine, store.ArchiveStore, error) {
	o := options{
		storeCfg:     store.Config{Type: store.TypeMemory},
		retrievalCfg: retrieval.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	st, err := store.New(o.storeCfg, o.logger)
	if err != nil {
		return nil, nil, err
	}

	engineOpts := []retrieval.Option{}
	if o.logger != nil {
		engineOpts = append(engineOpts, retrieval.WithLogger(o.logger))
	}
	if o.scorer != nil {
		engineOpts = append(engineOpts, retrieval.WithDenseScorer(o.scorer))
	}
	return retrieval.New(st, o.retrievalCfg, engineOpts...), st, nil
}
