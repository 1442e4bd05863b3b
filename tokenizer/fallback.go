package tokenizer

import (
	"go.uber.org/zap"

	"github.com/BaSui01/contextflow/types"
)

// Fallback wraps an inner tokenizer and degrades to the CJK-aware estimator
// when the inner one fails, logging a warning instead of surfacing the
// error. It never returns an error itself.
type Fallback struct {
	inner  Tokenizer
	est    *Estimator
	logger *zap.Logger
}

// NewFallback creates a fallback wrapper. A nil inner tokenizer means the
// estimator is used directly.
func NewFallback(inner Tokenizer, logger *zap.Logger) *Fallback {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fallback{inner: inner, est: NewEstimator(), logger: logger}
}

func (f *Fallback) CountTokens(text string) (int, error) {
	if f.inner != nil {
		count, err := f.inner.CountTokens(text)
		if err == nil {
			return count, nil
		}
		f.logger.Warn("tokenizer failed, falling back to estimate",
			zap.String("tokenizer", f.inner.Name()),
			zap.Error(err))
	}
	return f.est.CountTokens(text)
}

func (f *Fallback) CountMessages(msgs []types.Message) (int, error) {
	if f.inner != nil {
		count, err := f.inner.CountMessages(msgs)
		if err == nil {
			return count, nil
		}
		f.logger.Warn("tokenizer failed, falling back to estimate",
			zap.String("tokenizer", f.inner.Name()),
			zap.Error(err))
	}
	return f.est.CountMessages(msgs)
}

func (f *Fallback) Name() string { return "fallback" }

var _ Tokenizer = (*Fallback)(nil)
