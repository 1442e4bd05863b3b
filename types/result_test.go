package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResultOk(t *testing.T) {
	r := Ok(42)
	assert.True(t, r.IsOk())
	assert.NoError(t, r.Err())

	v, ok := r.Value()
	assert.True(t, ok)
	assert.Equal(t, 42, v)
	assert.Equal(t, 42, r.OrElse(-1))
}

func TestResultErr(t *testing.T) {
	cause := errors.New("index version mismatch")
	r := Err[*IndexDocument](cause)

	assert.False(t, r.IsOk())
	assert.ErrorIs(t, r.Err(), cause)

	// OrElse 保留旧代码的回退语义：失败时得到 nil，当作冷启动。
	assert.Nil(t, r.OrElse(nil))

	v, err := r.Unwrap()
	assert.Nil(t, v)
	assert.Error(t, err)
}
