package topic

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/BaSui01/contextflow/types"
)

func msgs(contents ...string) []types.Message {
	out := make([]types.Message, len(contents))
	for i, c := range contents {
		out[i] = types.Message{Role: "user", Content: c}
	}
	return out
}

func TestBuildReference(t *testing.T) {
	t.Run("takes last n messages", func(t *testing.T) {
		ref := BuildReference(msgs("one", "two", "three"), 2, 0)
		assert.Equal(t, "two\nthree", ref)
	})

	t.Run("normalizes whitespace", func(t *testing.T) {
		ref := BuildReference(msgs("  hello\t\n  world  "), 0, 0)
		assert.Equal(t, "hello world", ref)
	})

	t.Run("clips long messages", func(t *testing.T) {
		long := strings.Repeat("a", 500)
		ref := BuildReference(msgs(long), 0, 0)
		assert.Len(t, ref, DefaultReferenceClip)
	})

	t.Run("clip does not split multibyte runes", func(t *testing.T) {
		long := strings.Repeat("汉", 200) // 600 字节
		ref := BuildReference(msgs(long), 0, 0)
		assert.True(t, len(ref) <= DefaultReferenceClip)
		for _, r := range ref {
			assert.Equal(t, '汉', r)
		}
	})

	t.Run("skips empty messages", func(t *testing.T) {
		ref := BuildReference(msgs("a", "   ", "b"), 0, 0)
		assert.Equal(t, "a\nb", ref)
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Empty(t, BuildReference(nil, 0, 0))
	})
}
