package topic

import (
	"strings"

	"github.com/BaSui01/contextflow/types"
)

const (
	// DefaultReferenceMessages 话题参照取最近几条消息。
	DefaultReferenceMessages = 8
	// DefaultReferenceClip 每条消息截取的最大字符数。
	DefaultReferenceClip = 240
)

// BuildReference 把最近 n 条消息拼成话题参照：逐条截断、压掉多余
// 空白后以换行连接。这是一个廉价的话题指纹，不是语义摘要。
// n/clip 非正时取默认值。
func BuildReference(messages []types.Message, n, clip int) string {
	if n <= 0 {
		n = DefaultReferenceMessages
	}
	if clip <= 0 {
		clip = DefaultReferenceClip
	}
	if len(messages) > n {
		messages = messages[len(messages)-n:]
	}

	parts := make([]string, 0, len(messages))
	for _, m := range messages {
		text := strings.Join(strings.Fields(m.Content), " ")
		if text == "" {
			continue
		}
		if len(text) > clip {
			text = clipUTF8(text, clip)
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, "\n")
}

// clipUTF8 在不切断多字节字符的前提下截取最多 limit 个字节。
func clipUTF8(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && s[limit]&0xC0 == 0x80 {
		limit--
	}
	return s[:limit]
}
