package textsim

import (
	"strings"
	"unicode"
)

// Tokenize 把文本切成小写词项。ASCII 按非字母数字边界切分并丢弃
// 单字符噪音；CJK 字符逐字成项（与 token 估算器对 CJK 的处理一致）。
func Tokenize(text string) []string {
	if text == "" {
		return nil
	}

	var tokens []string
	var sb strings.Builder

	flush := func() {
		if sb.Len() >= 2 {
			tokens = append(tokens, sb.String())
		}
		sb.Reset()
	}

	for _, r := range strings.ToLower(text) {
		switch {
		case isCJK(r):
			flush()
			tokens = append(tokens, string(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			sb.WriteRune(r)
		default:
			flush()
		}
	}
	flush()

	return tokens
}

// TermSet 返回词项集合，供重叠判定使用。
func TermSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

// isCJK 判断是否为 CJK 字符。
func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) ||
		(r >= 0x3400 && r <= 0x4DBF) ||
		(r >= 0xF900 && r <= 0xFAFF) ||
		(r >= 0x3040 && r <= 0x30FF) || // 日文假名
		(r >= 0xAC00 && r <= 0xD7AF) // 谚文音节
}
