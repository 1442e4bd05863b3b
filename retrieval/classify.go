package retrieval

import (
	"strings"

	"github.com/BaSui01/contextflow/types"
)

// preciseSignals 命中即判为 precise 的词汇：代码、报错、堆栈。
var preciseSignals = []string{
	"error", "errno", "panic", "exception", "traceback", "stack trace",
	"stacktrace", "segfault", "nil pointer", "undefined", "compile",
	"报错", "错误", "堆栈", "异常", "崩溃",
}

// preciseExtensions 查询中出现类文件名后缀也判为 precise。
var preciseExtensions = []string{
	".go", ".py", ".js", ".ts", ".rs", ".java", ".c", ".cpp", ".h",
	".json", ".yaml", ".yml", ".toml", ".sql", ".sh", ".proto", ".log",
}

// structuredSignals 结构性问题的词汇：总结、架构、流程。
var structuredSignals = []string{
	"summary", "summarize", "overview", "architecture", "structure",
	"design", "workflow", "roadmap", "recap", "outline",
	"总结", "概述", "架构", "结构", "流程", "梳理",
}

// ClassifyQuery 把查询分为 precise / structured / broad。
// 判定基于关键词成员关系且有顺序：precise 信号先于 structured 检查，
// 因此 "summarize the stack trace" 判为 precise。
func ClassifyQuery(query string) types.QueryMode {
	q := strings.ToLower(query)

	for _, sig := range preciseSignals {
		if strings.Contains(q, sig) {
			return types.QueryModePrecise
		}
	}
	for _, ext := range preciseExtensions {
		if strings.Contains(q, ext) {
			return types.QueryModePrecise
		}
	}
	// 路径分隔符：出现类似 a/b 或 a\b 的片段
	if containsPathSeparator(q) {
		return types.QueryModePrecise
	}

	for _, sig := range structuredSignals {
		if strings.Contains(q, sig) {
			return types.QueryModeStructured
		}
	}
	return types.QueryModeBroad
}

// containsPathSeparator 要求分隔符两侧都有非空白字符，避免把
// "either/or" 之外的普通斜杠误判……实际上 "either/or" 也会命中；
// 这一粗粒度与原有行为一致，宁可高估精确度也不漏掉文件路径。
func containsPathSeparator(q string) bool {
	for i := 1; i < len(q)-1; i++ {
		if q[i] == '/' || q[i] == '\\' {
			if q[i-1] != ' ' && q[i+1] != ' ' {
				return true
			}
		}
	}
	return false
}

// MinLayerForMode 返回该查询模式的建议最低层级，供评测标注复用：
// precise→L2、structured→L1、broad→L0。
func MinLayerForMode(mode types.QueryMode) types.Layer {
	switch mode {
	case types.QueryModePrecise:
		return types.LayerL2
	case types.QueryModeStructured:
		return types.LayerL1
	default:
		return types.LayerL0
	}
}
