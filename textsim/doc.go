// Package textsim 提供检索打分所需的纯文本相似度工具：分词、
// 逆频率加权的稀疏词项重叠打分、稠密分数的归一化与凸组合混合。
//
// 包内全部为纯函数，无状态、无 I/O，可以在任何 goroutine 中直接使用。
package textsim
