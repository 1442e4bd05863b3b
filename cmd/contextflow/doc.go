// Package main 是 contextflow 的命令行入口。
//
// 提供三个子命令:
//
//	dataset build  从真实对话流采样评测数据集
//	eval run       跑基线对照评测并登记结果
//	gate           对最近（或指定）一次运行做门禁判定
//
// 配置通过 --config 指定的 YAML 文件加载，CONTEXTFLOW_ 前缀的
// 环境变量可覆盖任意键。
package main
