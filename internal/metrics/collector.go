// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector 检索指标收集器
type Collector struct {
	retrievalsTotal *prometheus.CounterVec
	retrievalTokens *prometheus.HistogramVec
	savingsRatio    prometheus.Histogram
	archiveSkips    prometheus.Counter
	denseFallbacks  prometheus.Counter
	topicDecisions  *prometheus.CounterVec
}

// NewCollector 创建指标收集器。reg 为 nil 时使用默认注册表。
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		retrievalsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retrievals_total",
				Help:      "Total number of retrieval calls by reached layer and query mode",
			},
			[]string{"layer", "mode"},
		),
		retrievalTokens: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "retrieval_tokens",
				Help:      "Tokens selected per retrieval by tier",
				Buckets:   prometheus.ExponentialBuckets(16, 2, 10),
			},
			[]string{"tier"},
		),
		savingsRatio: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "retrieval_savings_ratio",
				Help:      "Token savings ratio versus the full-L2 baseline",
				Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
			},
		),
		archiveSkips: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "archive_skips_total",
				Help:      "L2 candidates skipped because their archive was unreadable",
			},
		),
		denseFallbacks: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dense_fallbacks_total",
				Help:      "Retrievals that fell back to sparse-only scoring",
			},
		),
		topicDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "topic_decisions_total",
				Help:      "Topic transition decisions by outcome",
			},
			[]string{"decision"},
		),
	}
}

// ObserveRetrieval 记录一次检索的层级、模式与 token 账目。
func (c *Collector) ObserveRetrieval(layer, mode string, l0, l1, l2 int, savingsRatio float64) {
	c.retrievalsTotal.WithLabelValues(layer, mode).Inc()
	c.retrievalTokens.WithLabelValues("l0").Observe(float64(l0))
	c.retrievalTokens.WithLabelValues("l1").Observe(float64(l1))
	c.retrievalTokens.WithLabelValues("l2").Observe(float64(l2))
	c.savingsRatio.Observe(savingsRatio)
}

// ObserveArchiveSkip 记录一次因归档缺失而跳过的 L2 候选。
func (c *Collector) ObserveArchiveSkip() {
	c.archiveSkips.Inc()
}

// ObserveDenseFallback 记录一次稠密打分失败后的稀疏回退。
func (c *Collector) ObserveDenseFallback() {
	c.denseFallbacks.Inc()
}

// ObserveTopicDecision 记录一次话题迁移决策。
func (c *Collector) ObserveTopicDecision(decision string) {
	c.topicDecisions.WithLabelValues(decision).Inc()
}
