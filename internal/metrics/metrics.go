// Package metrics 定义采集流程的 Prometheus 指标。
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "contenthub"

// Metrics 汇总采集相关的指标。nil 的 *Metrics 上所有方法都是空操作。
type Metrics struct {
	SourceRuns        *prometheus.CounterVec
	SourceDuration    *prometheus.HistogramVec
	ArticlesCollected *prometheus.CounterVec
	ArticlesPersisted *prometheus.CounterVec
	PersistErrors     *prometheus.CounterVec
	RunsTotal         prometheus.Counter
	LastRunTimestamp  prometheus.Gauge
}

// New 在 reg 上注册指标；reg 为 nil 时使用默认 registry
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		SourceRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "source_runs_total",
			Help:      "Per-source collection runs by outcome",
		}, []string{"source_type", "status"}),
		SourceDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "source_duration_seconds",
			Help:      "Duration of a single source collection cycle",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"source_type"}),
		ArticlesCollected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "articles_collected_total",
			Help:      "Articles returned by collectors",
		}, []string{"source_type"}),
		ArticlesPersisted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "articles_persisted_total",
			Help:      "Articles upserted into the content store",
		}, []string{"source_type"}),
		PersistErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "persist_errors_total",
			Help:      "Articles skipped because the upsert failed",
		}, []string{"source_type"}),
		RunsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "manager",
			Name:      "runs_total",
			Help:      "Completed collection runs",
		}),
		LastRunTimestamp: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "manager",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last completed collection run",
		}),
	}
}

// ObserveSource 记录一次来源采集的结果与耗时
func (m *Metrics) ObserveSource(sourceType, status string, collected, persisted, failed int, took time.Duration) {
	if m == nil {
		return
	}
	m.SourceRuns.WithLabelValues(sourceType, status).Inc()
	m.SourceDuration.WithLabelValues(sourceType).Observe(took.Seconds())
	m.ArticlesCollected.WithLabelValues(sourceType).Add(float64(collected))
	m.ArticlesPersisted.WithLabelValues(sourceType).Add(float64(persisted))
	m.PersistErrors.WithLabelValues(sourceType).Add(float64(failed))
}

// ObserveRun 记录一次完整的运行
func (m *Metrics) ObserveRun(at time.Time) {
	if m == nil {
		return
	}
	m.RunsTotal.Inc()
	m.LastRunTimestamp.Set(float64(at.Unix()))
}
