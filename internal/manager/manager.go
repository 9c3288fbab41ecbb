// Package manager 驱动一次完整的采集运行：逐个数据源执行 采集→清洗→入库→回写同步状态，
// 单个数据源的失败不会影响其它数据源。
package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/LJTian/ContentHub/internal/collector"
	"github.com/LJTian/ContentHub/internal/metrics"
	"github.com/LJTian/ContentHub/internal/processor"
	"github.com/LJTian/ContentHub/internal/storage"
)

var (
	// ErrPersist 单篇文章写入失败，只跳过该文章
	ErrPersist = errors.New("persist article")
	// ErrSourceBusy 该数据源正被另一次运行采集
	ErrSourceBusy = errors.New("source is being collected by another run")
)

const defaultLockTTL = 10 * time.Minute

// SourceStore 是管理器对 sources 表的全部依赖
type SourceStore interface {
	ListEnabledSources(ctx context.Context) ([]storage.Source, error)
	ListEnabledSourcesByType(ctx context.Context, sourceType string) ([]storage.Source, error)
	MarkSyncSuccess(ctx context.Context, id string, at time.Time, syncMetadata map[string]any) error
	MarkSyncFailed(ctx context.Context, id string, at time.Time) error
}

// ContentStore 是管理器对 contents 表的依赖
type ContentStore interface {
	UpsertContent(ctx context.Context, it processor.ProcessedContent) error
}

// Store 合并两张表的依赖，*storage.Store 满足该接口
type Store interface {
	SourceStore
	ContentStore
}

// Locker 按数据源加锁，防止并发运行互相覆盖同步状态
type Locker interface {
	AcquireSourceLock(ctx context.Context, sourceID string, ttl time.Duration) (release func(), ok bool, err error)
}

// ReportSink 保存最近一次运行报告
type ReportSink interface {
	CacheLastRun(ctx context.Context, report []byte) error
}

// Options 是管理器的可选依赖，零值可用
type Options struct {
	Collector collector.Options
	Locker    Locker
	Sink      ReportSink
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
	LockTTL   time.Duration
	Now       func() time.Time
}

type Manager struct {
	store     Store
	registry  *collector.Registry
	processor *processor.SimpleProcessor
	opts      Options
	log       *zap.Logger
}

func New(store Store, registry *collector.Registry, opts Options) *Manager {
	if registry == nil {
		registry = collector.DefaultRegistry()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = defaultLockTTL
	}
	if opts.Collector.Now == nil {
		opts.Collector.Now = opts.Now
	}
	return &Manager{
		store:     store,
		registry:  registry,
		processor: processor.NewSimpleProcessor(),
		opts:      opts,
		log:       opts.Logger,
	}
}

// CollectAllSources 采集所有启用的数据源。
// 只有读取数据源列表失败这类基础设施错误才会返回 error。
func (m *Manager) CollectAllSources(ctx context.Context) (Report, error) {
	sources, err := m.store.ListEnabledSources(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list enabled sources: %w", err)
	}
	return m.run(ctx, sources), nil
}

// CollectSourcesByType 只采集指定类型的启用数据源
func (m *Manager) CollectSourcesByType(ctx context.Context, sourceType string) (Report, error) {
	sources, err := m.store.ListEnabledSourcesByType(ctx, sourceType)
	if err != nil {
		return Report{}, fmt.Errorf("list enabled %s sources: %w", sourceType, err)
	}
	return m.run(ctx, sources), nil
}

func (m *Manager) run(ctx context.Context, sources []storage.Source) Report {
	report := newReport(uuid.NewString(), m.opts.Now())
	log := m.log.With(zap.String("run_id", report.RunID))

	if len(sources) == 0 {
		log.Info("no enabled sources found")
		return report
	}

	log.Info("collection run started", zap.Int("sources", len(sources)))

	// 按顺序逐个处理，数据源之间不并发
	for _, src := range sources {
		report.add(m.collectSource(ctx, src, log))
	}

	m.opts.Metrics.ObserveRun(m.opts.Now())
	m.publish(ctx, report, log)

	log.Info("collection run complete",
		zap.Int("sources_processed", report.SourcesProcessed),
		zap.Int("total_articles", report.TotalArticles),
		zap.Int("errors", len(report.Errors)),
	)
	return report
}

func (m *Manager) publish(ctx context.Context, report Report, log *zap.Logger) {
	if m.opts.Sink == nil {
		return
	}
	b, err := json.Marshal(report)
	if err != nil {
		log.Warn("encode run report failed", zap.Error(err))
		return
	}
	if err := m.opts.Sink.CacheLastRun(ctx, b); err != nil {
		log.Warn("cache run report failed", zap.Error(err))
	}
}

type cycleStats struct {
	collected int
	saved     int
	failed    int
}

func (m *Manager) collectSource(ctx context.Context, src storage.Source, runLog *zap.Logger) SourceResult {
	start := time.Now()
	log := runLog.With(zap.String("source", src.Name), zap.String("type", src.Type))
	res := SourceResult{SourceName: src.Name, SourceType: src.Type, Status: StatusFailed}

	release, ok := m.lock(ctx, src.ID, log)
	if !ok {
		// 锁被占用时不回写状态，持锁的那次运行会负责
		msg := failureMessage(src.Name, ErrSourceBusy)
		log.Warn("skip source", zap.Error(ErrSourceBusy))
		res.Error = &msg
		m.opts.Metrics.ObserveSource(src.Type, string(StatusFailed), 0, 0, 0, time.Since(start))
		return res
	}
	defer release()

	stats, err := m.cycle(ctx, src, log)
	if err != nil {
		msg := failureMessage(src.Name, err)
		log.Error("collect source failed", zap.Error(err))
		if merr := m.store.MarkSyncFailed(ctx, src.ID, m.opts.Now()); merr != nil {
			log.Error("mark source failed", zap.Error(merr))
		}
		res.Error = &msg
	} else {
		res.Status = StatusSuccess
		res.ArticlesCollected = stats.saved
		log.Info("collected source", zap.Int("collected", stats.collected), zap.Int("saved", stats.saved))
	}

	m.opts.Metrics.ObserveSource(src.Type, string(res.Status), stats.collected, stats.saved, stats.failed, time.Since(start))
	return res
}

// cycle 单个数据源的完整流程，任何一步返回错误都会使该数据源标记为 failed。
// 采集器内部 panic 同样只算作该数据源失败。
func (m *Manager) cycle(ctx context.Context, src storage.Source, log *zap.Logger) (stats cycleStats, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("collector panicked", zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("collector panicked: %v", r)
		}
	}()

	copts := m.opts.Collector
	copts.Logger = log
	c, err := m.registry.Build(toSourceConfig(src), copts)
	if err != nil {
		return stats, err
	}

	if err := c.ValidateConfig(); err != nil {
		return stats, err
	}

	// 探测失败可能是误报，仍然继续采集
	if err := c.TestConnection(ctx); err != nil {
		log.Warn("connection test failed", zap.Error(err))
	}

	result := c.Collect(ctx)
	if result.Err != nil {
		return stats, result.Err
	}
	stats.collected = len(result.Articles)

	for _, it := range m.processor.Process(src.ID, result.Articles) {
		if err := m.store.UpsertContent(ctx, it); err != nil {
			stats.failed++
			log.Error("save article failed",
				zap.String("external_id", it.ExternalID),
				zap.String("title", it.Title),
				zap.Error(fmt.Errorf("%w: %w", ErrPersist, err)),
			)
			continue
		}
		stats.saved++
	}

	if err := m.store.MarkSyncSuccess(ctx, src.ID, m.opts.Now(), result.SyncMetadata); err != nil {
		return stats, fmt.Errorf("write sync state: %w", err)
	}
	return stats, nil
}

// lock 获取数据源锁。redis 故障时放行，锁只是尽力而为。
func (m *Manager) lock(ctx context.Context, sourceID string, log *zap.Logger) (func(), bool) {
	if m.opts.Locker == nil {
		return func() {}, true
	}
	release, ok, err := m.opts.Locker.AcquireSourceLock(ctx, sourceID, m.opts.LockTTL)
	if err != nil {
		log.Warn("source lock unavailable, collecting without it", zap.Error(err))
		return func() {}, true
	}
	if !ok {
		return nil, false
	}
	return release, true
}

func toSourceConfig(src storage.Source) collector.SourceConfig {
	return collector.SourceConfig{
		ID:           src.ID,
		Name:         src.Name,
		Type:         src.Type,
		Config:       map[string]any(src.Config),
		SyncMetadata: map[string]any(src.SyncMetadata),
	}
}

func failureMessage(name string, err error) string {
	return fmt.Sprintf("Failed to collect from %s: %v", name, err)
}
