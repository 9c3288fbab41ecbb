package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/LJTian/ContentHub/internal/manager"
)

// 延迟执行首轮采集，避免与服务启动时的迁移、预热争抢连接
const defaultStartupDelay = 15 * time.Second

// Runner 是定时任务实际执行的动作，*manager.Manager 满足该接口
type Runner interface {
	CollectAllSources(ctx context.Context) (manager.Report, error)
}

type Scheduler struct {
	cron         *cron.Cron
	runner       Runner
	log          *zap.Logger
	startupDelay time.Duration

	mu      sync.Mutex
	running bool
}

func New(spec string, runner Runner, log *zap.Logger) (*Scheduler, error) {
	if log == nil {
		log = zap.NewNop()
	}
	cl := cronLogger{s: log.Named("cron").Sugar()}
	// 上一轮还没跑完时跳过本轮，避免两次运行同时改写同步状态
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	s := &Scheduler{
		cron:         c,
		runner:       runner,
		log:          log,
		startupDelay: defaultStartupDelay,
	}

	if _, err := c.AddFunc(spec, s.job); err != nil {
		return nil, err
	}
	return s, nil
}

// Start 启动定时器；runNow 为 true 时在短暂延迟后补跑一轮
func (s *Scheduler) Start(runNow bool) {
	s.cron.Start()
	if runNow {
		time.AfterFunc(s.startupDelay, s.job)
	}
}

// Stop 停止定时器，返回的 ctx 在进行中的任务结束后关闭
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// RunOnce 对外暴露的单次执行入口，方便手动触发采集
func (s *Scheduler) RunOnce(ctx context.Context) (manager.Report, error) {
	return s.runner.CollectAllSources(ctx)
}

func (s *Scheduler) job() {
	// 启动补跑与定时触发可能重叠，这里再兜一层
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.log.Info("previous collect job still running, skip")
		return
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	s.log.Info("start collect job")
	report, err := s.RunOnce(context.Background())
	if err != nil {
		s.log.Error("collect job failed", zap.Error(err))
		return
	}
	s.log.Info("collect job done",
		zap.String("run_id", report.RunID),
		zap.Int("sources_processed", report.SourcesProcessed),
		zap.Int("total_articles", report.TotalArticles),
		zap.Strings("failed_sources", report.Failed()),
	)
}

// cronLogger 把 cron 的日志接到 zap
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
