package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
	"go.uber.org/zap"

	"github.com/LJTian/ContentHub/internal/collector"
	"github.com/LJTian/ContentHub/internal/config"
	"github.com/LJTian/ContentHub/internal/logger"
	"github.com/LJTian/ContentHub/internal/manager"
	"github.com/LJTian/ContentHub/internal/storage"
)

type options struct {
	Type string `long:"type" short:"t" description:"only collect enabled sources of this type"`
}

// 一个仅执行一次采集任务的命令行入口：适合手动触发或外部 cron 调用。
// 有任意数据源失败时以状态码 1 退出。
func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			return
		}
		os.Exit(2)
	}
	os.Exit(run(opts))
}

func run(opts options) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	log := logger.Must(cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	log.Info("starting collection run", zap.Time("at", time.Now().UTC()), zap.String("type", opts.Type))

	store, err := storage.NewStore(cfg.PostgresDSN, cfg.RedisAddr, log)
	if err != nil {
		log.Error("init store failed", zap.Error(err))
		return 1
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	if err := store.Ping(ctx); err != nil {
		log.Error("failed to connect to database", zap.Error(err))
		return 1
	}

	mgr := manager.New(store, collector.DefaultRegistry(), manager.Options{
		Collector: collector.Options{HTTPClient: &http.Client{Timeout: cfg.HTTPTimeout}},
		Locker:    store,
		Sink:      store,
		Logger:    log.Named("manager"),
		LockTTL:   cfg.SourceLockTTL,
	})

	var report manager.Report
	if opts.Type != "" {
		report, err = mgr.CollectSourcesByType(ctx, opts.Type)
	} else {
		report, err = mgr.CollectAllSources(ctx)
	}
	if err != nil {
		log.Error("collection failed", zap.Error(err))
		return 1
	}

	log.Info("collection completed",
		zap.Int("sources_processed", report.SourcesProcessed),
		zap.Int("total_articles", report.TotalArticles),
	)
	if report.HasErrors() {
		log.Warn("some sources failed", zap.Strings("errors", report.Errors))
		return 1
	}
	return 0
}
