package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/LJTian/ContentHub/internal/api"
	"github.com/LJTian/ContentHub/internal/collector"
	"github.com/LJTian/ContentHub/internal/config"
	"github.com/LJTian/ContentHub/internal/logger"
	"github.com/LJTian/ContentHub/internal/manager"
	"github.com/LJTian/ContentHub/internal/metrics"
	"github.com/LJTian/ContentHub/internal/scheduler"
	"github.com/LJTian/ContentHub/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := logger.Must(cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	store, err := storage.NewStore(cfg.PostgresDSN, cfg.RedisAddr, log)
	if err != nil {
		log.Fatal("init store failed", zap.Error(err))
	}
	defer func() { _ = store.Close() }()

	mgr := manager.New(store, collector.DefaultRegistry(), manager.Options{
		Collector: collector.Options{HTTPClient: &http.Client{Timeout: cfg.HTTPTimeout}},
		Locker:    store,
		Sink:      store,
		Metrics:   metrics.New(prometheus.DefaultRegisterer),
		Logger:    log.Named("manager"),
		LockTTL:   cfg.SourceLockTTL,
	})

	s, err := scheduler.New(cfg.CronSpec, mgr, log.Named("scheduler"))
	if err != nil {
		log.Fatal("init scheduler failed", zap.Error(err))
	}
	s.Start(cfg.RunOnStart)

	inv := api.NewInvoker(mgr, store, cfg.CronSecret, log.Named("invoke"))
	r := api.NewEngine(api.NewServer(inv, store, prometheus.DefaultGatherer, log.Named("http")), cfg.BasicAuthUser, cfg.BasicAuthPass)

	srv := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("starting api server", zap.String("addr", srv.Addr), zap.String("cron", cfg.CronSpec))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server exit", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", zap.Error(err))
	}
	// 等待进行中的采集结束
	select {
	case <-s.Stop().Done():
	case <-shutdownCtx.Done():
		log.Warn("collect job still running at shutdown")
	}
}
