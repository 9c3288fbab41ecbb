package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"
	"go.uber.org/zap"

	"github.com/LJTian/ContentHub/internal/collector"
	"github.com/LJTian/ContentHub/internal/config"
	"github.com/LJTian/ContentHub/internal/logger"
	"github.com/LJTian/ContentHub/internal/storage"
)

type options struct {
	File   string `long:"file" short:"f" description:"YAML file describing sources (built-in defaults when omitted)"`
	DryRun bool   `long:"dry-run" description:"print the sources without writing them"`
}

// 新增或更新数据源配置，按 (type, name) 匹配已有记录，已有的同步状态保持不变
func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			return
		}
		os.Exit(2)
	}
	if err := run(opts); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(opts options) error {
	sources := defaultSeed(os.Getenv)
	if opts.File != "" {
		data, err := os.ReadFile(opts.File)
		if err != nil {
			return fmt.Errorf("read %s: %w", opts.File, err)
		}
		if sources, err = parseSeed(data, os.Getenv, collector.DefaultRegistry()); err != nil {
			return err
		}
	}

	if opts.DryRun {
		for _, s := range sources {
			fmt.Printf("%s\t%s\tenabled=%t\n", s.Type, s.Name, s.Enabled)
		}
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.Must(cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	store, err := storage.NewStore(cfg.PostgresDSN, cfg.RedisAddr, log)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	for _, s := range sources {
		saved, created, err := store.EnsureSource(ctx, s)
		if err != nil {
			return err
		}
		action := "Updated"
		if created {
			action = "Added"
		}
		log.Info("source saved", zap.String("id", saved.ID), zap.String("type", saved.Type), zap.Bool("created", created))
		fmt.Printf("%s: %s\n", action, saved.Name)
	}
	return nil
}
