package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"quantra/internal/api"
	"quantra/internal/backtest"
	qcfg "quantra/internal/config"
	"quantra/internal/logger"
	"quantra/internal/source"
	"quantra/internal/store"
	"quantra/internal/strategy"
	"quantra/internal/task"
)

func main() {
	cfgPath := os.Getenv("QUANTRA_CONFIG")
	if cfgPath == "" {
		if _, err := os.Stat("configs/config.yaml"); err == nil {
			cfgPath = "configs/config.yaml"
		}
	}

	cfg, err := qcfg.Load(cfgPath)
	if err != nil {
		log.Fatalf("读取配置失败: %v", err)
	}
	logger.SetLevel(cfg.Log.Level)
	logger.Infof("✓ 配置加载成功（addr=%s，data=%s）", cfg.Server.Addr, cfg.Data.Root)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	candleStore, err := store.NewCandleStore(cfg.Data.Root)
	if err != nil {
		log.Fatalf("初始化行情存储失败: %v", err)
	}
	defer candleStore.Close()

	resultStore, err := store.NewResultStore(cfg.Data.Root)
	if err != nil {
		log.Fatalf("初始化结果存储失败: %v", err)
	}
	defer resultStore.Close()

	fetchSvc, err := source.NewFetchService(source.FetchServiceConfig{
		Store: candleStore,
		Sources: map[string]source.CandleSource{
			"binance": source.NewBinanceSource(source.BinanceConfig{BaseURL: cfg.Data.BinanceBaseURL}),
		},
		DefaultExchange: cfg.Data.Exchange,
		RateLimitPerMin: cfg.Data.RateLimitPerMin,
		MaxBatch:        cfg.Data.MaxBatch,
		MaxConcurrent:   cfg.Data.MaxConcurrent,
	})
	if err != nil {
		log.Fatalf("初始化数据同步失败: %v", err)
	}
	fetchSvc.SetContext(ctx)

	taskSvc, err := task.NewService(task.ServiceConfig{
		Provider: candleStore,
		Loader:   strategy.NewLoader(),
		Store:    resultStore,
		Default: backtest.Config{
			InitialCapital: cfg.Backtest.InitialCapital,
			CommissionRate: cfg.Backtest.CommissionRate,
			Slippage:       cfg.Backtest.Slippage,
		},
		MaxConcurrent: cfg.Backtest.MaxConcurrent,
	})
	if err != nil {
		log.Fatalf("初始化任务服务失败: %v", err)
	}
	taskSvc.SetContext(ctx)

	server, err := api.NewServer(api.Config{
		Addr:    cfg.Server.Addr,
		Tasks:   taskSvc,
		Fetch:   fetchSvc,
		Candles: candleStore,
		Results: resultStore,
	})
	if err != nil {
		log.Fatalf("初始化 HTTP 服务失败: %v", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx)
	})
	if err := g.Wait(); err != nil {
		log.Fatalf("运行失败: %v", err)
	}
	logger.Infof("服务已退出")
}
