package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/wizardbeard/onepass/internal/platform/clock"
	"github.com/wizardbeard/onepass/internal/platform/config"
	"github.com/wizardbeard/onepass/internal/platform/discovery"
	"github.com/wizardbeard/onepass/internal/platform/idempotency"
	"github.com/wizardbeard/onepass/internal/platform/ledger"
	"github.com/wizardbeard/onepass/internal/platform/server"
	"github.com/wizardbeard/onepass/internal/platform/upstream"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	cfgPath := envOr("ONEPASS_CONFIG", "config.yaml")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	clk := clock.RealClock{}
	startedAt := clk.Now()
	version := envOr("ONEPASS_VERSION", "dev")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics := server.NewMetrics(reg)

	bank := ledger.New()
	cache := idempotency.New()
	client := upstream.NewClient(cfg.URLs, logger)
	engine := discovery.NewEngine(server.NewMeteredProber(client, metrics), cfg.RequestTimeout(), logger)
	batches := server.NewBatchService(bank, engine, client, clk, logger, metrics)

	mux := http.NewServeMux()
	onePass := &server.OnePassHandler{
		Batches: batches,
		Ledger:  bank,
		Cache:   cache,
		Metrics: metrics,
		Log:     logger,
	}
	onePass.Register(mux)
	system := server.SystemHandler{StartedAt: startedAt, Clock: clk, Version: version}
	system.Register(mux)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http listening", zap.String("addr", httpServer.Addr), zap.String("version", version))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// In-flight batches are abandoned on exit; the ledger has no
	// durability to flush.
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
}

func envOr(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}
