package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"mediaplan/backend/internal/analysis"
	"mediaplan/backend/internal/config"
	"mediaplan/backend/internal/controller"
	"mediaplan/backend/internal/db"
	"mediaplan/backend/internal/httpapi"
	"mediaplan/backend/internal/logger"
	"mediaplan/backend/internal/metrics"
	"mediaplan/backend/internal/policy"
	"mediaplan/backend/internal/threads"
)

func main() {
	// A missing .env is fine; the process environment still applies.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logs, err := logger.Connect(logger.ConnectProps{Production: cfg.Production(), Level: cfg.LogLevel})
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logs.Sync() }()
	zlog := logs.Logger(context.Background())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(cfg)
	if err != nil {
		zlog.Fatal("[Main] Could not open database", zap.Error(err))
	}
	defer database.Close()
	if err := db.Migrate(ctx, database); err != nil {
		zlog.Fatal("[Main] Could not migrate database", zap.Error(err))
	}

	p, err := policy.Load(cfg.PolicyFile)
	if err != nil {
		zlog.Fatal("[Main] Could not load policy", zap.String("path", cfg.PolicyFile), zap.Error(err))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewPrometheusRecorder(registry)

	gateway, err := analysis.NewFromConfig(ctx, cfg, &p, logs, recorder)
	if err != nil {
		zlog.Fatal("[Main] Could not build analysis gateway", zap.Error(err))
	}

	store := threads.NewSQLStore(database)
	conversations, err := controller.New(controller.Options{
		Store:    store,
		Analyzer: gateway,
		Policy:   &p,
		Logger:   logs,
		Metrics:  recorder,
	})
	if err != nil {
		zlog.Fatal("[Main] Could not build controller", zap.Error(err))
	}

	files, err := httpapi.NewObjectStore(ctx, cfg)
	if err != nil {
		zlog.Fatal("[Main] Could not open object store", zap.String("backend", cfg.StorageBackend), zap.Error(err))
	}

	handler := httpapi.NewRouter(httpapi.RouterDeps{
		Config:     cfg,
		Controller: conversations,
		Threads:    store,
		Files:      files,
		Logger:     logs,
		Gatherer:   registry,
	})

	srv := &http.Server{
		Addr:         cfg.ListenAddress(),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.TurnTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		zlog.Info("[Main] API listening",
			zap.String("addr", cfg.ListenAddress()),
			zap.String("analysis", cfg.ResolvedAnalysisProvider()),
			zap.String("storage", files.Backend()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("[Main] Listen failed", zap.Error(err))
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error("[Main] Shutdown error", zap.Error(err))
	}
}
