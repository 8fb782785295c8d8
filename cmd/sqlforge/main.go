// Command sqlforge runs the real-time task-orchestration server: a WebSocket
// endpoint through which browser clients submit schema-generation, query, and
// chat tasks that are planned, executed against the completion service, and
// streamed back with progress.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lunagrove/sqlforge/internal/bus"
	"github.com/lunagrove/sqlforge/internal/cache"
	"github.com/lunagrove/sqlforge/internal/config"
	"github.com/lunagrove/sqlforge/internal/history"
	"github.com/lunagrove/sqlforge/internal/hub"
	"github.com/lunagrove/sqlforge/internal/llm"
	"github.com/lunagrove/sqlforge/internal/orchestrator"
	sfotel "github.com/lunagrove/sqlforge/internal/otel"
	"github.com/lunagrove/sqlforge/internal/router"
	"github.com/lunagrove/sqlforge/internal/schemaspec"
	"github.com/lunagrove/sqlforge/internal/server"
	"github.com/lunagrove/sqlforge/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	listen := flag.String("listen", "", "listen address (overrides config)")
	flag.Parse()

	if err := run(*configPath, *listen); err != nil {
		fmt.Fprintln(os.Stderr, "sqlforge:", err)
		os.Exit(1)
	}
}

func run(configPath, listenOverride string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listenOverride != "" {
		cfg.Listen = listenOverride
	}

	logger, logLevel, logCloser, err := telemetry.NewLogger(cfg.LogDir, cfg.LogLevel, false)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logCloser.Close()
	logger.Info("starting sqlforge", "listen", cfg.Listen, "config", cfg.Fingerprint())

	otelProvider, err := sfotel.Init(ctx, cfg.Otel)
	if err != nil {
		return fmt.Errorf("init otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = otelProvider.Shutdown(shutdownCtx)
	}()

	metrics, err := sfotel.NewMetrics(otelProvider.Meter)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	eventBus := bus.New()

	var historyStore *history.Store
	if cfg.HistoryEnabled() {
		historyStore, err = history.Open(cfg.History.Path)
		if err != nil {
			return fmt.Errorf("open history store: %w", err)
		}
		defer historyStore.Close()

		recorder := history.NewRecorder(historyStore, eventBus, logger)
		recorder.Start(ctx)
		defer recorder.Stop()
	}

	respCache := cache.New(cache.WithEvictionHook(func(n int) {
		metrics.CacheEvictions.Add(context.Background(), int64(n))
	}))
	sweeper, err := cache.NewSweeper(respCache, cfg.Cache.SweepSpec, logger)
	if err != nil {
		return fmt.Errorf("init cache sweeper: %w", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	validator, err := schemaspec.NewValidator()
	if err != nil {
		return fmt.Errorf("init schema validator: %w", err)
	}

	svc := llm.NewGenkitService(ctx, llm.Config{
		Provider:                 cfg.LLM.Provider,
		Model:                    cfg.LLM.Model,
		APIKey:                   cfg.LLM.APIKey,
		OpenAICompatibleProvider: cfg.LLM.OpenAICompatibleProvider,
		OpenAICompatibleBaseURL:  cfg.LLM.OpenAICompatibleBaseURL,
	}, metrics)

	orch := orchestrator.New(svc, respCache, cfg.CacheTTL(), validator, eventBus, metrics, logger)

	connHub := hub.New(cfg.HeartbeatInterval(), logger, metrics)
	connHub.Start(ctx)

	frameRouter := router.New(logger, metrics)
	srv := server.New(server.Config{
		Hub:          connHub,
		Router:       frameRouter,
		Orchestrator: orch,
		Cache:        respCache,
		History:      historyStore,
		AllowOrigins: cfg.AllowOrigins,
		Logger:       logger,
	})

	watcher := config.NewWatcher(configPath, logger)
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("config watcher unavailable", "error", err)
	} else {
		go func() {
			for range watcher.Events() {
				next, err := config.Load(configPath)
				if err != nil {
					logger.Warn("config changed but failed to load; keeping current settings", "error", err)
					continue
				}
				logLevel.Set(telemetry.ParseLevel(next.LogLevel))
				orch.SetCacheTTL(next.CacheTTL())
				logger.Info("config reloaded",
					"fingerprint", next.Fingerprint(),
					"logLevel", next.LogLevel,
					"cacheTtlSeconds", next.Cache.TTLSeconds,
				)
			}
		}()
	}

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	logger.Info("sqlforge stopped")
	return nil
}
