// Command chatclient runs a chat session against Postgres and serves a
// local HTTP control surface for it.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GetStream/stream-chat-sync/analysis"
	"github.com/GetStream/stream-chat-sync/api"
	"github.com/GetStream/stream-chat-sync/api/validator"
	"github.com/GetStream/stream-chat-sync/config"
	"github.com/GetStream/stream-chat-sync/enrich"
	"github.com/GetStream/stream-chat-sync/gemini"
	"github.com/GetStream/stream-chat-sync/ledger"
	"github.com/GetStream/stream-chat-sync/metrics"
	"github.com/GetStream/stream-chat-sync/moderation"
	"github.com/GetStream/stream-chat-sync/postgres"
	"github.com/GetStream/stream-chat-sync/redis"
	"github.com/GetStream/stream-chat-sync/responder"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Exiting", "error", err.Error())
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)
	logger.Info("Config loaded",
		"user_id", cfg.UserID,
		"language", cfg.Language,
		"listen_addr", cfg.ListenAddr,
		"redis", cfg.RedisAddr != "",
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	pg, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pg.Close()
	if err := pg.Migrate(ctx); err != nil {
		return err
	}
	store := pg.Messages(cfg.UserID, logger)

	cache := &analysis.Memory{
		Logger:         logger,
		PersistTimeout: cfg.CallTimeout,
	}
	if cfg.RedisAddr != "" {
		r, err := redis.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer r.Close()
		cache.Persister = r.Cache(cfg.CacheNamespace, cfg.CacheTTL)
		n, err := cache.Warm(ctx)
		if err != nil {
			logger.Warn("Could not warm analysis cache", "error", err.Error())
		} else {
			logger.Info("Warmed analysis cache", "count", n)
		}
	}

	llm, err := gemini.New(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		return err
	}

	enricher := &enrich.Orchestrator{
		Logger: logger,
		Service: &analysis.Cached{
			Service: llm,
			Cache:   cache,
			Logger:  logger,
			Metrics: m,
			Timeout: cfg.CallTimeout,
		},
		Store:   store,
		Timeout: cfg.CallTimeout,
	}
	session := &ledger.Session{
		Logger:   logger,
		Store:    store,
		Gate:     moderation.New(cfg.BannedTerms...),
		Enricher: enricher,
		Responder: &responder.Orchestrator{
			Logger:  logger,
			Service: llm,
			Store:   store,
			Metrics: m,
			Timeout: cfg.CallTimeout,
		},
		Metrics:     m,
		UserID:      cfg.UserID,
		Language:    cfg.Language,
		PageSize:    cfg.PageSize,
		HistorySize: cfg.HistorySize,
		Timeout:     cfg.CallTimeout,
	}
	enricher.Pending = session

	if err := session.Start(ctx); err != nil {
		return err
	}
	defer session.Close()

	srv := &http.Server{
		Addr: cfg.ListenAddr,
		Handler: &api.API{
			Logger:   logger,
			Session:  session,
			Val:      validator.New(),
			Registry: reg,
		},
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("Server started", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		return err
	}
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("Server exited gracefully")
	return nil
}
