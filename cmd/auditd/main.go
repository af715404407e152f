// Command auditd runs the WCAG audit service: HTTP API, job orchestration,
// crawler, analysis modules, and persistence.
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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/inclusa/wcag-audit/internal/api"
	"github.com/inclusa/wcag-audit/internal/config"
	"github.com/inclusa/wcag-audit/internal/crawler"
	"github.com/inclusa/wcag-audit/internal/jobs"
	"github.com/inclusa/wcag-audit/internal/llm"
	"github.com/inclusa/wcag-audit/internal/logging"
	"github.com/inclusa/wcag-audit/internal/metrics"
	"github.com/inclusa/wcag-audit/internal/modules"
	"github.com/inclusa/wcag-audit/internal/orchestrator"
	"github.com/inclusa/wcag-audit/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "auditd:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config file (optional, env vars suffice)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	st, err := buildStore(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	client, err := llm.New(llm.Config{
		APIKey:            cfg.Model.APIKey,
		Model:             cfg.Model.Name,
		BaseURL:           cfg.Model.BaseURL,
		Temperature:       cfg.Model.Temperature,
		MaxTokens:         cfg.Model.MaxTokens,
		CallTimeout:       cfg.Model.CallTimeout(),
		GlobalConcurrency: int64(cfg.Model.GlobalConcurrency),
		MaxRetries:        cfg.Model.MaxRetries,
	}, logger)
	if err != nil {
		return err
	}

	var renderer crawler.Renderer
	if cfg.Headless.Enabled {
		r, err := crawler.NewChromedpRenderer(crawler.ChromedpConfig{
			Enabled:    true,
			UserAgent:  cfg.Crawler.UserAgent,
			NavTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		}, logger)
		if err != nil {
			return fmt.Errorf("start headless renderer: %w", err)
		}
		defer r.Close()
		renderer = r
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	m := metrics.New(registry)

	jobRegistry := jobs.NewRegistry(st, logger)
	dispatcher := modules.NewDispatcher(client, st, cfg.Jobs.ModuleConcurrency, logger)
	orch := orchestrator.New(cfg, jobRegistry, st, dispatcher, renderer, m, logger)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewServer(orch, registry, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := orch.Shutdown(shutdownCtx); err != nil {
		logger.Warn("jobs still in flight at shutdown", zap.Error(err))
	}
	return nil
}

func buildStore(cfg config.Config, logger *zap.Logger) (store.Store, error) {
	if cfg.DB.DSN == "" {
		logger.Warn("db.dsn not set, using in-memory store")
		return store.NewMemory(), nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return store.NewPostgres(ctx, store.PostgresConfig{
		DSN:      cfg.DB.DSN,
		MaxConns: cfg.DB.MaxConns,
	})
}
