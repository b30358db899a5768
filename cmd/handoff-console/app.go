// ABOUTME: Wires config into the backend client, selection database, metrics and console session
// ABOUTME: Shared by every command that talks to the backend

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2389/handoff-console/internal/backend"
	"github.com/2389/handoff-console/internal/channel"
	"github.com/2389/handoff-console/internal/config"
	"github.com/2389/handoff-console/internal/console"
	"github.com/2389/handoff-console/internal/session"
)

// app is one running console with everything it owns.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	client     *backend.Client
	selections *session.Store
	registry   *prometheus.Registry
	console    *console.Session
}

func loadApp(opts *rootOptions) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	logger := setupLogger(cfg.Logging, os.Stderr)

	client := backend.New(backend.Options{
		BaseURL:    cfg.Backend.BaseURL,
		Token:      cfg.Backend.Token,
		AuthScheme: cfg.Backend.AuthScheme,
		Timeout:    cfg.Backend.RequestTimeout,
		Logger:     logger,
	})

	selections, err := session.Open(cfg.Session.StatePath, logger)
	if err != nil {
		return nil, fmt.Errorf("opening session state: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	sess := console.New(console.Options{
		Backend:    client,
		WSURL:      cfg.Backend.WSURL,
		OperatorID: cfg.Session.AgentID,
		Selections: selections,
		Channels: channel.Options{
			ReconnectDelay: cfg.Channels.ReconnectDelay,
			DedupeTTL:      cfg.Channels.DedupeTTL,
			DedupeSize:     cfg.Channels.DedupeSize,
			Metrics:        channel.NewMetrics(registry),
			Logger:         logger,
		},
		Logger: logger,
	})

	return &app{
		cfg:        cfg,
		logger:     logger,
		client:     client,
		selections: selections,
		registry:   registry,
		console:    sess,
	}, nil
}

func (a *app) Close() {
	a.console.Close()
	if err := a.selections.Close(); err != nil {
		a.logger.Warn("closing session state", "error", err)
	}
}

// serveMetrics exposes the registry until ctx is done. It is a no-op when
// metrics are disabled.
func (a *app) serveMetrics(ctx context.Context) error {
	if !a.cfg.Metrics.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(a.cfg.Metrics.Path, promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              a.cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("metrics server shutdown", "error", err)
		}
	}()

	a.logger.Info("metrics listening", "addr", a.cfg.Metrics.Addr, "path", a.cfg.Metrics.Path)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
