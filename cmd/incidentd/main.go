// Command incidentd serves the regulatory incident validation and
// lifecycle engine over HTTP.
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

	"github.com/firelinehq/incidentd/pkg/api"
	"github.com/firelinehq/incidentd/pkg/audit"
	"github.com/firelinehq/incidentd/pkg/config"
	"github.com/firelinehq/incidentd/pkg/export"
	"github.com/firelinehq/incidentd/pkg/lifecycle"
	"github.com/firelinehq/incidentd/pkg/observability"
	"github.com/firelinehq/incidentd/pkg/rulepack"
	"github.com/firelinehq/incidentd/pkg/store"
	"github.com/firelinehq/incidentd/pkg/validation"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	var obs *observability.Provider
	if cfg.OTLPEndpoint != "" {
		obs, err = observability.New(context.Background(), &observability.Config{
			ServiceName:    "incidentd",
			ServiceVersion: "1.0.0",
			OTLPEndpoint:   cfg.OTLPEndpoint,
			SampleRate:     1.0,
			Enabled:        true,
			Insecure:       cfg.OTLPInsecure,
		}, logger)
		if err != nil {
			return err
		}
		defer func() { _ = obs.Shutdown(context.Background()) }()
	}

	db, err := store.Open(cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	records, err := store.NewSQLiteRecordStore(db)
	if err != nil {
		return err
	}
	archive, err := store.NewSQLitePackArchive(db)
	if err != nil {
		return err
	}
	artifacts, err := store.NewSQLiteArtifactStore(db)
	if err != nil {
		return err
	}
	history, err := store.NewSQLiteValidationLog(db)
	if err != nil {
		return err
	}
	auditSink, err := store.NewSQLiteAuditSink(db)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	packs := rulepack.NewStore(archive, logger)
	if err := packs.Restore(ctx); err != nil {
		return err
	}
	if cfg.PackDir != "" {
		if err := rulepack.SeedDir(ctx, packs, cfg.PackDir); err != nil {
			return err
		}
	}

	ctrl := lifecycle.NewController(
		records,
		packs,
		validation.NewEngine(),
		export.NewGenerator(),
		artifacts,
		history,
		audit.NewLog(auditSink, logger),
		logger,
	)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.NewServer(ctrl, packs, logger).WithTelemetry(obs).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("incidentd listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("shutting down")
	return server.Shutdown(shutdownCtx)
}
