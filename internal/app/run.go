package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"cloudpico-viewer/internal/config"
	"cloudpico-viewer/internal/httpapi"
	"cloudpico-viewer/internal/views"
)

func Run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	return run(ctx, cfg, logger, options{})
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger, opts options) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("config loaded",
		"appEnv", cfg.AppEnv,
		"logLevel", cfg.LogLevel.String(),
		"httpAddr", cfg.HTTPAddr,
		"negotiateURL", cfg.NegotiateURL,
		"negotiateTimeout", cfg.NegotiateTimeout,
		"hubEvent", cfg.HubEvent,
		"seriesCapacity", cfg.SeriesCapacity,
		"labelTZ", cfg.LabelLocation.String(),
		"reconnect", cfg.Reconnect,
	)

	if err := views.LoadTemplates(); err != nil {
		return err
	}

	v := newViewer(cfg, logger, opts)
	srv := httpapi.NewServer(cfg.HTTPAddr, v.mux, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	// The live connection never blocks startup: the dashboard serves while
	// negotiation and connect happen in the background.
	sessCtx, cancelSessions := context.WithCancel(ctx)
	defer cancelSessions()
	sessDone := make(chan struct{})
	go func() {
		defer close(sessDone)
		v.runSessions(sessCtx)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		cancelSessions()
		<-sessDone
		_ = v.close(context.Background())
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("live connection stopping")
	cancelSessions()
	if err := v.close(shutdownCtx); err != nil {
		logger.Error("live connection close", "error", err)
	}
	select {
	case <-sessDone:
	case <-shutdownCtx.Done():
	}

	logger.Info("http shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	err := <-errCh
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return ctx.Err()
}
