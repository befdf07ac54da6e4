// Command intake-server accepts document uploads, runs them through the
// processing pipeline and streams progress to socket subscribers.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/Lllllllleong/documentintake/internal/app"
	"github.com/Lllllllleong/documentintake/internal/config"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	_ = godotenv.Load() // .env is optional

	if err := run(logger); err != nil {
		logger.Error("Server exited with error.", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger, app.Options{})
	if err != nil {
		return err
	}

	go func() {
		if err := a.Fabric.Run(ctx); err != nil {
			logger.Error("Event fabric stopped.", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: NewRouter(a, logger),
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening.", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received.")
	case err := <-serveErr:
		if err != nil {
			logger.Error("HTTP server failed.", "error", err)
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown incomplete.", "error", err)
	}
	return a.Shutdown(shutdownCtx)
}
