package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"inventory-auth/internal/app"
	"inventory-auth/internal/config"
	"inventory-auth/internal/observability"
)

func main() {
	logger := observability.NewLogger()

	cfg, err := config.Load(true)
	if err != nil {
		logger.Error("load_config_failed", map[string]any{"error": err})
		os.Exit(1)
	}

	rt, err := app.Build(cfg, logger)
	if err != nil {
		logger.Error("bootstrap_failed", map[string]any{"error": err})
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go rt.RunSweeper(ctx)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           rt.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server_start", map[string]any{"addr": server.Addr, "session_store": cfg.SessionStore})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	exitCode := 0
	select {
	case err := <-serverErr:
		if err != nil {
			logger.Error("server_failed", map[string]any{"error": err})
			exitCode = 1
		}
	case <-ctx.Done():
		logger.Info("server_shutdown", nil)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server_shutdown_failed", map[string]any{"error": err})
		exitCode = 1
	}
	if err := rt.Close(shutdownCtx); err != nil {
		logger.Error("runtime_close_failed", map[string]any{"error": err})
		exitCode = 1
	}

	if exitCode != 0 {
		cancel()
		os.Exit(exitCode)
	}
}
