// portald serves the placement portal's auth and profile API.
//
// Usage:
//
//	portald [serve] [flags]   run the HTTP server (default)
//	portald migrate [flags]   apply profile schema migrations and exit
//
// Settings come from defaults, an optional YAML file (--config or
// PORTAL_CONFIG), PORTAL_* environment variables and flags, in that order.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrEthical07/portalAuth/internal/config"
	"github.com/MrEthical07/portalAuth/internal/logger"
	"github.com/MrEthical07/portalAuth/profilestore"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	command := "serve"
	if len(args) > 0 && (args[0] == "serve" || args[0] == "migrate") {
		command, args = args[0], args[1:]
	}

	cfg, err := config.Load(args, nil)
	if err != nil {
		return err
	}
	log := logger.SetupDefault(os.Stdout, cfg.LogLevel)

	switch command {
	case "migrate":
		if cfg.Store != config.StorePostgres {
			return fmt.Errorf("migrate needs the postgres store, got %q", cfg.Store)
		}
		if err := profilestore.Migrate(cfg.DatabaseURL); err != nil {
			return err
		}
		log.Info("migrations applied")
		return nil
	default:
		return serve(cfg, log)
	}
}

func serve(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := wire(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.close()

	sweepCtx, cancelSweep := context.WithCancel(ctx)
	defer cancelSweep()
	go app.portal.RunSweeper(sweepCtx, time.Minute)

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      app.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("portal server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down portal server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	log.Info("portal server stopped")
	return nil
}
