package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pollcast/pollcast/internal/app"
	"github.com/pollcast/pollcast/internal/config"
	"github.com/pollcast/pollcast/internal/lib/logger"
	"github.com/pollcast/pollcast/internal/lib/sl"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config/local.yaml", "path to config file")
	flag.Parse()

	cfg := config.Load(configPath)
	log := logger.New(cfg.Env)

	application, err := app.NewApp(log, cfg)
	if err != nil {
		log.Error("failed to build application", sl.Err(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application.Start(ctx)

	go func() {
		if err := application.HTTPServer.Run(); err != nil {
			if errors.Is(err, http.ErrServerClosed) {
				log.Info("HTTP server closed gracefully")
			} else {
				log.Error("failed to run HTTP server", sl.Err(err))
				stop()
			}
		}
	}()

	log.Info("pollcast started",
		slog.String("env", cfg.Env),
		slog.Int("port", cfg.HTTP.Port),
		slog.Duration("broadcast_interval", cfg.Broadcast.Interval))

	<-ctx.Done()

	log.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := application.Stop(shutdownCtx); err != nil {
		log.Error("failed to stop application", sl.Err(err))
		os.Exit(1)
	}
}
