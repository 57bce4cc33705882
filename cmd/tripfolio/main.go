package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/tripfolio/server/internal/app"
	"github.com/tripfolio/server/internal/telemetry"
)

const shutdownGrace = 30 * time.Second

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		log.Fatal(err)
	}
}

func run(logger *slog.Logger) error {
	flushTraces, err := telemetry.InitTracer("tripfolio-server", logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := flushTraces(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	cfgPath := os.Getenv("TRIPFOLIO_CONFIG")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}

	a, err := app.New(
		app.WithConfigFile(cfgPath),
		app.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	stop()
	logger.Info("shutdown signal received, stopping server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return a.Shutdown(shutdownCtx)
}
