package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/business-ledger/internal/app"
	"github.com/example/business-ledger/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := app.NewRuntime(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start ledgerd", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	logger.Info("ledgerd starting", "env", cfg.Environment, "driver", cfg.Database.Driver)
	if err := rt.Run(ctx); err != nil {
		logger.Error("ledgerd stopped with error", "error", err)
		rt.Close()
		os.Exit(1)
	}
	logger.Info("ledgerd stopped")
}
