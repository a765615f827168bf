package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/faringet/telegram-pan-forwarder/config"
	"github.com/faringet/telegram-pan-forwarder/internal/app"
	"github.com/faringet/telegram-pan-forwarder/pkg/logger"
)

func main() {
	cfg := config.New()

	log := logger.NewLogger(cfg.Logger)

	application, err := app.New(cfg, log)
	if err != nil {
		log.Error("app init failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		log.Error("app run failed", slog.Any("err", err))
		os.Exit(1)
	}
}
