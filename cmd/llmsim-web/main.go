package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/skobkin/llmsim-web/internal/app"
	"github.com/skobkin/llmsim-web/internal/config"
	"github.com/skobkin/llmsim-web/internal/logging"
	"github.com/skobkin/llmsim-web/internal/version"
)

var (
	buildVersion = "dev"
	buildCommit  = ""
	buildTime    = ""
)

func main() {
	version.Set(version.Info{
		Version:   buildVersion,
		Commit:    buildCommit,
		BuildTime: buildTime,
	})

	cfg, err := config.Load()
	if err != nil {
		handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})
		slog.New(handler).Error("failed to load configuration", "err", err)
		os.Exit(1)
	}

	logger, closer := logging.New(cfg.Log)
	defer closer.Close()

	info := version.Current()
	logger.Info("starting llmsim-web", "version", info.Version, "commit", info.Commit)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, logger, cfg); err != nil {
		logger.Error("application error", "err", err)
		stop()
		closer.Close()
		os.Exit(1)
	}
}
