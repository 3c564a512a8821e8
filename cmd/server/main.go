package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/overlaykit/chathub/internal/app"
	"github.com/overlaykit/chathub/internal/config"
	"github.com/overlaykit/chathub/internal/log"
)

func main() {
	var (
		configPath string
		logLevel   string
		pretty     bool
	)
	flag.StringVar(&configPath, "config", "", "path to config.yaml (created with defaults when missing)")
	flag.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flag.BoolVar(&pretty, "pretty", false, "human-readable log output")
	flag.Parse()

	logger := log.New(logLevel, pretty)

	cfg, resolvedPath, err := config.Load(logger, configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	logger.Info().Str("config", resolvedPath).Msg("configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize")
	}

	logger.Info().Str("addr", cfg.Addr).Msg("starting chat hub")
	if err := application.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server exited with error")
	}
	logger.Info().Msg("server stopped")
}
