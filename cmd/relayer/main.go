package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/bridgeworks/evm-bridge/pkg/app/relayer"
	"github.com/bridgeworks/evm-bridge/pkg/config"
)

var configPath = flag.String("config", "config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	cfg, err := config.LoadRelayer(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting EVM Bridge Relayer", zap.Int("chains", len(cfg.Chains)), zap.String("submit_mode", string(cfg.SubmitMode)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := relayer.New(cfg, logger)
	if err := srv.Run(ctx); err != nil {
		logger.Fatal("relayer exited with error", zap.Error(err))
	}

	logger.Info("Relayer stopped")
}
