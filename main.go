package main

import (
	"context"
	"fmt"
	"os"

	"vmcarrier/cmd"
	"vmcarrier/internal/config"
	"vmcarrier/internal/logging"
	"vmcarrier/internal/provisioning"

	"go.uber.org/zap"
)

func main() {
	os.Exit(run())
}

func run() int {
	logger, err := logging.New(logging.OptionsFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}
	defer func() {
		if err := logging.Sync(logger); err != nil {
			fmt.Fprintf(os.Stderr, "failed to sync logger on exit: %v\n", err)
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration", zap.Error(err))
		return 1
	}

	return cmd.Execute(context.Background(), cmd.Dependencies{
		Logger: logger,
		Config: cfg,
		Runner: provisioning.NewExecRunner(os.Stdout, os.Stderr),
		NewInspector: func(ctx context.Context, credentialsFile string) (provisioning.Inspector, error) {
			return provisioning.NewGCPInspector(ctx, credentialsFile)
		},
		Out: os.Stdout,
	})
}
