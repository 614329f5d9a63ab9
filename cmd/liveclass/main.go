package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"liveclass/internal/app"
	"liveclass/internal/config"
	"liveclass/internal/logging"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		logger := logging.L()
		logger.Fatal().Err(err).Msg("liveclass exited")
	}
}

// run loads configuration (file > env > defaults), builds the application
// and serves until SIGINT or SIGTERM.
func run(args []string) error {
	flags := flag.NewFlagSet("liveclass", flag.ContinueOnError)
	configFile := flags.String("config", "", "path to a config file (overrides "+config.EnvConfigFile+")")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logging.Init(cfg.Log)
	logger := logging.L()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.NewApplication(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	if err := application.Run(ctx); err != nil {
		return fmt.Errorf("application error: %w", err)
	}
	return nil
}
