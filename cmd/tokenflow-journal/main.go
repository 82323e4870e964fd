package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"tokenflow/internal/api"
	"tokenflow/internal/auth"
	"tokenflow/internal/config"
	"tokenflow/internal/journal"
	"tokenflow/pkg/logger"

	"github.com/joho/godotenv"
)

// main serves the run journal over HTTP until interrupted.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("tokenflow-journal: %v", err)
	}
}

func run(ctx context.Context) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	configPath := os.Getenv(config.EnvConfigPath)
	if configPath == "" {
		configPath = filepath.Join("configs", "tokenflow.json")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	defer logger.Sync()

	if !journal.Shared(cfg.Journal) {
		return fmt.Errorf("journal driver %q is private to the workflow process; configure journal.driver %q to serve runs",
			cfg.Journal.Driver, journal.DriverMySQL)
	}
	store, err := journal.OpenStore(ctx, cfg.Journal)
	if err != nil {
		return err
	}
	defer store.Close()

	return api.NewServer(cfg.API.Address, store, nil, auth.NewGuard(cfg.API.Token)).Start(ctx)
}
