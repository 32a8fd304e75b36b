package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jmcleod/donorhub/internal/config"
	"github.com/jmcleod/donorhub/storage"
	bboltstorage "github.com/jmcleod/donorhub/storage/bbolt"
	"github.com/jmcleod/donorhub/storage/memory"
	"github.com/jmcleod/donorhub/storage/postgres"
)

var (
	port        int
	dataDir     string
	storageKind string
	tlsCert     string
	tlsKey      string
)

// addStorageFlags registers the flags shared by commands that open the
// repository.
func addStorageFlags(c *cobra.Command) {
	c.Flags().StringVar(&dataDir, "data-dir", "./data", "Directory for persistent data")
	c.Flags().StringVar(&storageKind, "storage", config.StorageBolt, "Storage backend: bbolt, postgres or memory")
}

// loadConfig reads the dotenv file and the environment, then applies any
// flags set explicitly on c.
func loadConfig(c *cobra.Command) (config.Config, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return config.Config{}, err
	}
	cfg, err := config.FromEnv()
	if err != nil {
		return config.Config{}, err
	}
	flags := c.Flags()
	if flags.Changed("port") {
		cfg.Port = port
	}
	if flags.Changed("data-dir") {
		cfg.DataDir = dataDir
	}
	if flags.Changed("storage") {
		cfg.Storage = storageKind
	}
	if flags.Changed("tls-cert") {
		cfg.TLSCert = tlsCert
	}
	if flags.Changed("tls-key") {
		cfg.TLSKey = tlsKey
	}
	return cfg, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// openStorage opens the configured backend. The returned func releases it.
func openStorage(ctx context.Context, cfg config.Config) (storage.Repository, func(), error) {
	switch cfg.Storage {
	case config.StoragePostgres:
		store, err := postgres.NewRepositoryFromDSN(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open postgres storage: %w", err)
		}
		return store, store.Close, nil
	case config.StorageMemory:
		return memory.NewRepository(), func() {}, nil
	default:
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		store, err := bboltstorage.NewRepositoryFromFile(filepath.Join(cfg.DataDir, "donorhub.db"), nil)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open bbolt storage: %w", err)
		}
		return store, func() { store.Close() }, nil
	}
}
