package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/donorhub/internal/config"
	"github.com/jmcleod/donorhub/storage/memory"
)

func writeFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0o600)
}

func TestLoadConfigFlagsOverrideEnvironment(t *testing.T) {
	dir := t.TempDir()
	envFile = filepath.Join(dir, ".env")
	t.Cleanup(func() { envFile = ".env" })
	require.NoError(t, writeFile(envFile, []byte("DONORHUB_JWT_SECRET=from-dotenv\n")))
	t.Setenv("DONORHUB_STORAGE", "postgres")
	t.Setenv("DONORHUB_DATA_DIR", "/var/lib/donorhub")

	c := &cobra.Command{Use: "test"}
	addStorageFlags(c)
	require.NoError(t, c.Flags().Set("storage", "memory"))

	cfg, err := loadConfig(c)
	require.NoError(t, err)
	t.Cleanup(func() { os.Unsetenv("DONORHUB_JWT_SECRET") })

	assert.Equal(t, config.StorageMemory, cfg.Storage)
	assert.Equal(t, "/var/lib/donorhub", cfg.DataDir, "unset flags keep the environment value")
	assert.Equal(t, "from-dotenv", cfg.JWTSecret)
}

func TestOpenStorage(t *testing.T) {
	ctx := context.Background()

	repo, closeRepo, err := openStorage(ctx, config.Config{Storage: config.StorageMemory})
	require.NoError(t, err)
	assert.IsType(t, &memory.Repository{}, repo)
	closeRepo()

	dir := filepath.Join(t.TempDir(), "nested")
	repo, closeRepo, err = openStorage(ctx, config.Config{Storage: config.StorageBolt, DataDir: dir})
	require.NoError(t, err)
	require.NotNil(t, repo)
	closeRepo()
	assert.FileExists(t, filepath.Join(dir, "donorhub.db"))
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	assert.True(t, newLogger("debug").Enabled(context.Background(), -4))
	assert.False(t, newLogger("bogus").Enabled(context.Background(), -4))
}
