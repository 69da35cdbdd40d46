package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"distributed-configstore/internal/config"
)

func TestLoadAppliesDefaultsWithNoFile(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	require.Equal(t, "replica-1", cfg.Node)
	require.Equal(t, []string{"127.0.0.1:2181"}, cfg.Coordination.Endpoints)
	require.Equal(t, 8, cfg.Executor.NumWorkers)
	require.Equal(t, ":8080", cfg.HTTP.Addr)
}

func TestLoadReadsYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "replica.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
node: replica-2
coordination:
  endpoints:
    - zk1:2181
    - zk2:2181
  rootPath: /acme-configstore
executor:
  numWorkers: 16
http:
  addr: ":9090"
`), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "replica-2", cfg.Node)
	require.Equal(t, []string{"zk1:2181", "zk2:2181"}, cfg.Coordination.Endpoints)
	require.Equal(t, "/acme-configstore", cfg.Coordination.RootPath)
	require.Equal(t, 16, cfg.Executor.NumWorkers)
	require.Equal(t, ":9090", cfg.HTTP.Addr)
	// Unset sections still fall back to defaults.
	require.Equal(t, 3, cfg.LagClient.MaxRetries)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
