package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)

	require.Equal(t, "townd", cfg.Server.Name)
	require.Equal(t, "0.0.0.0:8080", cfg.Server.BindAddress)
	require.Equal(t, time.Second, cfg.Engine.StepInterval)
	require.Equal(t, 2*time.Minute, cfg.Engine.StalledAfter)
	require.Equal(t, 10*time.Minute, cfg.Engine.FlushMaxAge)
	require.Equal(t, 100, cfg.Engine.DeleteBatchSize)
	require.Equal(t, 1000, cfg.Engine.MaxInputsPerEngine)
	require.True(t, cfg.RateLimit.Enabled)
	require.NotZero(t, cfg.Server.StartTime)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
[server]
name = "townd-test"
bind_address = "127.0.0.1:9999"
read_timeout = "5s"

[engine]
step_interval = "250ms"
idle_world_timeout = "90s"
operation_workers = 2

[balance]
scripts_dir = "/etc/townd/scripts"
world_seed = 42

[logging]
level = "debug"
format = "json"

[rate_limit]
enabled = false
`))
	require.NoError(t, err)

	require.Equal(t, "townd-test", cfg.Server.Name)
	require.Equal(t, "127.0.0.1:9999", cfg.Server.BindAddress)
	require.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	require.Equal(t, 250*time.Millisecond, cfg.Engine.StepInterval)
	require.Equal(t, 90*time.Second, cfg.Engine.IdleWorldTimeout)
	require.Equal(t, 2, cfg.Engine.OperationWorkers)
	require.Equal(t, "/etc/townd/scripts", cfg.Balance.ScriptsDir)
	require.Equal(t, uint64(42), cfg.Balance.WorldSeed)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.False(t, cfg.RateLimit.Enabled)

	// Untouched sections keep their defaults.
	require.Equal(t, 20, cfg.Database.MaxOpenConns)
	require.Equal(t, 72*time.Hour, cfg.Engine.VacuumMaxAge)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestLoadBadTOML(t *testing.T) {
	_, err := Load(writeConfig(t, "[server\nname ="))
	require.Error(t, err)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.Equal(t, "townd", cfg.Server.Name)
	require.NotZero(t, cfg.Server.StartTime)
}
