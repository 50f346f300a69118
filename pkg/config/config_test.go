package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "boardsync.yaml")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

// chdir mirrors testing.T.Chdir (Go 1.24) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	chdir(t, t.TempDir())
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Error(t, cfg.ValidateClient())
}

func TestLoadFileThenEnv(t *testing.T) {
	chdir(t, t.TempDir())
	p := writeFile(t, `
server: http://boards.example:9000
user: u1
board: b1
snapshot_timeout: 3s
collision_threshold: 0.4
log_level: debug
`)
	t.Setenv("BOARDSYNC_BOARD", "b2")
	t.Setenv("BOARDSYNC_RECONNECT_INTERVAL", "2s")

	cfg, err := Load(p)
	require.NoError(t, err)
	require.NoError(t, cfg.ValidateClient())
	assert.Equal(t, "http://boards.example:9000", cfg.Server)
	assert.Equal(t, "b2", cfg.Board)
	assert.Equal(t, 3*time.Second, cfg.SnapshotTimeout)
	assert.Equal(t, 2*time.Second, cfg.ReconnectInterval)
	assert.InDelta(t, 0.4, cfg.CollisionThreshold, 1e-9)
	assert.Equal(t, "debug", cfg.SlogLevel().String())
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("BOARDSYNC_USER=from-dotenv\n"), 0o600))
	// godotenv never overrides variables that are already set
	t.Setenv("BOARDSYNC_USER", "")
	require.NoError(t, os.Unsetenv("BOARDSYNC_USER"))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.User)
}

func TestValidateReportsEveryField(t *testing.T) {
	cfg := Default()
	cfg.Server = "not a url"
	cfg.CollisionThreshold = 2
	cfg.LogLevel = "loud"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Server failed url")
	assert.Contains(t, err.Error(), "CollisionThreshold failed lte")
	assert.Contains(t, err.Error(), "LogLevel failed oneof")
}

func TestBadEnvDuration(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("BOARDSYNC_REQUEST_TIMEOUT", "soon")
	_, err := Load("")
	assert.ErrorContains(t, err, "BOARDSYNC_REQUEST_TIMEOUT")
}

func TestArchiveNeedsBackupInterval(t *testing.T) {
	cfg := Default()
	cfg.Archive = "journals.sqlite3"
	cfg.BackupInterval = 0
	assert.ErrorContains(t, cfg.Validate(), "BackupInterval")
}
