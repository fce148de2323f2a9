package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points HOME and cwd at fresh temp dirs and clears FIELDSYNC_ vars
func isolate(t *testing.T) (home, work string) {
	t.Helper()
	home = t.TempDir()
	work = t.TempDir()
	t.Setenv("HOME", home)
	for _, name := range []string{
		"FIELDSYNC_DB_PATH", "FIELDSYNC_DB_PATH_FILE", "FIELDSYNC_GATEWAY_URL",
		"FIELDSYNC_GATEWAY_TOKEN", "FIELDSYNC_GATEWAY_TOKEN_FILE", "FIELDSYNC_ACTOR",
		"FIELDSYNC_TEMPLATES_PATH", "FIELDSYNC_LOG_LEVEL", "FIELDSYNC_OUTPUT",
		"FIELDSYNC_REQUEST_TIMEOUT", "FIELDSYNC_PROBE_INTERVAL",
	} {
		t.Setenv(name, "")
	}

	oldCwd, _ := os.Getwd()
	t.Cleanup(func() { os.Chdir(oldCwd) })
	require.NoError(t, os.Chdir(work))
	return home, work
}

func TestLoad_Defaults(t *testing.T) {
	home, _ := isolate(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".local", "share", "fieldsync", "fieldsync.db"), cfg.DBPath)
	assert.Equal(t, DefaultGatewayURL, cfg.GatewayURL)
	assert.Equal(t, DefaultRequestTimeout, cfg.RequestTimeout)
	assert.Equal(t, DefaultProbeInterval, cfg.ProbeInterval)
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
	assert.Equal(t, "table", cfg.Output)
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	home, _ := isolate(t)
	dir := filepath.Join(home, ".config", "fieldsync")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(`
db_path: /data/site.db
gateway_url: https://site.example/api
actor: fitter-7
request_timeout: 4s
log_level: debug
`), 0644))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/data/site.db", cfg.DBPath)
	assert.Equal(t, "https://site.example/api", cfg.GatewayURL)
	assert.Equal(t, 4*time.Second, cfg.RequestTimeout)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.Equal(t, "fitter-7", cfg.ActorID())

	t.Setenv("FIELDSYNC_DB_PATH", "/tmp/override.db")
	t.Setenv("FIELDSYNC_PROBE_INTERVAL", "1m")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/override.db", cfg.DBPath)
	assert.Equal(t, time.Minute, cfg.ProbeInterval)
}

func TestLoad_TokenFile(t *testing.T) {
	_, work := isolate(t)
	path := filepath.Join(work, "token")
	require.NoError(t, os.WriteFile(path, []byte("s3cret\n"), 0600))
	t.Setenv("FIELDSYNC_GATEWAY_TOKEN_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.GatewayToken)
}

func TestLoad_EnvLocal(t *testing.T) {
	_, work := isolate(t)
	child := filepath.Join(work, "site", "area")
	require.NoError(t, os.MkdirAll(child, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(work, ".env.local"), []byte("FIELDSYNC_GATEWAY_URL=http://10.0.0.5:7272\n"), 0644))
	require.NoError(t, os.Chdir(child))
	// godotenv never overrides a variable that is present, even if empty
	require.NoError(t, os.Unsetenv("FIELDSYNC_GATEWAY_URL"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.5:7272", cfg.GatewayURL)
}

func TestLoad_Invalid(t *testing.T) {
	isolate(t)

	t.Setenv("FIELDSYNC_REQUEST_TIMEOUT", "soon")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("FIELDSYNC_REQUEST_TIMEOUT", "0s")
	_, err = Load()
	assert.Error(t, err)

	t.Setenv("FIELDSYNC_REQUEST_TIMEOUT", "")
	t.Setenv("FIELDSYNC_LOG_LEVEL", "loud")
	_, err = Load()
	assert.Error(t, err)
}

func TestLoad_ProjectLocalDB(t *testing.T) {
	_, work := isolate(t)
	require.NoError(t, os.MkdirAll(filepath.Join(work, ".fieldsync"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(work, LocalDBPath), nil, 0644))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, LocalDBPath, cfg.DBPath)
	assert.Equal(t, LocalDBPath+".lock", cfg.QueueLockPath())
}

func TestFindEnvLocal_ClosestWins(t *testing.T) {
	tmpDir := t.TempDir()
	parentDir := filepath.Join(tmpDir, "parent")
	childDir := filepath.Join(parentDir, "child")
	if err := os.MkdirAll(childDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(tmpDir, ".env.local"), []byte("A=1"), 0644); err != nil {
		t.Fatal(err)
	}
	parentEnvPath := filepath.Join(parentDir, ".env.local")
	if err := os.WriteFile(parentEnvPath, []byte("A=2"), 0644); err != nil {
		t.Fatal(err)
	}

	oldCwd, _ := os.Getwd()
	defer os.Chdir(oldCwd)
	if err := os.Chdir(childDir); err != nil {
		t.Fatal(err)
	}

	// Resolve symlinks for comparison (macOS /var -> /private/var)
	expected, _ := filepath.EvalSymlinks(parentEnvPath)
	got, _ := filepath.EvalSymlinks(findEnvLocal())
	if got != expected {
		t.Errorf("expected %s, got %s", expected, got)
	}
}
