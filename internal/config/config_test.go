package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"TASKPRINTER_LISTEN", "TASKPRINTER_TIMEZONE", "TZ", "TASKPRINTER_DB_PATH", "DB_PATH",
		"TASKPRINTER_LOG_LEVEL", "TASKPRINTER_PRINTER_HOST", "PRINTER_IP",
		"TASKPRINTER_PRINTER_PORT", "PRINTER_PORT", "TASKPRINTER_BLACKOUT_POLICY",
	} {
		t.Setenv(k, "")
	}
	// godotenv.Load reads ./.env; run from a clean directory.
	t.Chdir(t.TempDir())
}

func TestLoad_FirstRunWritesDefaults(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoad_YAMLPartialKeepsDefaults(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: 0.0.0.0:9000
timezone: Europe/Amsterdam
printer:
  host: 10.0.0.7
schedule:
  blackout_policy: hold
  occurrence_cap: 0
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Listen)
	assert.Equal(t, "Europe/Amsterdam", cfg.Timezone)
	assert.Equal(t, "10.0.0.7", cfg.Printer.Host)
	assert.Equal(t, 9100, cfg.Printer.Port)
	assert.True(t, cfg.Printer.Enabled)
	assert.Equal(t, "hold", cfg.Schedule.BlackoutPolicy)
	assert.Equal(t, 100, cfg.Schedule.OccurrenceCap)
	assert.Equal(t, "* * * * *", cfg.CheckCron)
}

func TestLoad_TOML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen = "127.0.0.1:7000"
check_cron = "*/5 * * * *"

[printer]
host = "printer.lan"
enabled = false

[basic_auth]
username = "admin"
password = "secret"
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", cfg.Listen)
	assert.Equal(t, "*/5 * * * *", cfg.CheckCron)
	assert.Equal(t, "printer.lan", cfg.Printer.Host)
	assert.False(t, cfg.Printer.Enabled)
	require.NotNil(t, cfg.BasicAuth)
	assert.Equal(t, "admin", cfg.BasicAuth.Username)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PRINTER_IP", "192.168.1.50")
	t.Setenv("PRINTER_PORT", "9101")
	t.Setenv("TASKPRINTER_DB_PATH", "/tmp/tp.db")
	t.Setenv("TZ", "Europe/Amsterdam")
	t.Setenv("TASKPRINTER_TIMEZONE", "Asia/Seoul")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: 127.0.0.1:8080\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.50", cfg.Printer.Host)
	assert.Equal(t, 9101, cfg.Printer.Port)
	assert.Equal(t, "/tmp/tp.db", cfg.DatabasePath)
	assert.Equal(t, "Asia/Seoul", cfg.Timezone)
}

func TestLoad_DotEnv(t *testing.T) {
	clearEnv(t)
	// godotenv never overrides a variable that is already set, even empty.
	require.NoError(t, os.Unsetenv("TASKPRINTER_LOG_LEVEL"))
	require.NoError(t, os.WriteFile(".env", []byte("TASKPRINTER_LOG_LEVEL=debug\n"), 0o600))

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestNormalize_UnknownPolicy(t *testing.T) {
	cfg := &Config{Schedule: ScheduleConfig{BlackoutPolicy: "retry"}}
	cfg.Normalize()
	assert.Equal(t, "skip", cfg.Schedule.BlackoutPolicy)
}

func TestLoad_EmptyPath(t *testing.T) {
	_, err := Load("")
	assert.Error(t, err)
}
