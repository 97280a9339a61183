package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// PrinterConfig describes the network ESC/POS printer.
type PrinterConfig struct {
	// Host and Port of the raw print service (usually port 9100).
	Host string `yaml:"host" toml:"host" json:"host"`
	Port int    `yaml:"port" toml:"port" json:"port"`
	// TimeoutSeconds bounds connect and write.
	TimeoutSeconds int `yaml:"timeout_seconds" toml:"timeout_seconds" json:"timeout_seconds"`
	// Width is the number of characters per line at normal size.
	Width int `yaml:"width" toml:"width" json:"width"`
	// Enabled=false keeps the scheduler running but never opens a socket.
	Enabled bool `yaml:"enabled" toml:"enabled" json:"enabled"`
}

// ScheduleConfig tunes the recurrence engine.
type ScheduleConfig struct {
	// OccurrenceCap limits calendar expansion per task.
	OccurrenceCap int `yaml:"occurrence_cap" toml:"occurrence_cap" json:"occurrence_cap"`
	// HorizonMonths bounds calendar expansion of tasks without an end.
	HorizonMonths int `yaml:"horizon_months" toml:"horizon_months" json:"horizon_months"`
	// BlackoutPolicy is "skip" (suppressed occurrences are passed over) or
	// "hold" (they fire once the blackout ends).
	BlackoutPolicy string `yaml:"blackout_policy" toml:"blackout_policy" json:"blackout_policy"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" toml:"username" json:"username"`
	Password string `yaml:"password" toml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" toml:"listen" json:"listen"`

	// Timezone is the IANA zone tickets and calendar days are rendered in.
	Timezone string `yaml:"timezone" toml:"timezone" json:"timezone"`

	// DatabasePath is the sqlite file holding tasks and blackout periods.
	DatabasePath string `yaml:"database_path" toml:"database_path" json:"database_path"`

	// CheckCron is the cron schedule of the due check (e.g. "* * * * *").
	CheckCron string `yaml:"check_cron" toml:"check_cron" json:"check_cron"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" toml:"log_level" json:"log_level"`

	Printer  PrinterConfig  `yaml:"printer" toml:"printer" json:"printer"`
	Schedule ScheduleConfig `yaml:"schedule" toml:"schedule" json:"schedule"`

	// BasicAuth, if set, protects every endpoint except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" toml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:       "127.0.0.1:8080",
		Timezone:     "UTC",
		DatabasePath: "/var/lib/taskprinter/taskprinter.db",
		CheckCron:    "* * * * *",
		LogLevel:     "info",
		Printer: PrinterConfig{
			Host:           "192.168.2.34",
			Port:           9100,
			TimeoutSeconds: 5,
			Width:          32,
			Enabled:        true,
		},
		Schedule: ScheduleConfig{
			OccurrenceCap:  100,
			HorizonMonths:  12,
			BlackoutPolicy: "skip",
		},
	}
}

// Normalize fills in missing/zero values with defaults so that partially
// filled files still behave.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.DatabasePath == "" {
		c.DatabasePath = def.DatabasePath
	}
	if c.CheckCron == "" {
		c.CheckCron = def.CheckCron
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.Printer.Port <= 0 {
		c.Printer.Port = def.Printer.Port
	}
	if c.Printer.TimeoutSeconds <= 0 {
		c.Printer.TimeoutSeconds = def.Printer.TimeoutSeconds
	}
	if c.Printer.Width <= 0 {
		c.Printer.Width = def.Printer.Width
	}
	if c.Schedule.OccurrenceCap <= 0 {
		c.Schedule.OccurrenceCap = def.Schedule.OccurrenceCap
	}
	if c.Schedule.HorizonMonths <= 0 {
		c.Schedule.HorizonMonths = def.Schedule.HorizonMonths
	}
	switch c.Schedule.BlackoutPolicy {
	case "skip", "hold":
	default:
		// Unknown value; keep the historical behaviour.
		c.Schedule.BlackoutPolicy = def.Schedule.BlackoutPolicy
	}
}

// Load loads configuration from path (YAML, or TOML when the extension is
// .toml), then applies .env and environment overrides.
//
// Behavior:
//   - If the file does not exist a default config is written with 0600
//     perms and returned.
//   - If the file exists it is decoded and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	// .env is optional.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				applyEnv(cfg)
				return cfg, err
			}
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, err
	}

	// Decode over the defaults so omitted booleans keep their default.
	cfg := DefaultConfig()
	if isTOML(path) {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}
	applyEnv(cfg)
	cfg.Normalize()

	return cfg, nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// applyEnv overrides file values with environment variables. The short
// names (PRINTER_IP, PRINTER_PORT, TZ, DB_PATH) match older deployments.
func applyEnv(c *Config) {
	if v := firstEnv("TASKPRINTER_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := firstEnv("TASKPRINTER_TIMEZONE", "TZ"); v != "" {
		c.Timezone = v
	}
	if v := firstEnv("TASKPRINTER_DB_PATH", "DB_PATH"); v != "" {
		c.DatabasePath = v
	}
	if v := firstEnv("TASKPRINTER_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := firstEnv("TASKPRINTER_PRINTER_HOST", "PRINTER_IP"); v != "" {
		c.Printer.Host = v
	}
	if v := firstEnv("TASKPRINTER_PRINTER_PORT", "PRINTER_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Printer.Port = n
		}
	}
	if v := firstEnv("TASKPRINTER_BLACKOUT_POLICY"); v != "" {
		c.Schedule.BlackoutPolicy = v
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// Save writes cfg to path atomically (temp file + rename) with 0600
// permissions, creating the parent directory (0700) if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	var (
		data []byte
		err  error
	)
	if isTOML(path) {
		data, err = toml.Marshal(cfg)
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".taskprinter-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method delegating to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
