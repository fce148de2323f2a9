package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultGatewayURL     = "http://127.0.0.1:7272"
	DefaultRequestTimeout = 10 * time.Second
	DefaultProbeInterval  = 15 * time.Second

	// LocalDBPath is the project-local database used when present in the working directory
	LocalDBPath = ".fieldsync/fieldsync.db"
)

// Config represents the application configuration
type Config struct {
	DBPath         string        `yaml:"db_path"`
	GatewayURL     string        `yaml:"gateway_url"`
	GatewayToken   string        `yaml:"gateway_token"`
	Actor          string        `yaml:"actor"`
	TemplatesPath  string        `yaml:"templates_path"`
	LogLevel       string        `yaml:"log_level"`
	Output         string        `yaml:"output"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	ProbeInterval  time.Duration `yaml:"probe_interval"`
}

// Load loads configuration from multiple sources with precedence:
// 1. Environment variables
// 2. ./.env.local (dotenv) - walks up parent directories to find it
// 3. ~/.config/fieldsync/config.yaml (YAML)
func Load() (*Config, error) {
	cfg := &Config{
		GatewayURL:     DefaultGatewayURL,
		LogLevel:       "info",
		Output:         "table",
		RequestTimeout: DefaultRequestTimeout,
		ProbeInterval:  DefaultProbeInterval,
	}

	// Load .env.local if it exists (walking up parent directories)
	if envPath := findEnvLocal(); envPath != "" {
		_ = godotenv.Load(envPath)
	}

	if err := loadYAMLConfig(cfg); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	// Override with environment variables
	if dbPath := getEnvOrFile("FIELDSYNC_DB_PATH", "FIELDSYNC_DB_PATH_FILE"); dbPath != "" {
		cfg.DBPath = dbPath
	}
	if url := os.Getenv("FIELDSYNC_GATEWAY_URL"); url != "" {
		cfg.GatewayURL = url
	}
	if token := getEnvOrFile("FIELDSYNC_GATEWAY_TOKEN", "FIELDSYNC_GATEWAY_TOKEN_FILE"); token != "" {
		cfg.GatewayToken = token
	}
	if actor := os.Getenv("FIELDSYNC_ACTOR"); actor != "" {
		cfg.Actor = actor
	}
	if templates := os.Getenv("FIELDSYNC_TEMPLATES_PATH"); templates != "" {
		cfg.TemplatesPath = templates
	}
	if logLevel := os.Getenv("FIELDSYNC_LOG_LEVEL"); logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if output := os.Getenv("FIELDSYNC_OUTPUT"); output != "" {
		cfg.Output = output
	}
	if err := durationEnv("FIELDSYNC_REQUEST_TIMEOUT", &cfg.RequestTimeout); err != nil {
		return nil, err
	}
	if err := durationEnv("FIELDSYNC_PROBE_INTERVAL", &cfg.ProbeInterval); err != nil {
		return nil, err
	}

	if cfg.DBPath == "" {
		// Check for project-local database first
		if _, err := os.Stat(LocalDBPath); err == nil {
			cfg.DBPath = LocalDBPath
		} else {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("failed to get home directory: %w", err)
			}
			cfg.DBPath = filepath.Join(homeDir, ".local", "share", "fieldsync", "fieldsync.db")
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that cannot be defaulted
func (c *Config) Validate() error {
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %s", c.RequestTimeout)
	}
	if c.ProbeInterval <= 0 {
		return fmt.Errorf("probe_interval must be positive, got %s", c.ProbeInterval)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// SlogLevel returns the configured log level
func (c *Config) SlogLevel() slog.Level {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log_level %q (want debug, info, warn or error)", s)
}

func durationEnv(name string, dst *time.Duration) error {
	raw := os.Getenv(name)
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	*dst = d
	return nil
}

// loadYAMLConfig loads configuration from ~/.config/fieldsync/config.yaml
func loadYAMLConfig(cfg *Config) error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return err
	}

	configPath := filepath.Join(homeDir, ".config", "fieldsync", "config.yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

// getEnvOrFile gets an environment variable value, or reads it from a file
// if the _FILE variant is set
func getEnvOrFile(envVar, fileVar string) string {
	if val := os.Getenv(envVar); val != "" {
		return val
	}

	if filePath := os.Getenv(fileVar); filePath != "" {
		data, err := os.ReadFile(filePath)
		if err == nil {
			return strings.TrimSpace(string(data))
		}
	}

	return ""
}

// findEnvLocal searches for .env.local starting from cwd and walking up
// parent directories. Stops at the user's home directory.
func findEnvLocal() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		if _, err := os.Stat(".env.local"); err == nil {
			return ".env.local"
		}
		return ""
	}

	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	homeDir = filepath.Clean(homeDir)
	dir := filepath.Clean(cwd)

	for {
		envPath := filepath.Join(dir, ".env.local")
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
		if dir == homeDir {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// ActorID returns the actor recorded on new updates.
// Priority: FIELDSYNC_ACTOR > config actor > $USER
func (c *Config) ActorID() string {
	if actor := os.Getenv("FIELDSYNC_ACTOR"); actor != "" {
		return actor
	}
	if c.Actor != "" {
		return c.Actor
	}
	return os.Getenv("USER")
}

// QueueLockPath returns the advisory lock file guarding the local queue
func (c *Config) QueueLockPath() string {
	return c.DBPath + ".lock"
}
