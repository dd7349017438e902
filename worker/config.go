package worker

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to key names for environment variable lookup.
const EnvPrefix = "DURAGRAPH_"

// Config holds worker process configuration. Values resolve in order:
// environment variables (DURAGRAPH_*), then the config file, then
// defaults.
type Config struct {
	// URL is the control plane's address.
	URL string `yaml:"url"`

	// WorkerName identifies this worker to the control plane.
	WorkerName string `yaml:"worker_name"`

	// APIKey authenticates this worker with a static bearer key.
	APIKey string `yaml:"api_key"`

	// JWTSecret, when set, makes the worker mint its own short-lived
	// control-plane tokens with this shared HMAC secret instead of
	// sending APIKey.
	JWTSecret string `yaml:"jwt_secret"`

	// LedgerPath is the SQLite ledger file. Empty means an in-memory
	// ledger (no durability across restarts).
	LedgerPath string `yaml:"ledger_path"`

	// MaxConcurrentRuns bounds simultaneously executing runs.
	MaxConcurrentRuns int `yaml:"max_concurrent_runs"`

	// PollInterval is the wait between claim attempts when the control
	// plane has no work.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// Default configuration values.
const (
	DefaultURL               = "http://localhost:8081"
	DefaultWorkerName        = "duragraph-worker"
	DefaultMaxConcurrentRuns = 4
	DefaultPollInterval      = 2 * time.Second
)

func (c Config) url() string {
	if c.URL != "" {
		return c.URL
	}
	return DefaultURL
}

func (c Config) workerName() string {
	if c.WorkerName != "" {
		return c.WorkerName
	}
	return DefaultWorkerName
}

func (c Config) maxConcurrentRuns() int {
	if c.MaxConcurrentRuns > 0 {
		return c.MaxConcurrentRuns
	}
	return DefaultMaxConcurrentRuns
}

func (c Config) pollInterval() time.Duration {
	if c.PollInterval > 0 {
		return c.PollInterval
	}
	return DefaultPollInterval
}

// LoadConfig reads configuration from path (optional; empty path skips
// the file) and applies environment overrides.
func LoadConfig(path string) (Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

// applyEnv overrides config fields from DURAGRAPH_* variables.
func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvPrefix + "URL"); v != "" {
		cfg.URL = v
	}
	if v := os.Getenv(EnvPrefix + "WORKER_NAME"); v != "" {
		cfg.WorkerName = v
	}
	if v := os.Getenv(EnvPrefix + "API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv(EnvPrefix + "JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv(EnvPrefix + "LEDGER_PATH"); v != "" {
		cfg.LedgerPath = v
	}
	if v := os.Getenv(EnvPrefix + "MAX_CONCURRENT_RUNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxConcurrentRuns = n
		}
	}
	if v := os.Getenv(EnvPrefix + "POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.PollInterval = d
		}
	}
}
