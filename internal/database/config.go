package database

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the storage and retry settings for a graph database.
type Config struct {
	// Path is the database file path, or a full file: URL.
	Path string `env:"CODEGRAPH_DB_PATH" envDefault:"./codegraph.db"`
	// BackupDir is the default destination for Backup artifacts.
	BackupDir string `env:"CODEGRAPH_BACKUP_DIR" envDefault:"./backups"`
	// CacheTTL bounds how stale a cached read may be.
	CacheTTL time.Duration `env:"CODEGRAPH_CACHE_TTL" envDefault:"1h"`
	// MaxRetries is the number of attempts for statements that hit a
	// busy or locked database.
	MaxRetries int `env:"CODEGRAPH_MAX_RETRIES" envDefault:"3"`
	// RetryBaseDelay is the first backoff delay; it doubles per attempt.
	RetryBaseDelay time.Duration `env:"CODEGRAPH_RETRY_BASE_DELAY" envDefault:"100ms"`
}

// NewConfig builds a Config from the environment, falling back to the
// documented defaults.
func NewConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment config: %w", err)
	}
	return cfg, nil
}

// normalize clamps nonsense values back to the defaults so a zeroed
// struct literal still behaves.
func (c *Config) normalize() {
	if c.Path == "" {
		c.Path = "./codegraph.db"
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 100 * time.Millisecond
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = time.Hour
	}
}
