package graph

import (
	"time"

	"github.com/carmcp/codegraph-go/internal/database"
)

// Config mirrors the storage configuration for library consumers.
type Config struct {
	// Path is the database file path, or a full file: URL.
	Path string
	// BackupDir is the default destination for Backup artifacts.
	BackupDir string
	// CacheTTL bounds how stale a cached read may be.
	CacheTTL time.Duration
	// MaxRetries is the attempt count for busy-database statements.
	MaxRetries int
	// RetryBaseDelay is the first retry backoff; it doubles per attempt.
	RetryBaseDelay time.Duration
}

// NewConfigFromEnv builds a Config from CODEGRAPH_* environment
// variables with the documented defaults.
func NewConfigFromEnv() (*Config, error) {
	internal, err := database.NewConfig()
	if err != nil {
		return nil, err
	}
	return &Config{
		Path:           internal.Path,
		BackupDir:      internal.BackupDir,
		CacheTTL:       internal.CacheTTL,
		MaxRetries:     internal.MaxRetries,
		RetryBaseDelay: internal.RetryBaseDelay,
	}, nil
}

func (c *Config) internal() *database.Config {
	return &database.Config{
		Path:           c.Path,
		BackupDir:      c.BackupDir,
		CacheTTL:       c.CacheTTL,
		MaxRetries:     c.MaxRetries,
		RetryBaseDelay: c.RetryBaseDelay,
	}
}
