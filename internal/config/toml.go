// Package config provides configuration helpers and TOML parsing.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Environment variables that override file values.
const (
	EnvAPIKey = "DRILLOG_API_KEY"
	EnvUser   = "DRILLOG_USER"
)

// FileConfig represents the TOML configuration file.
type FileConfig struct {
	Practice PracticeConfig `toml:"practice"`
	Account  AccountConfig  `toml:"account"`
	Sync     SyncConfig     `toml:"sync"`
	Cleanup  CleanupConfig  `toml:"cleanup"`
	Log      LogConfig      `toml:"log"`
	Serve    ServeConfig    `toml:"serve"`
}

// PracticeConfig maps practice-related settings.
type PracticeConfig struct {
	Dataset *string `toml:"dataset"`
	Type    *string `toml:"type"`
	Group   *string `toml:"group"`
	// Datasets is the directory holding dataset files.
	Datasets *string `toml:"datasets"`
}

// AccountConfig holds the signed-in user.
type AccountConfig struct {
	User *string `toml:"user"`
}

// SyncConfig maps remote sync settings.
type SyncConfig struct {
	URL     *string   `toml:"url"`
	APIKey  *string   `toml:"api-key"`
	Timeout *Duration `toml:"timeout"`
	// Rate is the maximum number of requests per second sent to the remote.
	Rate *float64 `toml:"rate"`
}

// CleanupConfig maps retention settings.
type CleanupConfig struct {
	Interval  *Duration `toml:"interval"`
	Retention *Duration `toml:"retention"`
}

// LogConfig maps logging settings.
type LogConfig struct {
	Level *string `toml:"level"`
	Path  *string `toml:"path"`
}

// ServeConfig maps settings of the development remote server.
type ServeConfig struct {
	Addr   *string `toml:"addr"`
	DB     *string `toml:"db"`
	APIKey *string `toml:"api-key"`
	// Rate and Burst bound requests per second for each user.
	Rate     *float64 `toml:"rate"`
	Burst    *int     `toml:"burst"`
	RedisURL *string  `toml:"redis-url"`
}

// Duration is a time.Duration decoded from strings such as "90s" or "2160h".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// LoadConfig reads a TOML config from the given path. Missing file is not an error.
// Environment overrides are applied after decoding.
func LoadConfig(path string) (FileConfig, error) {
	if path == "" {
		return FileConfig{}, fmt.Errorf("config path is empty")
	}
	var cfg FileConfig
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return FileConfig{}, fmt.Errorf("failed to stat config: %w", err)
		}
	} else if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return FileConfig{}, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *FileConfig) applyEnv() {
	if v := os.Getenv(EnvAPIKey); v != "" {
		c.Sync.APIKey = &v
	}
	if v := os.Getenv(EnvUser); v != "" {
		c.Account.User = &v
	}
}

// DurationOr returns d's value, or fallback when d is unset.
func DurationOr(d *Duration, fallback time.Duration) time.Duration {
	if d == nil || d.Duration <= 0 {
		return fallback
	}
	return d.Duration
}

// Template is written by "config init".
const Template = `# drillog configuration
# Uncomment and edit values as needed.

[practice]
# dataset = "hsk1"
# type = "stroke"        # stroke | pinyin
# group = ""
# datasets = "~/.config/drillog/datasets"

[account]
# user = "00000000-0000-0000-0000-000000000000"   # or DRILLOG_USER

[sync]
# url = "http://127.0.0.1:8787"
# api-key = ""            # or DRILLOG_API_KEY
# timeout = "2m"
# rate = 10

[cleanup]
# interval = "24h"
# retention = "2160h"     # 90 days

[log]
# level = "info"
# path = "~/.local/share/drillog/drillog.log"

[serve]
# addr = "127.0.0.1:8787"
# db = "~/.local/share/drillog/server.db"
# api-key = ""            # required from clients when set
# rate = 20
# burst = 40
# redis-url = ""          # e.g. redis://localhost:6379/0
`
