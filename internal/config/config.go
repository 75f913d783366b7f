// Package config loads runtime settings from a YAML file, a .env file and
// environment variables, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/dvloznov/finance-sync/internal/logger"
)

// Config is the runtime configuration of the cmd binaries.
type Config struct {
	Port      string         `yaml:"port"`
	Bucket    string         `yaml:"bucket"`
	CachePath string         `yaml:"cache_path"`
	BigQuery  BigQueryConfig `yaml:"bigquery"`
	Sync      SyncConfig     `yaml:"sync"`
	Queue     QueueConfig    `yaml:"queue"`
	Network   NetworkConfig  `yaml:"network"`
	Log       logger.Options `yaml:"log"`
}

// BigQueryConfig locates the remote document store.
type BigQueryConfig struct {
	Project      string        `yaml:"project"`
	Dataset      string        `yaml:"dataset"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// SyncConfig tunes the orchestrator and the materializer.
type SyncConfig struct {
	IdleFlush            time.Duration `yaml:"idle_flush"`
	AutoBackupPeriodDays int           `yaml:"auto_backup_period_days"`
	WeeklyFallThrough    bool          `yaml:"weekly_fall_through"`
}

// QueueConfig sizes the write queue.
type QueueConfig struct {
	Buffer  int           `yaml:"buffer"`
	Workers int           `yaml:"workers"`
	Backoff time.Duration `yaml:"backoff"`
}

// NetworkConfig configures the connectivity probe.
type NetworkConfig struct {
	ProbeAddr    string        `yaml:"probe_addr"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Port:      "8080",
		CachePath: "finance-sync.db",
		BigQuery: BigQueryConfig{
			Dataset:      "finance_sync",
			PollInterval: 5 * time.Second,
		},
		Sync: SyncConfig{
			IdleFlush:            200 * time.Millisecond,
			AutoBackupPeriodDays: 7,
		},
		Queue: QueueConfig{
			Buffer:  100,
			Workers: 1,
			Backoff: time.Second,
		},
		Network: NetworkConfig{
			ProbeAddr:    "bigquery.googleapis.com:443",
			ProbeTimeout: 3 * time.Second,
		},
		Log: logger.Options{Level: "info", Format: logger.FormatConsole},
	}
}

// Load reads path (optional) on top of Default, then envFiles (".env" when
// none are given, missing files are skipped), then the process environment.
func Load(path string, envFiles ...string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("Load: read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("Load: parse %s: %w", path, err)
		}
	}

	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		// godotenv never overrides variables that are already set
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("Load: env file %s: %w", f, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, fmt.Errorf("Load: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("Load: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	setString("PORT", &c.Port)
	setString("GCS_BUCKET", &c.Bucket)
	setString("CACHE_PATH", &c.CachePath)
	setString("BQ_PROJECT", &c.BigQuery.Project)
	setString("BQ_DATASET", &c.BigQuery.Dataset)
	setString("NET_PROBE_ADDR", &c.Network.ProbeAddr)
	setString("LOG_LEVEL", &c.Log.Level)
	setString("LOG_FORMAT", &c.Log.Format)

	if v, ok := os.LookupEnv("SYNC_IDLE_FLUSH"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SYNC_IDLE_FLUSH: %w", err)
		}
		c.Sync.IdleFlush = d
	}
	if v, ok := os.LookupEnv("AUTO_BACKUP_PERIOD_DAYS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("AUTO_BACKUP_PERIOD_DAYS: %w", err)
		}
		c.Sync.AutoBackupPeriodDays = n
	}
	if v, ok := os.LookupEnv("WEEKLY_FALL_THROUGH"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("WEEKLY_FALL_THROUGH: %w", err)
		}
		c.Sync.WeeklyFallThrough = b
	}
	return nil
}

// Validate reports settings that cannot work.
func (c Config) Validate() error {
	switch {
	case c.Sync.AutoBackupPeriodDays <= 0:
		return fmt.Errorf("auto backup period must be positive, got %d days", c.Sync.AutoBackupPeriodDays)
	case c.Queue.Workers <= 0:
		return fmt.Errorf("queue workers must be positive, got %d", c.Queue.Workers)
	case c.Queue.Buffer < 0:
		return fmt.Errorf("queue buffer must not be negative, got %d", c.Queue.Buffer)
	case c.Sync.IdleFlush < 0:
		return fmt.Errorf("idle flush must not be negative, got %s", c.Sync.IdleFlush)
	}
	return nil
}

// BackupPeriod is the automatic backup period as a duration.
func (c Config) BackupPeriod() time.Duration {
	return time.Duration(c.Sync.AutoBackupPeriodDays) * 24 * time.Hour
}

// RemoteEnabled reports whether a BigQuery project is configured.
func (c Config) RemoteEnabled() bool {
	return c.BigQuery.Project != ""
}
