package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 7*24*time.Hour, cfg.BackupPeriod())
	assert.False(t, cfg.RemoteEnabled())
}

func TestLoad_Precedence(t *testing.T) {
	yml := writeFile(t, "config.yaml", `
port: "9000"
bucket: from-yaml
bigquery:
  project: proj
  poll_interval: 2s
sync:
  idle_flush: 50ms
  weekly_fall_through: true
log:
  level: debug
  format: json
`)
	env := writeFile(t, "test.env", "GCS_BUCKET=from-dotenv\nCACHE_PATH=/tmp/dotenv.db\n")
	// t.Setenv restores the variable after godotenv has set it
	t.Setenv("GCS_BUCKET", "")
	require.NoError(t, os.Unsetenv("GCS_BUCKET"))
	t.Setenv("CACHE_PATH", "/tmp/env.db")
	t.Setenv("AUTO_BACKUP_PERIOD_DAYS", "3")

	cfg, err := Load(yml, env)
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, "from-dotenv", cfg.Bucket, ".env overrides the file")
	assert.Equal(t, "/tmp/env.db", cfg.CachePath, "process environment wins over .env")
	assert.Equal(t, "proj", cfg.BigQuery.Project)
	assert.Equal(t, "finance_sync", cfg.BigQuery.Dataset, "unset keys keep defaults")
	assert.Equal(t, 2*time.Second, cfg.BigQuery.PollInterval)
	assert.Equal(t, 50*time.Millisecond, cfg.Sync.IdleFlush)
	assert.True(t, cfg.Sync.WeeklyFallThrough)
	assert.Equal(t, 3, cfg.Sync.AutoBackupPeriodDays)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.True(t, cfg.RemoteEnabled())
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		env  map[string]string
	}{
		{"bad yaml", "port: [", nil},
		{"bad duration env", "", map[string]string{"SYNC_IDLE_FLUSH": "soon"}},
		{"bad period env", "", map[string]string{"AUTO_BACKUP_PERIOD_DAYS": "weekly"}},
		{"zero period", "sync:\n  auto_backup_period_days: 0\n", nil},
		{"no workers", "queue:\n  workers: 0\n", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := ""
			if tt.yaml != "" {
				path = writeFile(t, "config.yaml", tt.yaml)
			}
			_, err := Load(path, filepath.Join(t.TempDir(), "none.env"))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
