package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/finance-sync/internal/app"
	"github.com/dvloznov/finance-sync/internal/config"
	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/dvloznov/finance-sync/internal/gcs"
	"github.com/dvloznov/finance-sync/internal/remote"
	"github.com/dvloznov/finance-sync/internal/remote/memstore"
)

// backend is shared by every command run in one test, like a real server.
type backend struct {
	store   *memstore.Store
	storage *gcs.MemoryStorage
}

func newBackend() *backend {
	return &backend{store: memstore.New(), storage: gcs.NewMemoryStorage()}
}

func (b *backend) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("FINANCE_UID", "")
	t.Setenv("CACHE_PATH", "")
	t.Setenv("BQ_PROJECT", "")

	cmd := newRootCommand(func(ctx context.Context, cfg config.Config, log zerolog.Logger) (*app.App, error) {
		cfg.Queue.Backoff = time.Millisecond
		cfg.Sync.IdleFlush = 5 * time.Millisecond
		return app.New(ctx, cfg, zerolog.Nop(), app.Options{Store: b.store, Storage: b.storage, Network: b.store})
	})
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestStatus(t *testing.T) {
	b := newBackend()
	out, err := b.run(t, "status", "--uid", "u1")
	require.NoError(t, err)

	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, "status", []byte(out))
}

func TestStatus_JSON(t *testing.T) {
	b := newBackend()
	out, err := b.run(t, "status", "-u", "u1", "--output", "json")
	require.NoError(t, err)

	var sum Summary
	require.NoError(t, json.Unmarshal([]byte(out), &sum))
	assert.Equal(t, "u1", sum.UID)
	assert.Equal(t, domain.StatusLive, sum.Status)
}

func TestRequiresUID(t *testing.T) {
	_, err := newBackend().run(t, "status")
	assert.ErrorContains(t, err, "user id is required")
}

func TestInvalidOutputFormat(t *testing.T) {
	_, err := newBackend().run(t, "status", "-u", "u1", "--output", "yaml")
	assert.ErrorContains(t, err, "invalid format")
}

func TestImportExport(t *testing.T) {
	b := newBackend()
	dir := t.TempDir()
	in := filepath.Join(dir, "bank.csv")
	require.NoError(t, os.WriteFile(in, []byte("2024-01-15T10:00:00.000,12.50,expense,food,Lunch,EUR,none\n"), 0o644))

	out, err := b.run(t, "import", in, "-u", "u1")
	require.NoError(t, err)
	assert.Equal(t, "imported 1 transactions, 1 tags, 0 profiles\n", out)
	assert.NotEmpty(t, b.store.Writes(), "import reached the server")

	exported := filepath.Join(dir, "out.csv")
	_, err = b.run(t, "export", "-u", "u1", "--format", "csv", "--out", exported)
	require.NoError(t, err)
	data, err := os.ReadFile(exported)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Lunch")

	out, err = b.run(t, "export", "-u", "u1")
	require.NoError(t, err)
	var st domain.SerializableState
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Len(t, st.Transactions, 1)
}

func TestImport_Invalid(t *testing.T) {
	b := newBackend()
	in := filepath.Join(t.TempDir(), "bad.csv")
	require.NoError(t, os.WriteFile(in, []byte("2024-01-15,oops,expense,food,,EUR,none\n"), 0o644))

	_, err := b.run(t, "import", in, "-u", "u1")
	assert.ErrorContains(t, err, "row 1")
	assert.Empty(t, b.store.Writes())
}

func TestClear(t *testing.T) {
	b := newBackend()
	b.store.SeedServer(remote.Tags, "t1", []byte(`{"id":"t1","uid":"u1","name":"food","automatic":false}`))

	_, err := b.run(t, "clear", "-u", "u1")
	assert.ErrorContains(t, err, "--yes")

	_, err = b.run(t, "clear", "-u", "u1", "--yes")
	require.NoError(t, err)
	_, ok := b.store.Document(remote.Tags, "t1")
	assert.False(t, ok)
}

func TestBackups(t *testing.T) {
	b := newBackend()

	// signing in takes the first automatic backup
	out, err := b.run(t, "backup", "list", "-u", "u1", "--output", "json")
	require.NoError(t, err)
	var names []string
	require.NoError(t, json.Unmarshal([]byte(out), &names))
	require.Len(t, names, 1)

	out, err = b.run(t, "backup", "download", names[0], "-u", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, `"profile"`)

	_, err = b.run(t, "backup", "rm", names[0], "-u", "u1")
	require.NoError(t, err)

	out, err = b.run(t, "backup", "list", "-u", "u1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "NAME"))
}

func TestFilters(t *testing.T) {
	b := newBackend()
	in := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(in, []byte(
		"2024-01-15T10:00:00.000,12.50,expense,food,Lunch,EUR,none\n"+
			"2024-01-16T10:00:00.000,250.00,expense,rent,Rent,EUR,none\n"), 0o644))
	_, err := b.run(t, "import", in, "-u", "u1")
	require.NoError(t, err)

	_, err = b.run(t, "filters", "save", "big", "$.transactions[?(@.amount > 100)]", "-u", "u1")
	require.NoError(t, err)

	out, err := b.run(t, "filters", "list", "-u", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, "big")

	out, err = b.run(t, "filters", "run", "big", "-u", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, "250.00")
	assert.NotContains(t, out, "Lunch")

	_, err = b.run(t, "filters", "rm", "big", "-u", "u1")
	require.NoError(t, err)
	_, err = b.run(t, "filters", "run", "big", "-u", "u1")
	assert.Error(t, err)
}

func TestMigrate_RequiresBigQuery(t *testing.T) {
	_, err := newBackend().run(t, "migrate")
	assert.ErrorContains(t, err, "BigQuery")
}
