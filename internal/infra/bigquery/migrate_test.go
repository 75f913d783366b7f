package bigquery

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"0002_view.sql":         {Data: []byte("CREATE VIEW `{{PROJECT_ID}}.{{DATASET_ID}}.v` AS SELECT 1")},
		"0001_init.sql":         {Data: []byte("CREATE TABLE `{{DATASET_ID}}.t` (x INT64)")},
		"001_short.sql":         {Data: []byte("ignored")},
		"0003_no_extension":     {Data: []byte("ignored")},
		"invalid_0004_name.sql": {Data: []byte("ignored")},
	}

	got, err := readMigrations(fsys, "proj", "ds")
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, 1, got[0].Version)
	assert.Equal(t, "init", got[0].Name)
	assert.Equal(t, "CREATE TABLE `ds.t` (x INT64)", got[0].SQL)
	assert.Equal(t, "CREATE VIEW `proj.ds.v` AS SELECT 1", got[1].SQL)

	other, err := readMigrations(fsys, "other", "ds2")
	require.NoError(t, err)
	assert.Equal(t, got[1].Checksum, other[1].Checksum, "checksum ignores placeholders")
}

func TestReadMigrations_DuplicateVersion(t *testing.T) {
	_, err := readMigrations(fstest.MapFS{
		"0001_a.sql": {Data: []byte("a")},
		"0001_b.sql": {Data: []byte("b")},
	}, "p", "d")
	assert.Error(t, err)
}

func TestEmbeddedMigrations(t *testing.T) {
	got, err := Migrations("proj", "finance_sync")
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "document_changes", got[0].Name)
	assert.Contains(t, got[0].SQL, "`proj.finance_sync.document_changes`")
	assert.NotContains(t, got[0].SQL, "{{")
}

func TestPending(t *testing.T) {
	all := []Migration{{Version: 1, Name: "a", Checksum: "x"}, {Version: 2, Name: "b", Checksum: "y"}}

	todo, err := pending(all, []AppliedMigration{{Version: 1, Checksum: "x"}})
	require.NoError(t, err)
	require.Len(t, todo, 1)
	assert.Equal(t, 2, todo[0].Version)

	_, err = pending(all, []AppliedMigration{{Version: 1, Checksum: "changed"}})
	assert.Error(t, err)
}
