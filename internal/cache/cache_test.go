package cache

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/finance-sync/internal/remote"
	"github.com/dvloznov/finance-sync/internal/remote/memstore"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func added(id, data string) remote.ChangeEvent {
	return remote.ChangeEvent{Kind: remote.Added, Doc: remote.Document{ID: id, Data: json.RawMessage(data)}}
}

var tagsU1 = remote.Query{Collection: remote.Tags, UID: "u1"}

func TestStore_MissBeforeFirstSync(t *testing.T) {
	_, err := openTemp(t).Load(context.Background(), tagsU1)
	assert.True(t, errors.Is(err, remote.ErrCacheMiss))
}

func TestStore_ReplaceThenApply(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	require.NoError(t, s.Replace(ctx, tagsU1, remote.Snapshot{Changes: []remote.ChangeEvent{
		added("b", `{"name":"b"}`),
		added("a", `{"name":"a"}`),
	}}))

	snap, err := s.Load(ctx, tagsU1)
	require.NoError(t, err)
	assert.True(t, snap.FromCache)
	require.Len(t, snap.Changes, 2)
	assert.Equal(t, "a", snap.Changes[0].Doc.ID)

	require.NoError(t, s.Apply(ctx, tagsU1, remote.Snapshot{Changes: []remote.ChangeEvent{
		{Kind: remote.Removed, Doc: remote.Document{ID: "a"}},
		{Kind: remote.Modified, Doc: remote.Document{ID: "b", Data: json.RawMessage(`{"name":"B"}`)}},
	}}))
	snap, err = s.Load(ctx, tagsU1)
	require.NoError(t, err)
	require.Len(t, snap.Changes, 1)
	assert.JSONEq(t, `{"name":"B"}`, string(snap.Changes[0].Doc.Data))

	// a replace drops documents missing from the new snapshot
	require.NoError(t, s.Replace(ctx, tagsU1, remote.Snapshot{}))
	snap, err = s.Load(ctx, tagsU1)
	require.NoError(t, err)
	assert.Empty(t, snap.Changes)
}

func TestStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Replace(ctx, tagsU1, remote.Snapshot{Changes: []remote.ChangeEvent{added("a", `{}`)}}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	snap, err := s.Load(ctx, tagsU1)
	require.NoError(t, err)
	assert.Len(t, snap.Changes, 1)
}

func TestStore_Forget(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	require.NoError(t, s.Replace(ctx, tagsU1, remote.Snapshot{Changes: []remote.ChangeEvent{added("a", `{}`)}}))
	require.NoError(t, s.Forget(ctx, "u1"))

	_, err := s.Load(ctx, tagsU1)
	assert.True(t, errors.Is(err, remote.ErrCacheMiss))
}

func TestCachingStore_WritesThroughAndServesOffline(t *testing.T) {
	ctx := context.Background()
	inner := memstore.New()
	inner.SeedServer(remote.Tags, "t1", json.RawMessage(`{"uid":"u1","name":"food"}`))
	cs := NewCachingStore(inner, openTemp(t), zerolog.Nop())

	_, err := cs.FreshRead(ctx, tagsU1)
	require.NoError(t, err)

	var live []remote.Snapshot
	sub, err := cs.Subscribe(ctx, tagsU1, func(s remote.Snapshot) { live = append(live, s) })
	require.NoError(t, err)
	defer sub.Stop()

	require.NoError(t, cs.BulkWrite(ctx, []remote.WriteOp{
		remote.SetOp(remote.Tags, "t2", json.RawMessage(`{"uid":"u1","name":"rent"}`)),
	}))
	assert.Len(t, live, 2)

	inner.SetOnline(false)
	_, err = cs.FreshRead(ctx, tagsU1)
	assert.True(t, errors.Is(err, remote.ErrOffline))

	snap, err := cs.CachedRead(ctx, tagsU1)
	require.NoError(t, err)
	require.Len(t, snap.Changes, 2)
	assert.Equal(t, "t2", snap.Changes[1].Doc.ID)
}

func TestCachingStore_CompleteSnapshotEvictsDeleted(t *testing.T) {
	ctx := context.Background()
	store := openTemp(t)
	require.NoError(t, store.Replace(ctx, tagsU1, remote.Snapshot{Changes: []remote.ChangeEvent{
		added("gone", `{"uid":"u1","name":"old"}`),
	}}))
	inner := memstore.New()
	inner.SeedServer(remote.Tags, "t1", json.RawMessage(`{"uid":"u1","name":"food"}`))
	cs := NewCachingStore(inner, store, zerolog.Nop())

	sub, err := cs.Subscribe(ctx, tagsU1, func(remote.Snapshot) {})
	require.NoError(t, err)
	defer sub.Stop()

	snap, err := cs.CachedRead(ctx, tagsU1)
	require.NoError(t, err)
	require.Len(t, snap.Changes, 1)
	assert.Equal(t, "t1", snap.Changes[0].Doc.ID)
	assert.True(t, snap.Complete)
}
