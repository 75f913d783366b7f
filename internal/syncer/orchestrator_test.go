package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/dvloznov/finance-sync/internal/recurrence"
	"github.com/dvloznov/finance-sync/internal/remote"
	"github.com/dvloznov/finance-sync/internal/remote/memstore"
	"github.com/dvloznov/finance-sync/internal/replica"
)

type mockMaterializer struct {
	mu     sync.Mutex
	states []domain.State
	err    error
}

func (m *mockMaterializer) Materialize(ctx context.Context, state domain.State) (recurrence.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = append(m.states, state)
	return recurrence.Result{}, m.err
}

func (m *mockMaterializer) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.states)
}

type mockBackups struct {
	mu   sync.Mutex
	uids []string
}

func (m *mockBackups) MaybeBackup(ctx context.Context, uid string, state domain.SerializableState) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uids = append(m.uids, uid)
	return true
}

func (m *mockBackups) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.uids)
}

type mockFilters struct {
	programs []domain.FilterProgram
	err      error
}

func (m *mockFilters) List(ctx context.Context, uid string) ([]domain.FilterProgram, error) {
	return m.programs, m.err
}

// storeWriter submits writes straight to a store.
type storeWriter struct{ store remote.Store }

func (w storeWriter) Submit(ctx context.Context, ops []remote.WriteOp) error {
	for _, batch := range remote.Batches(ops) {
		if err := w.store.BulkWrite(ctx, batch); err != nil {
			return err
		}
	}
	return nil
}

// noQuiescence hides the quiescence signal of the wrapped store.
type noQuiescence struct{ *memstore.Store }

func (noQuiescence) OnSnapshotsInSync(ctx context.Context, fn func()) (remote.Subscription, error) {
	return nil, remote.ErrNoQuiescence
}

// failingFresh fails every fresh read while still claiming connectivity.
type failingFresh struct{ *memstore.Store }

func (failingFresh) FreshRead(ctx context.Context, q remote.Query) (remote.Snapshot, error) {
	return remote.Snapshot{}, errors.New("deadline exceeded")
}

func encodeTag(t *testing.T, tag domain.Tag) json.RawMessage {
	t.Helper()
	raw, err := replica.EncodeTag(tag)
	require.NoError(t, err)
	return raw
}

func encodeTx(t *testing.T, tx domain.Transaction) json.RawMessage {
	t.Helper()
	raw, err := replica.EncodeTransaction(tx)
	require.NoError(t, err)
	return raw
}

func lunch(id string) domain.Transaction {
	return domain.Transaction{
		ID: id, UID: "u1", Amount: decimal.RequireFromString("12.5"), Currency: domain.EUR,
		Type: domain.TypeExpense, TagIDs: []string{"t1"}, Note: "Lunch",
		DateTime: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC), Repeating: domain.RepeatingNone,
	}
}

type fixture struct {
	store        *memstore.Store
	materializer *mockMaterializer
	backups      *mockBackups
	filters      *mockFilters
	orch         *Orchestrator
}

func newFixture(t *testing.T, wrap func(*memstore.Store) remote.Store) *fixture {
	t.Helper()
	f := &fixture{
		store:        memstore.New(),
		materializer: &mockMaterializer{},
		backups:      &mockBackups{},
		filters:      &mockFilters{programs: []domain.FilterProgram{{Name: "big", Code: "$.transactions"}}},
	}
	var store remote.Store = f.store
	if wrap != nil {
		store = wrap(f.store)
	}
	f.orch = New(replica.NewContainer(domain.NewState()), Deps{
		Store:        store,
		Materializer: f.materializer,
		Backups:      f.backups,
		Filters:      f.filters,
		Network:      f.store,
	}, 20*time.Millisecond, zerolog.Nop())
	t.Cleanup(f.orch.SignOut)
	return f
}

func TestSignIn_Online(t *testing.T) {
	f := newFixture(t, nil)
	f.store.SeedServer(remote.Tags, "t1", encodeTag(t, domain.Tag{ID: "t1", UID: "u1", Name: "food"}))
	f.store.SeedServer(remote.Transactions, "a", encodeTx(t, lunch("a")))
	f.store.SeedServer(remote.Transactions, "other", encodeTx(t, domain.Transaction{ID: "other", UID: "u2", DateTime: time.Now()}))

	require.NoError(t, f.orch.SignIn(context.Background(), "u1"))

	st := f.orch.State().Snapshot()
	assert.Equal(t, domain.StatusLive, st.Status)
	assert.Equal(t, PhaseLive, f.orch.Phase())
	assert.True(t, st.Online)
	assert.True(t, st.Loaded)
	assert.Contains(t, st.Tags, "t1")
	assert.Contains(t, st.Transactions, "a")
	assert.NotContains(t, st.Transactions, "other")
	assert.Contains(t, st.Profile, "u1", "default profile applied")
	assert.Len(t, st.Filters, 1)

	require.Equal(t, 1, f.materializer.calls())
	assert.Contains(t, f.materializer.states[0].Transactions, "a", "materialization sees the fresh state")
	assert.Equal(t, 1, f.backups.calls())
}

func TestSignIn_OfflineSkipsMaterializationAndBackup(t *testing.T) {
	f := newFixture(t, nil)
	f.store.SeedCache(remote.Tags, "t1", encodeTag(t, domain.Tag{ID: "t1", UID: "u1", Name: "food"}))
	f.store.SeedCache(remote.Transactions, "a", encodeTx(t, lunch("a")))
	f.store.SetOnline(false)

	require.NoError(t, f.orch.SignIn(context.Background(), "u1"))

	st := f.orch.State().Snapshot()
	assert.False(t, st.Online)
	assert.Contains(t, st.Transactions, "a")
	assert.Zero(t, f.materializer.calls())
	assert.Zero(t, f.backups.calls())
	assert.Equal(t, domain.StatusLive, st.Status)
}

func TestSignIn_EssentialDataIsPublishedFirst(t *testing.T) {
	f := newFixture(t, nil)
	f.store.SeedCache(remote.Tags, "t1", encodeTag(t, domain.Tag{ID: "t1", UID: "u1", Name: "food"}))
	f.store.SeedCache(remote.Transactions, "a", encodeTx(t, lunch("a")))
	f.store.SetOnline(false)

	var mu sync.Mutex
	var published []domain.State
	cancel := f.orch.State().Subscribe(func(s domain.State) {
		mu.Lock()
		defer mu.Unlock()
		published = append(published, s)
	})
	defer cancel()

	require.NoError(t, f.orch.SignIn(context.Background(), "u1"))

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, published)
	first := published[0]
	assert.Equal(t, domain.StatusSigningIn, first.Status)
	assert.Contains(t, first.Tags, "t1")
	assert.Empty(t, first.Transactions, "transactions are not essential")
	assert.Contains(t, published[1].Transactions, "a")
}

func TestSignIn_FilterFailureIsVisibleAndNotFatal(t *testing.T) {
	f := newFixture(t, nil)
	f.filters.err = errors.New("bucket not found")

	require.NoError(t, f.orch.SignIn(context.Background(), "u1"))

	st := f.orch.State().Snapshot()
	assert.Equal(t, "bucket not found", st.FiltersError)
	assert.Equal(t, domain.StatusLive, st.Status)
}

func TestSignIn_MaterializeFailureNotifiesOnce(t *testing.T) {
	f := newFixture(t, nil)
	f.materializer.err = domain.ErrUnknownRepeating
	f.store.SeedServer(remote.Transactions, "a", encodeTx(t, lunch("a")))

	require.NoError(t, f.orch.SignIn(context.Background(), "u1"))

	st := f.orch.State().Snapshot()
	assert.Equal(t, MaterializeFailedMessage, st.LastError)
	assert.Contains(t, st.Transactions, "a", "fresh data is kept")
}

func TestSignIn_FreshReadFailureDegradesToCache(t *testing.T) {
	f := newFixture(t, func(s *memstore.Store) remote.Store { return failingFresh{s} })
	f.store.SeedCache(remote.Transactions, "a", encodeTx(t, lunch("a")))

	require.NoError(t, f.orch.SignIn(context.Background(), "u1"))

	st := f.orch.State().Snapshot()
	assert.Contains(t, st.Transactions, "a")
	assert.Zero(t, f.materializer.calls())
	assert.Equal(t, domain.StatusLive, st.Status)
}

func TestLiveChanges_FlushOnQuiescence(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.orch.SignIn(context.Background(), "u1"))
	before := f.orch.State().Version()

	ops := []remote.WriteOp{
		remote.SetOp(remote.Tags, "t1", encodeTag(t, domain.Tag{ID: "t1", UID: "u1", Name: "food"})),
		remote.SetOp(remote.Transactions, "a", encodeTx(t, lunch("a"))),
	}
	require.NoError(t, f.store.BulkWrite(context.Background(), ops))

	st := f.orch.State().Snapshot()
	assert.Contains(t, st.Tags, "t1")
	assert.Contains(t, st.Transactions, "a")
	assert.Equal(t, before+1, f.orch.State().Version(), "both collections applied in one transition")

	require.NoError(t, f.store.BulkWrite(context.Background(), []remote.WriteOp{remote.DeleteOp(remote.Transactions, "a")}))
	assert.NotContains(t, f.orch.State().Snapshot().Transactions, "a")
}

func TestLiveChanges_FlushOnIdleTimer(t *testing.T) {
	f := newFixture(t, func(s *memstore.Store) remote.Store { return noQuiescence{s} })
	require.NoError(t, f.orch.SignIn(context.Background(), "u1"))

	require.NoError(t, f.store.BulkWrite(context.Background(), []remote.WriteOp{
		remote.SetOp(remote.Tags, "t1", encodeTag(t, domain.Tag{ID: "t1", UID: "u1", Name: "food"})),
	}))

	assert.Eventually(t, func() bool {
		_, ok := f.orch.State().Snapshot().Tags["t1"]
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestLiveChanges_UndecodableBatchRecordsError(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.orch.SignIn(context.Background(), "u1"))

	require.NoError(t, f.store.BulkWrite(context.Background(), []remote.WriteOp{
		remote.SetOp(remote.Tags, "t1", encodeTag(t, domain.Tag{ID: "t1", UID: "u1", Name: "food"})),
		remote.SetOp(remote.Transactions, "bad", json.RawMessage(`{"uid":"u1","dateTime":null}`)),
	}))

	st := f.orch.State().Snapshot()
	assert.NotEmpty(t, st.LastError)
	assert.Empty(t, st.Tags, "nothing of the failed flush is applied")
}

func TestSignOut_StopsSubscriptionsAndResets(t *testing.T) {
	f := newFixture(t, nil)
	f.store.SeedServer(remote.Transactions, "a", encodeTx(t, lunch("a")))
	require.NoError(t, f.orch.SignIn(context.Background(), "u1"))

	f.orch.SignOut()

	st := f.orch.State().Snapshot()
	assert.Equal(t, domain.StatusSignedOut, st.Status)
	assert.Empty(t, st.Transactions)
	assert.Empty(t, st.UID)
	assert.Equal(t, PhaseSignedOut, f.orch.Phase())

	require.NoError(t, f.store.BulkWrite(context.Background(), []remote.WriteOp{
		remote.SetOp(remote.Transactions, "b", encodeTx(t, lunch("b"))),
	}))
	assert.Empty(t, f.orch.State().Snapshot().Transactions)
}

func TestSignIn_RequiresUID(t *testing.T) {
	f := newFixture(t, nil)
	err := f.orch.SignIn(context.Background(), "")
	assert.True(t, errors.Is(err, domain.ErrNoUserID))
}

func TestSignIn_MaterializesRepeatingTransactions(t *testing.T) {
	store := memstore.New()
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	rent := lunch("rent")
	rent.Repeating = domain.RepeatingMonthly
	rent.DateTime = now.AddDate(0, -2, -1)
	store.SeedServer(remote.Transactions, "rent", encodeTx(t, rent))

	m := recurrence.NewMaterializer(storeWriter{store}, recurrence.Options{}, zerolog.Nop()).
		WithClock(func() time.Time { return now })
	orch := New(replica.NewContainer(domain.NewState()), Deps{Store: store, Materializer: m, Network: store}, 0, zerolog.Nop())
	defer orch.SignOut()

	require.NoError(t, orch.SignIn(context.Background(), "u1"))

	st := orch.State().Snapshot()
	require.Len(t, st.Transactions, 3)
	assert.Equal(t, domain.RepeatingInactive, st.Transactions["rent"].Repeating)
	active := 0
	for _, tx := range st.Transactions {
		if tx.Repeating == domain.RepeatingMonthly {
			active++
		}
	}
	assert.Equal(t, 1, active, "only the newest instance keeps repeating")
}

func TestSignIn_FreshReadDropsRecordsDeletedOnServer(t *testing.T) {
	store := memstore.New()
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	gone := lunch("gone")
	gone.Repeating = domain.RepeatingMonthly
	gone.DateTime = now.AddDate(0, -3, -1)
	store.SeedCache(remote.Transactions, "gone", encodeTx(t, gone))
	store.SeedCache(remote.Transactions, "kept", encodeTx(t, lunch("kept")))
	store.SeedServer(remote.Transactions, "kept", encodeTx(t, lunch("kept")))

	m := recurrence.NewMaterializer(storeWriter{store}, recurrence.Options{}, zerolog.Nop()).
		WithClock(func() time.Time { return now })
	orch := New(replica.NewContainer(domain.NewState()), Deps{Store: store, Materializer: m, Network: store}, 0, zerolog.Nop())
	defer orch.SignOut()

	require.NoError(t, orch.SignIn(context.Background(), "u1"))

	st := orch.State().Snapshot()
	assert.NotContains(t, st.Transactions, "gone")
	assert.Contains(t, st.Transactions, "kept")
	assert.Len(t, st.Transactions, 1)
	assert.Empty(t, store.Writes(), "nothing is generated from a deleted transaction")

	cached, err := store.CachedRead(context.Background(), remote.Query{Collection: remote.Transactions, UID: "u1"})
	require.NoError(t, err)
	ids := make([]string, 0, len(cached.Changes))
	for _, c := range cached.Changes {
		ids = append(ids, c.Doc.ID)
	}
	assert.Equal(t, []string{"kept"}, ids)
}

func TestLiveChanges_CompleteSnapshotReplacesCollection(t *testing.T) {
	f := newFixture(t, nil)
	f.store.SeedCache(remote.Transactions, "stale", encodeTx(t, lunch("stale")))
	f.store.SetOnline(false)
	require.NoError(t, f.orch.SignIn(context.Background(), "u1"))
	require.Contains(t, f.orch.State().Snapshot().Transactions, "stale")

	f.store.SetOnline(true)
	require.NoError(t, f.orch.Resync(context.Background()))

	assert.NotContains(t, f.orch.State().Snapshot().Transactions, "stale")
}
