package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/finance-sync/internal/backup"
	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/dvloznov/finance-sync/internal/filters"
	"github.com/dvloznov/finance-sync/internal/gcs"
	"github.com/dvloznov/finance-sync/internal/jobs"
	"github.com/dvloznov/finance-sync/internal/jobs/inmemory"
	"github.com/dvloznov/finance-sync/internal/remote"
	"github.com/dvloznov/finance-sync/internal/remote/memstore"
	"github.com/dvloznov/finance-sync/internal/replica"
	"github.com/dvloznov/finance-sync/internal/syncer"
)

// storeWriter applies writes synchronously so their effect is visible as
// soon as an intent returns.
type storeWriter struct{ store remote.Store }

func (w storeWriter) Submit(ctx context.Context, ops []remote.WriteOp) error {
	for _, batch := range remote.Batches(ops) {
		if err := w.store.BulkWrite(ctx, batch); err != nil {
			return err
		}
	}
	return nil
}

var now = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

func seqIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

type fixture struct {
	store   *memstore.Store
	storage *gcs.MemoryStorage
	engine  *Engine
}

func newFixture(t *testing.T, writer func(*memstore.Store) remote.Writer) *fixture {
	t.Helper()
	store := memstore.New()
	storage := gcs.NewMemoryStorage()
	fs := filters.NewService(storage)
	backups := backup.NewScheduler(storage, backup.DefaultPeriod, zerolog.Nop()).WithClock(func() time.Time { return now })
	orch := syncer.New(replica.NewContainer(domain.NewState()), syncer.Deps{
		Store:   store,
		Backups: backups,
		Filters: fs,
		Network: store,
	}, 10*time.Millisecond, zerolog.Nop())

	var w remote.Writer = storeWriter{store}
	if writer != nil {
		w = writer(store)
	}
	e := New(orch, w, backups, fs, zerolog.Nop()).WithIDs(seqIDs()).WithClock(func() time.Time { return now })
	t.Cleanup(e.SignOut)
	return &fixture{store: store, storage: storage, engine: e}
}

func signedIn(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t, nil)
	require.NoError(t, f.engine.SignIn(context.Background(), "u1"))
	return f
}

func lunchInput() TransactionInput {
	return TransactionInput{
		Amount:    decimal.RequireFromString("12.50"),
		Currency:  domain.USD,
		Type:      domain.TypeExpense,
		NewTags:   []string{"food"},
		Note:      "Lunch",
		DateTime:  now.Add(-time.Hour),
		Repeating: domain.RepeatingNone,
	}
}

func TestAddTransaction(t *testing.T) {
	f := signedIn(t)
	ctx := context.Background()

	tx, err := f.engine.AddTransaction(ctx, lunchInput())
	require.NoError(t, err)

	st := f.engine.State()
	require.Contains(t, st.Transactions, tx.ID)
	require.Len(t, st.Tags, 1)
	tagID := st.Transactions[tx.ID].TagIDs[0]
	assert.Equal(t, "food", st.Tags[tagID].Name)

	want := decimal.NewFromInt(1).Div(decimal.RequireFromString("1.1726"))
	require.NotNil(t, st.Transactions[tx.ID].Rate)
	assert.True(t, st.Transactions[tx.ID].Rate.Equal(want))

	// A second transaction reuses the tag by name.
	_, err = f.engine.AddTransaction(ctx, lunchInput())
	require.NoError(t, err)
	assert.Len(t, f.engine.State().Tags, 1)
}

func TestAddTransaction_Errors(t *testing.T) {
	t.Run("signed out", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.engine.AddTransaction(context.Background(), lunchInput())
		assert.True(t, errors.Is(err, domain.ErrNoUserID))
	})

	tests := []struct {
		name   string
		modify func(*TransactionInput)
		want   error
	}{
		{"zero amount", func(in *TransactionInput) { in.Amount = decimal.Zero }, ErrInvalidInput},
		{"currency", func(in *TransactionInput) { in.Currency = "JPY" }, ErrInvalidInput},
		{"type", func(in *TransactionInput) { in.Type = "loan" }, ErrInvalidInput},
		{"repeating", func(in *TransactionInput) { in.Repeating = "hourly" }, domain.ErrUnknownRepeating},
		{"unknown tag", func(in *TransactionInput) { in.TagIDs = []string{"nope"} }, ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := signedIn(t)
			in := lunchInput()
			tt.modify(&in)

			_, err := f.engine.AddTransaction(context.Background(), in)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			assert.Equal(t, err.Error(), f.engine.LastError())
			assert.Empty(t, f.store.Writes(), "nothing is written")
		})
	}
}

func TestUpdateAndDeleteTransaction(t *testing.T) {
	f := signedIn(t)
	ctx := context.Background()
	tx, err := f.engine.AddTransaction(ctx, lunchInput())
	require.NoError(t, err)

	in := lunchInput()
	in.Note = "Dinner"
	in.Currency = domain.EUR
	_, err = f.engine.UpdateTransaction(ctx, tx.ID, in)
	require.NoError(t, err)
	got := f.engine.State().Transactions[tx.ID]
	assert.Equal(t, "Dinner", got.Note)
	assert.True(t, got.Rate.Equal(decimal.NewFromInt(1)))

	_, err = f.engine.UpdateTransaction(ctx, "missing", in)
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, f.engine.DeleteTransactions(ctx, tx.ID))
	assert.NotContains(t, f.engine.State().Transactions, tx.ID)
	assert.True(t, errors.Is(f.engine.DeleteTransactions(ctx, tx.ID), ErrNotFound))
}

func TestTags(t *testing.T) {
	f := signedIn(t)
	ctx := context.Background()

	rent, err := f.engine.CreateTag(ctx, "rent")
	require.NoError(t, err)
	_, err = f.engine.CreateTag(ctx, "rent")
	assert.True(t, errors.Is(err, ErrDuplicateTag))

	in := lunchInput()
	in.TagIDs = []string{rent.ID}
	tx, err := f.engine.AddTransaction(ctx, in)
	require.NoError(t, err)
	require.Len(t, f.engine.State().Transactions[tx.ID].TagIDs, 2)

	rent.Name = "housing"
	require.NoError(t, f.engine.UpdateTag(ctx, rent))
	assert.Equal(t, "housing", f.engine.State().Tags[rent.ID].Name)

	food := f.engine.State().Transactions[tx.ID].TagIDs[1]
	rent.Name = f.engine.State().Tags[food].Name
	assert.True(t, errors.Is(f.engine.UpdateTag(ctx, rent), ErrDuplicateTag))

	require.NoError(t, f.engine.DeleteTags(ctx, rent.ID))
	st := f.engine.State()
	assert.NotContains(t, st.Tags, rent.ID)
	assert.Equal(t, []string{food}, st.Transactions[tx.ID].TagIDs, "reference dropped")
}

func TestSetCurrencies(t *testing.T) {
	f := signedIn(t)
	ctx := context.Background()

	require.NoError(t, f.engine.SetMainCurrency(ctx, domain.USD))
	require.NoError(t, f.engine.SetDefaultCurrency(ctx, domain.GBP))

	p, ok := f.engine.State().CurrentProfile()
	require.True(t, ok)
	assert.Equal(t, domain.USD, p.Settings.MainCurrency)
	assert.Equal(t, domain.GBP, p.Settings.DefaultCurrency)

	assert.True(t, errors.Is(f.engine.SetMainCurrency(ctx, "JPY"), ErrInvalidInput))
}

func TestImport(t *testing.T) {
	ctx := context.Background()

	t.Run("csv", func(t *testing.T) {
		f := signedIn(t)
		sum, err := f.engine.Import(ctx, "data.csv", []byte("2024-01-15T10:00:00.000,12.50,expense,food|lunch,Lunch,EUR,none"))
		require.NoError(t, err)
		assert.Equal(t, ImportSummary{Tags: 2, Transactions: 1}, sum)
		assert.Len(t, f.engine.State().Transactions, 1)
		assert.Len(t, f.engine.State().Tags, 2)
	})

	t.Run("invalid csv writes nothing", func(t *testing.T) {
		f := signedIn(t)
		_, err := f.engine.Import(ctx, "data.csv", []byte("2024-01-15,1,expense,a,,EUR,none\n2024-01-16,x,expense,a,,EUR,none"))
		require.Error(t, err)
		assert.Contains(t, f.engine.LastError(), "x is not in a valid amount format")
		assert.Empty(t, f.store.Writes())
	})

	t.Run("json collision writes nothing", func(t *testing.T) {
		f := signedIn(t)
		tag, err := f.engine.CreateTag(ctx, "food")
		require.NoError(t, err)
		before := len(f.store.Writes())

		data := fmt.Sprintf(`{"tags":{%q:{"id":%q,"uid":"u1","name":"x"}},"transactions":{},"profile":{}}`, tag.ID, tag.ID)
		_, err = f.engine.Import(ctx, "backup.json", []byte(data))
		require.Error(t, err)
		assert.Contains(t, err.Error(), tag.ID)
		assert.Len(t, f.store.Writes(), before)
	})

	t.Run("unknown extension", func(t *testing.T) {
		f := signedIn(t)
		_, err := f.engine.Import(ctx, "data.xlsx", nil)
		assert.True(t, errors.Is(err, ErrInvalidInput))
	})
}

func TestExportThenImportIntoAnotherAccount(t *testing.T) {
	ctx := context.Background()
	f := signedIn(t)
	_, err := f.engine.AddTransaction(ctx, lunchInput())
	require.NoError(t, err)

	data, err := f.engine.Export(FormatCSV)
	require.NoError(t, err)

	f.engine.SignOut()
	require.NoError(t, f.engine.SignIn(ctx, "u2"))
	sum, err := f.engine.Import(ctx, "export.csv", data)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Transactions)

	for _, tx := range f.engine.State().Transactions {
		assert.Equal(t, "u2", tx.UID)
	}

	raw, err := f.engine.Export(FormatJSON)
	require.NoError(t, err)
	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Contains(t, decoded, "transactions")
}

func TestClearAll(t *testing.T) {
	f := signedIn(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := f.engine.AddTransaction(ctx, lunchInput())
		require.NoError(t, err)
	}
	require.NoError(t, f.engine.SetMainCurrency(ctx, domain.EUR))

	require.NoError(t, f.engine.ClearAll(ctx))
	st := f.engine.State()
	assert.Empty(t, st.Transactions)
	assert.Empty(t, st.Tags)
	assert.Empty(t, st.Profile)
}

func TestBackups(t *testing.T) {
	f := signedIn(t)
	ctx := context.Background()
	_, err := f.engine.AddTransaction(ctx, lunchInput())
	require.NoError(t, err)

	names, err := f.engine.Backups(ctx)
	require.NoError(t, err)
	require.Len(t, names, 1, "automatic backup taken on sign-in")

	require.NoError(t, f.engine.RemoveBackup(ctx, names[0]))
	name, err := f.engine.BackupNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, backup.FileName(now), name)

	st, err := f.engine.DownloadBackup(ctx, name)
	require.NoError(t, err)
	assert.Len(t, st.Transactions, 1)

	assert.Error(t, f.engine.RemoveBackup(ctx, "notes.txt"))
}

func TestFilters(t *testing.T) {
	f := signedIn(t)
	ctx := context.Background()

	small := lunchInput()
	big := lunchInput()
	big.Amount = decimal.NewFromInt(500)
	_, err := f.engine.AddTransaction(ctx, small)
	require.NoError(t, err)
	bigTx, err := f.engine.AddTransaction(ctx, big)
	require.NoError(t, err)

	require.NoError(t, f.engine.SaveFilter(ctx, domain.FilterProgram{Name: "big", Code: `$.transactions[?(@.amount > 100)]`}))
	require.Len(t, f.engine.State().Filters, 1)

	got, err := f.engine.RunFilter("big")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, bigTx.ID, got[0].ID)

	require.NoError(t, f.engine.DeleteFilter(ctx, "big"))
	assert.Empty(t, f.engine.State().Filters)
	_, err = f.engine.RunFilter("big")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestOfflineWritesAreQueuedUntilOnline(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFixture(t, func(store *memstore.Store) remote.Writer {
		q := inmemory.NewQueue(16, inmemory.NewStore(), inmemory.WithBackoff(5*time.Millisecond))
		require.NoError(t, q.Start(ctx, jobs.NewBulkWriteHandler(store, zerolog.Nop())))
		t.Cleanup(func() { _ = q.Close() })
		return jobs.NewBulkWriter(q, "engine-test")
	})
	require.NoError(t, f.engine.SignIn(ctx, "u1"))

	f.store.SetOnline(false)
	tx, err := f.engine.AddTransaction(ctx, lunchInput())
	require.NoError(t, err, "submission does not wait for the store")
	assert.NotContains(t, f.engine.State().Transactions, tx.ID)

	f.store.SetOnline(true)
	assert.Eventually(t, func() bool {
		_, ok := f.engine.State().Transactions[tx.ID]
		return ok
	}, 2*time.Second, 5*time.Millisecond)
}
