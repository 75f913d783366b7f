package backup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/dvloznov/finance-sync/internal/gcs"
)

// failingStorage cannot list objects.
type failingStorage struct{ gcs.MemoryStorage }

func (*failingStorage) List(ctx context.Context, prefix string) ([]gcs.Object, error) {
	return nil, errors.New("network down")
}

func TestFileName_RoundTrip(t *testing.T) {
	at := time.Date(2024, 3, 9, 8, 7, 6, 0, time.UTC)
	assert.Equal(t, "2024-03-09-08-07-06.json", FileName(at))

	got, err := ParseFileName("u1/backup/2024-03-09-08-07-06.json")
	require.NoError(t, err)
	assert.Equal(t, at, got)

	_, err = ParseFileName("notes.txt")
	assert.Error(t, err)
}

func TestDue(t *testing.T) {
	last := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	period := 7 * 24 * time.Hour

	tests := []struct {
		name    string
		now     time.Time
		hasLast bool
		want    bool
	}{
		{"no previous backup", last, false, true},
		{"just backed up", last, true, false},
		{"one second before period ends", last.Add(period - time.Second), true, false},
		{"exactly at period end", last.Add(period), true, true},
		{"after period", last.Add(period + time.Hour), true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Due(last, tt.hasLast, tt.now, period))
		})
	}
}

func TestScheduler_MaybeBackup(t *testing.T) {
	ctx := context.Background()
	store := gcs.NewMemoryStorage()
	clock := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s := NewScheduler(store, 0, zerolog.Nop()).WithClock(func() time.Time { return clock })

	state := domain.EmptySerializable()
	state.Tags["t1"] = domain.Tag{ID: "t1", UID: "u1", Name: "food"}

	assert.True(t, s.MaybeBackup(ctx, "u1", state), "first backup is unconditional")
	assert.False(t, s.MaybeBackup(ctx, "u1", state))

	clock = clock.Add(DefaultPeriod)
	assert.True(t, s.MaybeBackup(ctx, "u1", state))

	names, err := s.List(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-01-12-00-00.json", "2024-01-08-12-00-00.json"}, names)

	restored, err := s.Download(ctx, "u1", names[1])
	require.NoError(t, err)
	assert.Equal(t, "food", restored.Tags["t1"].Name)
}

func TestScheduler_ListSkipsForeignObjects(t *testing.T) {
	ctx := context.Background()
	store := gcs.NewMemoryStorage()
	require.NoError(t, store.UploadBytes(ctx, "u1/backup/readme.txt", []byte("x"), ""))
	require.NoError(t, store.UploadBytes(ctx, "u1/backup/2023-05-01-00-00-00.json", []byte("{}"), ""))

	last, ok, err := NewScheduler(store, 0, zerolog.Nop()).Latest(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC), last)
}

func TestScheduler_ErrorsSurfaceOnlyForManualBackup(t *testing.T) {
	ctx := context.Background()
	s := NewScheduler(&failingStorage{}, 0, zerolog.Nop())

	assert.False(t, s.MaybeBackup(ctx, "u1", domain.EmptySerializable()))

	_, err := s.BackupNow(ctx, "", domain.EmptySerializable())
	assert.True(t, errors.Is(err, domain.ErrNoUserID))
}

func TestScheduler_Remove(t *testing.T) {
	ctx := context.Background()
	store := gcs.NewMemoryStorage()
	s := NewScheduler(store, 0, zerolog.Nop())

	name, err := s.BackupNow(ctx, "u1", domain.EmptySerializable())
	require.NoError(t, err)
	require.NoError(t, s.Remove(ctx, "u1", name))

	assert.True(t, errors.Is(s.Remove(ctx, "u1", name), gcs.ErrObjectNotFound))
	assert.Error(t, s.Remove(ctx, "u1", "../../etc/passwd"))
}
