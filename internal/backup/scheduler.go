package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/dvloznov/finance-sync/internal/gcs"
)

const (
	// FileLayout is the timestamp embedded in backup file names. Names sort chronologically.
	FileLayout = "2006-01-02-15-04-05"

	// FileExt is the extension of backup files.
	FileExt = ".json"

	// DefaultPeriod is how long an automatic backup stays fresh.
	DefaultPeriod = 7 * 24 * time.Hour
)

// FileName returns the backup file name for a backup taken at t.
func FileName(t time.Time) string {
	return t.UTC().Format(FileLayout) + FileExt
}

// ParseFileName extracts the creation time from a backup file name.
func ParseFileName(name string) (time.Time, error) {
	base := strings.TrimSuffix(gcs.BaseName(name), FileExt)
	t, err := time.Parse(FileLayout, base)
	if err != nil {
		return time.Time{}, fmt.Errorf("ParseFileName %q: %w", name, err)
	}
	return t, nil
}

// Prefix is the storage prefix holding uid's backups.
func Prefix(uid string) string {
	return uid + "/backup/"
}

// Due reports whether a new automatic backup should be taken. Without a
// previous backup one is always due.
func Due(last time.Time, hasLast bool, now time.Time, period time.Duration) bool {
	if !hasLast {
		return true
	}
	return !now.Before(last.Add(period))
}

// Scheduler decides when to back up the replica and stores backups.
type Scheduler struct {
	storage gcs.StorageService
	period  time.Duration
	now     func() time.Time
	log     zerolog.Logger
}

// NewScheduler creates a Scheduler. A non-positive period means DefaultPeriod.
func NewScheduler(storage gcs.StorageService, period time.Duration, log zerolog.Logger) *Scheduler {
	if period <= 0 {
		period = DefaultPeriod
	}
	return &Scheduler{storage: storage, period: period, now: time.Now, log: log}
}

// WithClock overrides the clock.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// List returns the names of uid's backup files, oldest first. Objects that do
// not look like backups are skipped.
func (s *Scheduler) List(ctx context.Context, uid string) ([]string, error) {
	if uid == "" {
		return nil, fmt.Errorf("List: %w", domain.ErrNoUserID)
	}
	objs, err := s.storage.List(ctx, Prefix(uid))
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	var names []string
	for _, o := range objs {
		name := gcs.BaseName(o.Name)
		if _, err := ParseFileName(name); err != nil {
			s.log.Debug().Str("object", o.Name).Msg("Skipping non-backup object")
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Latest returns the creation time of the most recent backup.
func (s *Scheduler) Latest(ctx context.Context, uid string) (time.Time, bool, error) {
	names, err := s.List(ctx, uid)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("Latest: %w", err)
	}
	if len(names) == 0 {
		return time.Time{}, false, nil
	}
	t, err := ParseFileName(names[len(names)-1])
	if err != nil {
		return time.Time{}, false, fmt.Errorf("Latest: %w", err)
	}
	return t, true, nil
}

// IsDue reports whether uid needs an automatic backup now.
func (s *Scheduler) IsDue(ctx context.Context, uid string) (bool, error) {
	last, ok, err := s.Latest(ctx, uid)
	if err != nil {
		return false, fmt.Errorf("IsDue: %w", err)
	}
	return Due(last, ok, s.now(), s.period), nil
}

// BackupNow uploads state as a new backup file and returns its name.
func (s *Scheduler) BackupNow(ctx context.Context, uid string, state domain.SerializableState) (string, error) {
	if uid == "" {
		return "", fmt.Errorf("BackupNow: %w", domain.ErrNoUserID)
	}
	data, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("BackupNow: encode state: %w", err)
	}
	name := FileName(s.now())
	if err := s.storage.UploadBytes(ctx, Prefix(uid)+name, data, "application/json"); err != nil {
		return "", fmt.Errorf("BackupNow: %w", err)
	}
	s.log.Info().Str("uid", uid).Str("file", name).Int("bytes", len(data)).Msg("Backup uploaded")
	return name, nil
}

// MaybeBackup takes an automatic backup when one is due. Failures are logged
// and otherwise ignored. It reports whether a backup was uploaded.
func (s *Scheduler) MaybeBackup(ctx context.Context, uid string, state domain.SerializableState) bool {
	due, err := s.IsDue(ctx, uid)
	if err != nil {
		s.log.Warn().Err(err).Str("uid", uid).Msg("Auto backup check failed")
		return false
	}
	if !due {
		return false
	}
	if _, err := s.BackupNow(ctx, uid, state); err != nil {
		s.log.Warn().Err(err).Str("uid", uid).Msg("Auto backup failed")
		return false
	}
	return true
}

// Download returns the decoded content of a backup file.
func (s *Scheduler) Download(ctx context.Context, uid, name string) (domain.SerializableState, error) {
	if uid == "" {
		return domain.SerializableState{}, fmt.Errorf("Download: %w", domain.ErrNoUserID)
	}
	data, err := s.storage.Download(ctx, Prefix(uid)+gcs.BaseName(name))
	if err != nil {
		return domain.SerializableState{}, fmt.Errorf("Download: %w", err)
	}
	var state domain.SerializableState
	if err := json.Unmarshal(data, &state); err != nil {
		return domain.SerializableState{}, fmt.Errorf("Download: decode %s: %w", name, err)
	}
	return state, nil
}

// Remove deletes a backup file.
func (s *Scheduler) Remove(ctx context.Context, uid, name string) error {
	if uid == "" {
		return fmt.Errorf("Remove: %w", domain.ErrNoUserID)
	}
	if _, err := ParseFileName(name); err != nil {
		return fmt.Errorf("Remove: %w", err)
	}
	if err := s.storage.Delete(ctx, Prefix(uid)+gcs.BaseName(name)); err != nil {
		return fmt.Errorf("Remove: %w", err)
	}
	return nil
}
