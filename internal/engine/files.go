package engine

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/dvloznov/finance-sync/internal/filters"
	"github.com/dvloznov/finance-sync/internal/impexp"
	"github.com/dvloznov/finance-sync/internal/remote"
	"github.com/dvloznov/finance-sync/internal/replica"
)

// ErrStorageDisabled is returned by file intents when no file storage is configured.
var ErrStorageDisabled = errors.New("file storage is not configured")

// Format selects an export format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ParseFormat parses a format name or file extension.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "csv":
		return FormatCSV, nil
	case "json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: unknown format %q", ErrInvalidInput, s)
	}
}

// ImportSummary counts the records submitted by an import.
type ImportSummary struct {
	Tags         int `json:"tags"`
	Transactions int `json:"transactions"`
	Profiles     int `json:"profiles"`
}

// Import validates a CSV or JSON file against the replica and submits its
// records. Nothing is written when validation fails.
func (e *Engine) Import(ctx context.Context, fileName string, data []byte) (ImportSummary, error) {
	s, err := e.session()
	if err != nil {
		return ImportSummary{}, e.record(fmt.Errorf("Import: %w", err))
	}
	format, err := ParseFormat(path.Ext(fileName))
	if err != nil {
		return ImportSummary{}, e.record(fmt.Errorf("Import: %w", err))
	}

	var imported domain.SerializableState
	switch format {
	case FormatJSON:
		imported, err = impexp.ReconcileJSON(data, s.Serializable())
	default:
		imported, err = impexp.ImportCSV(path.Base(fileName), data, s.UID, s.Tags, impexp.Options{NewID: e.newID})
	}
	if err != nil {
		return ImportSummary{}, e.record(fmt.Errorf("Import: %w", err))
	}

	ops, err := upserts(imported)
	if err != nil {
		return ImportSummary{}, e.record(fmt.Errorf("Import: %w", err))
	}
	if err := e.submit(ctx, ops); err != nil {
		return ImportSummary{}, e.record(fmt.Errorf("Import: %w", err))
	}

	sum := ImportSummary{Tags: len(imported.Tags), Transactions: len(imported.Transactions), Profiles: len(imported.Profile)}
	e.log.Info().
		Str("file", fileName).
		Int("tags", sum.Tags).
		Int("transactions", sum.Transactions).
		Msg("Import submitted")
	return sum, nil
}

// upserts encodes every record of st as a set operation, tags first so that
// transactions never reference a tag that has not been written.
func upserts(st domain.SerializableState) ([]remote.WriteOp, error) {
	ops := make([]remote.WriteOp, 0, len(st.Tags)+len(st.Transactions)+len(st.Profile))
	for _, id := range sortedKeys(st.Tags) {
		raw, err := replica.EncodeTag(st.Tags[id])
		if err != nil {
			return nil, err
		}
		ops = append(ops, remote.SetOp(remote.Tags, id, raw))
	}
	for _, id := range sortedKeys(st.Transactions) {
		raw, err := replica.EncodeTransaction(st.Transactions[id])
		if err != nil {
			return nil, err
		}
		ops = append(ops, remote.SetOp(remote.Transactions, id, raw))
	}
	for _, id := range sortedKeys(st.Profile) {
		raw, err := replica.EncodeProfile(st.Profile[id])
		if err != nil {
			return nil, err
		}
		ops = append(ops, remote.SetOp(remote.Profiles, id, raw))
	}
	return ops, nil
}

// Export renders the replica in format.
func (e *Engine) Export(format Format) ([]byte, error) {
	s, err := e.session()
	if err != nil {
		return nil, e.record(fmt.Errorf("Export: %w", err))
	}
	switch format {
	case FormatCSV:
		return impexp.ExportCSV(s.Serializable())
	case FormatJSON:
		return impexp.ExportJSON(s.Serializable())
	default:
		return nil, e.record(fmt.Errorf("Export: %w: unknown format %q", ErrInvalidInput, format))
	}
}

// ClearAll deletes every record of the signed-in user.
func (e *Engine) ClearAll(ctx context.Context) error {
	s, err := e.session()
	if err != nil {
		return e.record(fmt.Errorf("ClearAll: %w", err))
	}
	ops := make([]remote.WriteOp, 0, len(s.Transactions)+len(s.Tags)+len(s.Profile))
	for _, id := range sortedKeys(s.Transactions) {
		ops = append(ops, remote.DeleteOp(remote.Transactions, id))
	}
	for _, id := range sortedKeys(s.Tags) {
		ops = append(ops, remote.DeleteOp(remote.Tags, id))
	}
	for _, id := range sortedKeys(s.Profile) {
		ops = append(ops, remote.DeleteOp(remote.Profiles, id))
	}
	if err := e.submit(ctx, ops); err != nil {
		return e.record(fmt.Errorf("ClearAll: %w", err))
	}
	e.log.Info().Str("uid", s.UID).Int("records", len(ops)).Msg("Clear all data submitted")
	return nil
}

// BackupNow uploads a backup of the replica and returns the file name.
func (e *Engine) BackupNow(ctx context.Context) (string, error) {
	s, err := e.session()
	if err != nil {
		return "", e.record(fmt.Errorf("BackupNow: %w", err))
	}
	if e.backups == nil {
		return "", e.record(fmt.Errorf("BackupNow: %w", ErrStorageDisabled))
	}
	name, err := e.backups.BackupNow(ctx, s.UID, s.Serializable())
	if err != nil {
		return "", e.record(fmt.Errorf("BackupNow: %w", err))
	}
	return name, nil
}

// Backups lists backup files, oldest first.
func (e *Engine) Backups(ctx context.Context) ([]string, error) {
	s, err := e.session()
	if err != nil {
		return nil, e.record(fmt.Errorf("Backups: %w", err))
	}
	if e.backups == nil {
		return nil, e.record(fmt.Errorf("Backups: %w", ErrStorageDisabled))
	}
	names, err := e.backups.List(ctx, s.UID)
	if err != nil {
		return nil, e.record(fmt.Errorf("Backups: %w", err))
	}
	return names, nil
}

// DownloadBackup returns the content of a backup file.
func (e *Engine) DownloadBackup(ctx context.Context, name string) (domain.SerializableState, error) {
	s, err := e.session()
	if err != nil {
		return domain.SerializableState{}, e.record(fmt.Errorf("DownloadBackup: %w", err))
	}
	if e.backups == nil {
		return domain.SerializableState{}, e.record(fmt.Errorf("DownloadBackup: %w", ErrStorageDisabled))
	}
	st, err := e.backups.Download(ctx, s.UID, name)
	if err != nil {
		return domain.SerializableState{}, e.record(fmt.Errorf("DownloadBackup: %w", err))
	}
	return st, nil
}

// RemoveBackup deletes a backup file.
func (e *Engine) RemoveBackup(ctx context.Context, name string) error {
	s, err := e.session()
	if err != nil {
		return e.record(fmt.Errorf("RemoveBackup: %w", err))
	}
	if e.backups == nil {
		return e.record(fmt.Errorf("RemoveBackup: %w", ErrStorageDisabled))
	}
	if err := e.backups.Remove(ctx, s.UID, name); err != nil {
		return e.record(fmt.Errorf("RemoveBackup: %w", err))
	}
	return nil
}

// SaveFilter stores a filter program and refreshes the loaded programs.
func (e *Engine) SaveFilter(ctx context.Context, p domain.FilterProgram) error {
	s, err := e.session()
	if err != nil {
		return e.record(fmt.Errorf("SaveFilter: %w", err))
	}
	if e.filters == nil {
		return e.record(fmt.Errorf("SaveFilter: %w", ErrStorageDisabled))
	}
	if err := e.filters.Save(ctx, s.UID, p); err != nil {
		return e.record(fmt.Errorf("SaveFilter: %w", err))
	}
	return e.reloadFilters(ctx, s.UID)
}

// DeleteFilter removes a filter program and refreshes the loaded programs.
func (e *Engine) DeleteFilter(ctx context.Context, name string) error {
	s, err := e.session()
	if err != nil {
		return e.record(fmt.Errorf("DeleteFilter: %w", err))
	}
	if e.filters == nil {
		return e.record(fmt.Errorf("DeleteFilter: %w", ErrStorageDisabled))
	}
	if err := e.filters.Delete(ctx, s.UID, name); err != nil {
		return e.record(fmt.Errorf("DeleteFilter: %w", err))
	}
	return e.reloadFilters(ctx, s.UID)
}

func (e *Engine) reloadFilters(ctx context.Context, uid string) error {
	programs, err := e.filters.List(ctx, uid)
	if err != nil {
		return e.record(fmt.Errorf("reload filters: %w", err))
	}
	_, _ = e.orch.State().Update(func(s domain.State) (domain.State, error) {
		if s.UID != uid {
			return s, errors.New("session ended")
		}
		s.Filters = programs
		s.FiltersError = ""
		return s, nil
	})
	return nil
}

// RunFilter evaluates the loaded filter program called name and returns the
// selected transactions ordered by date.
func (e *Engine) RunFilter(name string) ([]domain.Transaction, error) {
	s, err := e.session()
	if err != nil {
		return nil, e.record(fmt.Errorf("RunFilter: %w", err))
	}
	idx := -1
	for i, p := range s.Filters {
		if p.Name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, e.record(fmt.Errorf("RunFilter: filter %q: %w", name, ErrNotFound))
	}
	ids, err := filters.Run(s.Filters[idx].Code, s.Serializable())
	if err != nil {
		return nil, e.record(fmt.Errorf("RunFilter: %w", err))
	}
	out := make([]domain.Transaction, 0, len(ids))
	for _, id := range ids {
		if tx, ok := s.Transactions[id]; ok {
			out = append(out, tx)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DateTime.Before(out[j].DateTime) })
	return out, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
