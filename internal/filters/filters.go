// Package filters stores saved filter programs and runs them against the replica.
//
// A filter program is a JSONPath expression evaluated against a plain view of
// the replica, for example
//
//	$.transactions[?(@.amount > 100 && @.type == "expense")]
//
// Matching transaction objects (or their ids) select transactions.
package filters

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/PaesslerAG/jsonpath"

	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/dvloznov/finance-sync/internal/gcs"
)

var (
	// ErrInvalidName is returned for program names that cannot be stored.
	ErrInvalidName = errors.New("invalid filter name")

	// ErrInvalidProgram is returned for filter code that does not compile.
	ErrInvalidProgram = errors.New("invalid filter program")
)

// Prefix is the storage prefix of uid's filter programs.
func Prefix(uid string) string {
	return uid + "/filters/"
}

// Service lists and stores filter programs.
type Service struct {
	storage gcs.StorageService
}

// NewService creates a Service on storage.
func NewService(storage gcs.StorageService) *Service {
	return &Service{storage: storage}
}

// List returns uid's filter programs ordered by name.
func (s *Service) List(ctx context.Context, uid string) ([]domain.FilterProgram, error) {
	if uid == "" {
		return nil, fmt.Errorf("List: %w", domain.ErrNoUserID)
	}
	objs, err := s.storage.List(ctx, Prefix(uid))
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	out := make([]domain.FilterProgram, 0, len(objs))
	for _, o := range objs {
		code, err := s.storage.Download(ctx, o.Name)
		if err != nil {
			return nil, fmt.Errorf("List: %w", err)
		}
		out = append(out, domain.FilterProgram{Name: gcs.BaseName(o.Name), Code: string(code)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Save validates and stores p, replacing a program with the same name.
func (s *Service) Save(ctx context.Context, uid string, p domain.FilterProgram) error {
	if uid == "" {
		return fmt.Errorf("Save: %w", domain.ErrNoUserID)
	}
	if err := validName(p.Name); err != nil {
		return fmt.Errorf("Save: %w", err)
	}
	if err := Compile(p.Code); err != nil {
		return fmt.Errorf("Save: %w", err)
	}
	if err := s.storage.UploadBytes(ctx, Prefix(uid)+p.Name, []byte(p.Code), "text/plain"); err != nil {
		return fmt.Errorf("Save: %w", err)
	}
	return nil
}

// Delete removes the program called name.
func (s *Service) Delete(ctx context.Context, uid, name string) error {
	if uid == "" {
		return fmt.Errorf("Delete: %w", domain.ErrNoUserID)
	}
	if err := validName(name); err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	if err := s.storage.Delete(ctx, Prefix(uid)+name); err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	return nil
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Compile checks that code is a valid expression.
func Compile(code string) error {
	if _, err := jsonpath.New(code); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidProgram, err)
	}
	return nil
}

// Run evaluates code against state and returns the ids of the selected
// transactions, sorted.
func Run(code string, state domain.SerializableState) ([]string, error) {
	res, err := jsonpath.Get(code, View(state))
	if err != nil {
		return nil, fmt.Errorf("run filter: %w", err)
	}

	seen := make(map[string]bool)
	collect := func(v any) {
		switch x := v.(type) {
		case string:
			if _, ok := state.Transactions[x]; ok {
				seen[x] = true
			}
		case map[string]any:
			if id, ok := x["id"].(string); ok {
				if _, ok := state.Transactions[id]; ok {
					seen[id] = true
				}
			}
		}
	}
	// jsonpath returns either one value or a list of values
	if list, ok := res.([]any); ok {
		for _, v := range list {
			collect(v)
		}
	} else {
		collect(res)
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// View converts state into plain maps and slices. Transactions are a list
// ordered by date with numeric amounts and resolved tag names.
func View(state domain.SerializableState) map[string]any {
	txs := make([]domain.Transaction, 0, len(state.Transactions))
	for _, tx := range state.Transactions {
		txs = append(txs, tx)
	}
	sort.Slice(txs, func(i, j int) bool {
		if !txs[i].DateTime.Equal(txs[j].DateTime) {
			return txs[i].DateTime.Before(txs[j].DateTime)
		}
		return txs[i].ID < txs[j].ID
	})

	txList := make([]any, 0, len(txs))
	for _, tx := range txs {
		tagIDs := make([]any, 0, len(tx.TagIDs))
		names := make([]any, 0, len(tx.TagIDs))
		for _, id := range tx.TagIDs {
			tagIDs = append(tagIDs, id)
			if tag, ok := state.Tags[id]; ok {
				names = append(names, tag.Name)
			}
		}
		txList = append(txList, map[string]any{
			"id":        tx.ID,
			"amount":    tx.Amount.InexactFloat64(),
			"currency":  string(tx.Currency),
			"type":      string(tx.MigrateLegacyType().Type),
			"tagIds":    tagIDs,
			"tags":      names,
			"note":      tx.Note,
			"dateTime":  tx.DateTime.UTC().Format(time.RFC3339),
			"repeating": string(tx.Repeating),
		})
	}

	tagList := make([]any, 0, len(state.Tags))
	for _, tag := range state.Tags {
		tagList = append(tagList, map[string]any{
			"id":        tag.ID,
			"name":      tag.Name,
			"automatic": tag.Automatic,
		})
	}
	sort.Slice(tagList, func(i, j int) bool {
		return tagList[i].(map[string]any)["name"].(string) < tagList[j].(map[string]any)["name"].(string)
	})

	return map[string]any{
		"transactions": txList,
		"tags":         tagList,
	}
}
