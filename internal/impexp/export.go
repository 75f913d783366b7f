package impexp

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/dvloznov/finance-sync/internal/domain"
)

// exportTimeLayout matches the ISO format with milliseconds in UTC.
const exportTimeLayout = "2006-01-02T15:04:05.000Z"

// ExportCSV writes transactions in the generic tabular dialect, oldest first.
// The export is lossy: ids, rates and attachments are not included.
func ExportCSV(state domain.SerializableState) ([]byte, error) {
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

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	for _, tx := range txs {
		names := make([]string, 0, len(tx.TagIDs))
		for _, id := range tx.TagIDs {
			if tag, ok := state.Tags[id]; ok {
				names = append(names, tag.Name)
			}
		}
		rec := []string{
			tx.DateTime.UTC().Format(exportTimeLayout),
			tx.Amount.StringFixed(2),
			string(tx.MigrateLegacyType().Type),
			strings.Join(names, "|"),
			tx.Note,
			string(tx.Currency),
			string(tx.Repeating),
		}
		if err := w.Write(rec); err != nil {
			return nil, fmt.Errorf("ExportCSV: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("ExportCSV: %w", err)
	}
	return buf.Bytes(), nil
}

// ExportJSON writes the whole state in the format accepted by ReconcileJSON.
func ExportJSON(state domain.SerializableState) ([]byte, error) {
	if state.Tags == nil || state.Transactions == nil || state.Profile == nil {
		empty := domain.EmptySerializable()
		if state.Tags == nil {
			state.Tags = empty.Tags
		}
		if state.Transactions == nil {
			state.Transactions = empty.Transactions
		}
		if state.Profile == nil {
			state.Profile = empty.Profile
		}
	}
	b, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("ExportJSON: %w", err)
	}
	return b, nil
}
