package bigquery

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sort"
	"time"

	"cloud.google.com/go/bigquery"

	"github.com/dvloznov/finance-sync/internal/remote"
)

// ChangeRow is one entry of the append-only document change log. The current
// version of a document is its row with the highest Seq.
type ChangeRow struct {
	Collection string              `bigquery:"collection"` // REQUIRED
	DocID      string              `bigquery:"doc_id"`     // REQUIRED
	UID        string              `bigquery:"uid"`        // REQUIRED
	Data       bigquery.NullString `bigquery:"data"`       // NULLABLE, JSON document; null for deletions
	Deleted    bool                `bigquery:"deleted"`    // REQUIRED
	Seq        int64               `bigquery:"seq"`        // REQUIRED, unix nanoseconds of the write
	ChangedTS  time.Time           `bigquery:"changed_ts"` // REQUIRED
}

func (r ChangeRow) document() remote.Document {
	doc := remote.Document{ID: r.DocID}
	if r.Data.Valid && !r.Deleted {
		doc.Data = json.RawMessage(r.Data.StringVal)
	}
	return doc
}

type docKey struct {
	coll remote.Collection
	id   string
}

// rowsForOps converts write operations into change rows. latest holds the
// current row of every document touched by an update or delete. Rows of one
// call get consecutive sequence numbers starting at now.
func rowsForOps(ops []remote.WriteOp, latest map[docKey]ChangeRow, now time.Time) ([]*ChangeRow, error) {
	rows := make([]*ChangeRow, 0, len(ops))
	// later ops of the same call see the result of earlier ones
	current := make(map[docKey]ChangeRow, len(latest))
	for k, v := range latest {
		current[k] = v
	}

	for i, op := range ops {
		key := docKey{op.Collection, op.ID}
		row := ChangeRow{
			Collection: string(op.Collection),
			DocID:      op.ID,
			Seq:        now.UnixNano() + int64(i),
			ChangedTS:  now,
		}
		prev, exists := current[key]
		exists = exists && !prev.Deleted

		switch op.Kind {
		case remote.OpSet:
			uid, err := ownerOf(op.Data)
			if err != nil {
				return nil, fmt.Errorf("rowsForOps: %s/%s: %w", op.Collection, op.ID, err)
			}
			row.UID = uid
			row.Data = bigquery.NullString{StringVal: string(op.Data), Valid: true}
		case remote.OpUpdate:
			if !exists {
				return nil, fmt.Errorf("rowsForOps: update of missing document %s/%s", op.Collection, op.ID)
			}
			merged, err := remote.MergePatch(json.RawMessage(prev.Data.StringVal), op.Patch)
			if err != nil {
				return nil, fmt.Errorf("rowsForOps: %w", err)
			}
			row.UID = prev.UID
			row.Data = bigquery.NullString{StringVal: string(merged), Valid: true}
		case remote.OpDelete:
			if !exists {
				continue
			}
			row.UID = prev.UID
			row.Deleted = true
		default:
			return nil, fmt.Errorf("rowsForOps: unknown op kind %q", op.Kind)
		}
		current[key] = row
		rows = append(rows, &row)
	}
	return rows, nil
}

// snapshotFromLatest builds a read snapshot from the current rows of a query.
func snapshotFromLatest(coll remote.Collection, rows []ChangeRow) remote.Snapshot {
	sort.Slice(rows, func(i, j int) bool { return rows[i].DocID < rows[j].DocID })
	snap := remote.Snapshot{Collection: coll, Complete: true}
	for _, r := range rows {
		if r.Deleted {
			continue
		}
		snap.Changes = append(snap.Changes, remote.ChangeEvent{Kind: remote.Added, Doc: r.document()})
	}
	return snap
}

// changeTracker turns polled change rows into change events for one listener.
type changeTracker struct {
	coll  remote.Collection
	seen  map[string]int64 // doc id -> highest applied seq
	known map[string]bool  // documents the listener currently holds
}

func newChangeTracker(coll remote.Collection) *changeTracker {
	return &changeTracker{coll: coll, seen: make(map[string]int64), known: make(map[string]bool)}
}

// initial records the current rows of the query and returns them as a
// complete snapshot.
func (t *changeTracker) initial(rows []ChangeRow) remote.Snapshot {
	snap := t.apply(rows)
	snap.Complete = true
	return snap
}

// apply returns the events for rows not seen yet, in seq order.
func (t *changeTracker) apply(rows []ChangeRow) remote.Snapshot {
	sort.Slice(rows, func(i, j int) bool { return rows[i].Seq < rows[j].Seq })
	snap := remote.Snapshot{Collection: t.coll}
	for _, r := range rows {
		if r.Seq <= t.seen[r.DocID] {
			continue
		}
		t.seen[r.DocID] = r.Seq
		switch {
		case r.Deleted && t.known[r.DocID]:
			delete(t.known, r.DocID)
			snap.Changes = append(snap.Changes, remote.ChangeEvent{Kind: remote.Removed, Doc: remote.Document{ID: r.DocID}})
		case r.Deleted:
		case t.known[r.DocID]:
			snap.Changes = append(snap.Changes, remote.ChangeEvent{Kind: remote.Modified, Doc: r.document()})
		default:
			t.known[r.DocID] = true
			snap.Changes = append(snap.Changes, remote.ChangeEvent{Kind: remote.Added, Doc: r.document()})
		}
	}
	return snap
}

// maxSeq is the highest seq the tracker has applied.
func (t *changeTracker) maxSeq() int64 {
	var m int64
	for _, s := range t.seen {
		if s > m {
			m = s
		}
	}
	return m
}

func ownerOf(data json.RawMessage) (string, error) {
	var doc struct {
		UID string `json:"uid"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("decode owner: %w", err)
	}
	if doc.UID == "" {
		return "", errors.New("document has no uid")
	}
	return doc.UID, nil
}

// classify marks network failures as remote.ErrOffline.
func classify(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", remote.ErrOffline, err)
	}
	return err
}
