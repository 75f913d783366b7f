package bigquery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/dvloznov/finance-sync/internal/remote"
)

const (
	changesTable = "document_changes"

	// pollLag is how far behind the newest seen change each poll starts, so
	// streamed rows that become visible late are still picked up.
	pollLag = time.Minute
)

// Store is a remote.Store on top of an append-only BigQuery change log.
// Live listeners poll the log; there is no quiescence signal and no local
// cache, which cache.CachingStore adds.
type Store struct {
	client  *bigquery.Client
	dataset string
	poll    time.Duration
	now     func() time.Time
	log     zerolog.Logger
}

// NewStore creates a Store using dataset in project.
func NewStore(ctx context.Context, project, dataset string, poll time.Duration, log zerolog.Logger, opts ...option.ClientOption) (*Store, error) {
	client, err := bigquery.NewClient(ctx, project, opts...)
	if err != nil {
		return nil, fmt.Errorf("NewStore: creating client: %w", err)
	}
	if poll <= 0 {
		poll = 5 * time.Second
	}
	return &Store{client: client, dataset: dataset, poll: poll, now: time.Now, log: log}, nil
}

// Close closes the BigQuery client connection.
func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func (s *Store) table() string {
	return fmt.Sprintf("`%s.%s`", s.dataset, changesTable)
}

// CachedRead implements remote.Store. BigQuery has no client cache.
func (s *Store) CachedRead(ctx context.Context, q remote.Query) (remote.Snapshot, error) {
	return remote.Snapshot{}, fmt.Errorf("CachedRead %s: %w", q, remote.ErrCacheMiss)
}

// FreshRead implements remote.Store.
func (s *Store) FreshRead(ctx context.Context, q remote.Query) (remote.Snapshot, error) {
	rows, err := s.latest(ctx, q)
	if err != nil {
		return remote.Snapshot{}, fmt.Errorf("FreshRead %s: %w", q, err)
	}
	return snapshotFromLatest(q.Collection, rows), nil
}

// latest returns the current row of every document matching q, deletions included.
func (s *Store) latest(ctx context.Context, q remote.Query) ([]ChangeRow, error) {
	query := s.client.Query(fmt.Sprintf(`
		SELECT collection, doc_id, uid, data, deleted, seq, changed_ts
		FROM %s
		WHERE collection = @collection AND uid = @uid
		QUALIFY ROW_NUMBER() OVER (PARTITION BY doc_id ORDER BY seq DESC) = 1
	`, s.table()))
	query.Parameters = []bigquery.QueryParameter{
		{Name: "collection", Value: string(q.Collection)},
		{Name: "uid", Value: q.UID},
	}
	return readRows(ctx, query)
}

// latestByID returns the current rows of the given documents.
func (s *Store) latestByID(ctx context.Context, coll remote.Collection, ids []string) ([]ChangeRow, error) {
	query := s.client.Query(fmt.Sprintf(`
		SELECT collection, doc_id, uid, data, deleted, seq, changed_ts
		FROM %s
		WHERE collection = @collection AND doc_id IN UNNEST(@ids)
		QUALIFY ROW_NUMBER() OVER (PARTITION BY doc_id ORDER BY seq DESC) = 1
	`, s.table()))
	query.Parameters = []bigquery.QueryParameter{
		{Name: "collection", Value: string(coll)},
		{Name: "ids", Value: ids},
	}
	return readRows(ctx, query)
}

// changesSince returns the rows of q written after seq, oldest first.
func (s *Store) changesSince(ctx context.Context, q remote.Query, seq int64) ([]ChangeRow, error) {
	query := s.client.Query(fmt.Sprintf(`
		SELECT collection, doc_id, uid, data, deleted, seq, changed_ts
		FROM %s
		WHERE collection = @collection AND uid = @uid AND seq > @seq
		ORDER BY seq
	`, s.table()))
	query.Parameters = []bigquery.QueryParameter{
		{Name: "collection", Value: string(q.Collection)},
		{Name: "uid", Value: q.UID},
		{Name: "seq", Value: seq},
	}
	return readRows(ctx, query)
}

func readRows(ctx context.Context, q *bigquery.Query) ([]ChangeRow, error) {
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("query read: %w", classify(err))
	}
	var rows []ChangeRow
	for {
		var r ChangeRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iter next: %w", classify(err))
		}
		rows = append(rows, r)
	}
	return rows, nil
}

// Subscribe implements remote.Store. The initial snapshot and every later
// change are delivered from a polling goroutine.
func (s *Store) Subscribe(ctx context.Context, q remote.Query, fn remote.SnapshotHandler) (remote.Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		log := s.log.With().Str("query", q.String()).Logger()
		tracker := newChangeTracker(q.Collection)

		initial, err := s.latest(ctx, q)
		for err != nil {
			log.Warn().Err(err).Msg("Initial read failed, retrying")
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.poll):
			}
			initial, err = s.latest(ctx, q)
		}
		fn(tracker.initial(initial))

		ticker := time.NewTicker(s.poll)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			since := tracker.maxSeq() - int64(pollLag)
			rows, err := s.changesSince(ctx, q, since)
			if err != nil {
				if ctx.Err() == nil {
					log.Warn().Err(err).Msg("Polling changes failed")
				}
				continue
			}
			if snap := tracker.apply(rows); len(snap.Changes) > 0 {
				fn(snap)
			}
		}
	}()

	stop := sync.OnceFunc(func() {
		cancel()
		<-done
	})
	return remote.SubscriptionFunc(stop), nil
}

// OnSnapshotsInSync implements remote.Store.
func (s *Store) OnSnapshotsInSync(ctx context.Context, fn func()) (remote.Subscription, error) {
	return nil, remote.ErrNoQuiescence
}

// BulkWrite implements remote.Store. Updates and deletes read the current
// version of their documents first; all rows of one call are streamed in a
// single insert request.
func (s *Store) BulkWrite(ctx context.Context, ops []remote.WriteOp) error {
	if len(ops) > remote.MaxWritesInBatch {
		return fmt.Errorf("BulkWrite: %d operations: %w", len(ops), remote.ErrBatchTooLarge)
	}
	if len(ops) == 0 {
		return nil
	}

	lookup := make(map[remote.Collection][]string)
	for _, op := range ops {
		if op.Kind == remote.OpUpdate || op.Kind == remote.OpDelete {
			lookup[op.Collection] = append(lookup[op.Collection], op.ID)
		}
	}
	latest := make(map[docKey]ChangeRow)
	for coll, ids := range lookup {
		rows, err := s.latestByID(ctx, coll, ids)
		if err != nil {
			return fmt.Errorf("BulkWrite: %w", err)
		}
		for _, r := range rows {
			latest[docKey{coll, r.DocID}] = r
		}
	}

	rows, err := rowsForOps(ops, latest, s.now())
	if err != nil {
		return fmt.Errorf("BulkWrite: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}
	inserter := s.client.Dataset(s.dataset).Table(changesTable).Inserter()
	if err := inserter.Put(ctx, rows); err != nil {
		return fmt.Errorf("BulkWrite: inserting rows: %w", classify(err))
	}
	s.log.Debug().Int("rows", len(rows)).Msg("Change rows inserted")
	return nil
}

var _ remote.Store = (*Store)(nil)
