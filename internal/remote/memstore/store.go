package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/dvloznov/finance-sync/internal/remote"
)

// Store is an in-memory implementation of remote.Store.
// It keeps a server copy and a client cache of every collection, can be switched
// offline, and delivers live snapshots followed by a quiescence signal after
// every applied write. It is safe for concurrent use and is meant for tests and
// local demos.
type Store struct {
	mu        sync.Mutex
	server    map[remote.Collection]map[string]json.RawMessage
	cache     map[remote.Collection]map[string]json.RawMessage
	cached    map[remote.Collection]bool
	online    bool
	nextID    int
	listeners map[int]*listener
	inSync    map[int]func()
	writes    [][]remote.WriteOp
}

type listener struct {
	q     remote.Query
	fn    remote.SnapshotHandler
	known map[string]bool
}

type delivery struct {
	fn   remote.SnapshotHandler
	snap remote.Snapshot
}

// New creates an empty, online store.
func New() *Store {
	s := &Store{
		server:    make(map[remote.Collection]map[string]json.RawMessage),
		cache:     make(map[remote.Collection]map[string]json.RawMessage),
		cached:    make(map[remote.Collection]bool),
		online:    true,
		listeners: make(map[int]*listener),
		inSync:    make(map[int]func()),
	}
	for _, c := range remote.Collections {
		s.server[c] = make(map[string]json.RawMessage)
		s.cache[c] = make(map[string]json.RawMessage)
	}
	return s
}

// SetOnline switches simulated connectivity.
func (s *Store) SetOnline(online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online = online
}

// Online reports simulated connectivity.
func (s *Store) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// SeedServer stores a document on the server without notifying listeners.
func (s *Store) SeedServer(coll remote.Collection, id string, data json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.server[coll][id] = data
}

// SeedCache stores a document in the client cache only.
func (s *Store) SeedCache(coll remote.Collection, id string, data json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[coll][id] = data
	s.cached[coll] = true
}

// Writes returns every physical write applied so far.
func (s *Store) Writes() [][]remote.WriteOp {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]remote.WriteOp, len(s.writes))
	copy(out, s.writes)
	return out
}

// Document returns the server copy of a document.
func (s *Store) Document(coll remote.Collection, id string) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.server[coll][id]
	return d, ok
}

// CachedRead implements remote.Store.
func (s *Store) CachedRead(ctx context.Context, q remote.Query) (remote.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cached[q.Collection] {
		return remote.Snapshot{}, fmt.Errorf("CachedRead %s: %w", q, remote.ErrCacheMiss)
	}
	snap := snapshotOf(q, s.cache[q.Collection])
	snap.FromCache = true
	return snap, nil
}

// FreshRead implements remote.Store.
func (s *Store) FreshRead(ctx context.Context, q remote.Query) (remote.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return remote.Snapshot{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.online {
		return remote.Snapshot{}, fmt.Errorf("FreshRead %s: %w", q, remote.ErrOffline)
	}
	snap := snapshotOf(q, s.server[q.Collection])
	s.replaceCacheLocked(q, snap)
	s.cached[q.Collection] = true
	return snap, nil
}

// replaceCacheLocked makes snap the cached content of q.
func (s *Store) replaceCacheLocked(q remote.Query, snap remote.Snapshot) {
	cache := s.cache[q.Collection]
	for id, data := range cache {
		if ownerOf(data) == q.UID {
			delete(cache, id)
		}
	}
	for _, c := range snap.Changes {
		cache[c.Doc.ID] = c.Doc.Data
	}
}

// Subscribe implements remote.Store. The initial snapshot is delivered before
// Subscribe returns.
func (s *Store) Subscribe(ctx context.Context, q remote.Query, fn remote.SnapshotHandler) (remote.Subscription, error) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	l := &listener{q: q, fn: fn, known: make(map[string]bool)}
	initial := snapshotOf(q, s.server[q.Collection])
	if s.online {
		s.replaceCacheLocked(q, initial)
	} else {
		initial = snapshotOf(q, s.cache[q.Collection])
		initial.FromCache = true
	}
	for _, c := range initial.Changes {
		l.known[c.Doc.ID] = true
	}
	s.listeners[id] = l
	syncFns := s.inSyncLocked()
	s.mu.Unlock()

	fn(initial)
	for _, f := range syncFns {
		f()
	}

	stop := sync.OnceFunc(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	})
	go func() {
		<-ctx.Done()
		stop()
	}()
	return remote.SubscriptionFunc(stop), nil
}

// OnSnapshotsInSync implements remote.Store.
func (s *Store) OnSnapshotsInSync(ctx context.Context, fn func()) (remote.Subscription, error) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.inSync[id] = fn
	s.mu.Unlock()

	stop := sync.OnceFunc(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.inSync, id)
	})
	go func() {
		<-ctx.Done()
		stop()
	}()
	return remote.SubscriptionFunc(stop), nil
}

// BulkWrite implements remote.Store. Listeners are notified after the write is
// applied, followed by the quiescence signal.
func (s *Store) BulkWrite(ctx context.Context, ops []remote.WriteOp) error {
	if len(ops) > remote.MaxWritesInBatch {
		return fmt.Errorf("BulkWrite: %d operations: %w", len(ops), remote.ErrBatchTooLarge)
	}

	s.mu.Lock()
	if !s.online {
		s.mu.Unlock()
		return fmt.Errorf("BulkWrite: %w", remote.ErrOffline)
	}

	touched := make(map[remote.Collection]map[string]bool)
	for _, op := range ops {
		docs := s.server[op.Collection]
		if docs == nil {
			s.mu.Unlock()
			return fmt.Errorf("BulkWrite: unknown collection %q", op.Collection)
		}
		switch op.Kind {
		case remote.OpSet:
			docs[op.ID] = op.Data
		case remote.OpUpdate:
			cur, ok := docs[op.ID]
			if !ok {
				s.mu.Unlock()
				return fmt.Errorf("BulkWrite: update of missing document %s/%s", op.Collection, op.ID)
			}
			merged, err := remote.MergePatch(cur, op.Patch)
			if err != nil {
				s.mu.Unlock()
				return fmt.Errorf("BulkWrite: %w", err)
			}
			docs[op.ID] = merged
		case remote.OpDelete:
			delete(docs, op.ID)
		default:
			s.mu.Unlock()
			return fmt.Errorf("BulkWrite: unknown op kind %q", op.Kind)
		}
		if touched[op.Collection] == nil {
			touched[op.Collection] = make(map[string]bool)
		}
		touched[op.Collection][op.ID] = true
	}
	s.writes = append(s.writes, append([]remote.WriteOp(nil), ops...))

	deliveries := s.changesLocked(touched)
	syncFns := s.inSyncLocked()
	s.mu.Unlock()

	for _, d := range deliveries {
		d.fn(d.snap)
	}
	for _, f := range syncFns {
		f()
	}
	return nil
}

// changesLocked computes the snapshot each listener should see for the touched documents.
func (s *Store) changesLocked(touched map[remote.Collection]map[string]bool) []delivery {
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	var out []delivery
	for _, lid := range ids {
		l := s.listeners[lid]
		docIDs := sortedKeys(touched[l.q.Collection])
		var changes []remote.ChangeEvent
		for _, docID := range docIDs {
			data, exists := s.server[l.q.Collection][docID]
			matches := exists && ownerOf(data) == l.q.UID
			switch {
			case matches && l.known[docID]:
				changes = append(changes, remote.ChangeEvent{Kind: remote.Modified, Doc: remote.Document{ID: docID, Data: data}})
			case matches:
				l.known[docID] = true
				changes = append(changes, remote.ChangeEvent{Kind: remote.Added, Doc: remote.Document{ID: docID, Data: data}})
			case l.known[docID]:
				delete(l.known, docID)
				changes = append(changes, remote.ChangeEvent{Kind: remote.Removed, Doc: remote.Document{ID: docID}})
			}
			if matches {
				s.cache[l.q.Collection][docID] = data
			} else if !exists {
				delete(s.cache[l.q.Collection], docID)
			}
		}
		if len(changes) > 0 {
			out = append(out, delivery{fn: l.fn, snap: remote.Snapshot{Collection: l.q.Collection, Changes: changes}})
		}
	}
	return out
}

func (s *Store) inSyncLocked() []func() {
	ids := make([]int, 0, len(s.inSync))
	for id := range s.inSync {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.inSync[id])
	}
	return fns
}

// snapshotOf lists every document of docs matching q as a complete snapshot.
func snapshotOf(q remote.Query, docs map[string]json.RawMessage) remote.Snapshot {
	snap := remote.Snapshot{Collection: q.Collection, Complete: true}
	for _, id := range sortedKeys(docs) {
		data := docs[id]
		if ownerOf(data) != q.UID {
			continue
		}
		snap.Changes = append(snap.Changes, remote.ChangeEvent{
			Kind: remote.Added,
			Doc:  remote.Document{ID: id, Data: data},
		})
	}
	return snap
}

func ownerOf(data json.RawMessage) string {
	var doc struct {
		UID string `json:"uid"`
	}
	_ = json.Unmarshal(data, &doc)
	return doc.UID
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var _ remote.Store = (*Store)(nil)
