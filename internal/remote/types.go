package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Collection names a remote document collection.
type Collection string

const (
	Transactions Collection = "transactions"
	Tags         Collection = "tags"
	Profiles     Collection = "profile"
)

// Collections lists every collection the client replicates.
var Collections = []Collection{Transactions, Tags, Profiles}

// ChangeKind is the kind of a single change notification.
type ChangeKind string

const (
	Added    ChangeKind = "added"
	Modified ChangeKind = "modified"
	Removed  ChangeKind = "removed"
)

// Document is a raw document as stored remotely.
type Document struct {
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ChangeEvent is one entry of a change stream.
type ChangeEvent struct {
	Kind ChangeKind `json:"kind"`
	Doc  Document   `json:"doc"`
}

// Snapshot is an ordered batch of changes for one query. Reads return every
// matching document as an Added change.
//
// A Complete snapshot lists every document matching its query. Applying it
// drops any held document it does not list.
type Snapshot struct {
	Collection Collection    `json:"collection"`
	Changes    []ChangeEvent `json:"changes"`
	FromCache  bool          `json:"fromCache"`
	Complete   bool          `json:"complete,omitempty"`
}

// Query selects the documents of one collection owned by UID.
type Query struct {
	Collection Collection
	UID        string
}

// String implements fmt.Stringer.
func (q Query) String() string {
	return fmt.Sprintf("%s where uid == %q", q.Collection, q.UID)
}

// SnapshotHandler receives live snapshots in the order the store produced them.
type SnapshotHandler func(Snapshot)

// Subscription is an active live listener.
type Subscription interface {
	// Stop detaches the listener. It is safe to call more than once.
	Stop()
}

// Store is the remote multi-collection document store.
type Store interface {
	// CachedRead returns the locally persisted snapshot for q without touching the network.
	CachedRead(ctx context.Context, q Query) (Snapshot, error)

	// FreshRead reads q from the server.
	FreshRead(ctx context.Context, q Query) (Snapshot, error)

	// Subscribe delivers live changes for q until the subscription is stopped
	// or ctx is cancelled.
	Subscribe(ctx context.Context, q Query, fn SnapshotHandler) (Subscription, error)

	// OnSnapshotsInSync calls fn every time all active listeners have settled.
	// Stores without such a signal return ErrNoQuiescence.
	OnSnapshotsInSync(ctx context.Context, fn func()) (Subscription, error)

	// BulkWrite applies at most MaxWritesInBatch operations atomically.
	BulkWrite(ctx context.Context, ops []WriteOp) error
}

// Writer submits write operations without waiting for them to be applied remotely.
type Writer interface {
	Submit(ctx context.Context, ops []WriteOp) error
}

var (
	// ErrOffline is returned by network reads while there is no connectivity.
	ErrOffline = errors.New("remote store is offline")

	// ErrCacheMiss is returned by CachedRead when nothing was persisted yet.
	ErrCacheMiss = errors.New("no cached snapshot")

	// ErrNoQuiescence is returned by stores that cannot signal settled listeners.
	ErrNoQuiescence = errors.New("store has no quiescence signal")

	// ErrBatchTooLarge is returned when a single write exceeds MaxWritesInBatch.
	ErrBatchTooLarge = errors.New("write batch exceeds operation limit")
)

// SubscriptionFunc adapts a function to the Subscription interface.
type SubscriptionFunc func()

// Stop implements Subscription.
func (f SubscriptionFunc) Stop() { f() }
