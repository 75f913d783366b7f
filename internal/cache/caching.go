package cache

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-sync/internal/remote"
)

// CachingStore serves cached reads from SQLite and writes every server
// snapshot it sees through to it. Cache write failures are logged and never
// fail the underlying operation.
type CachingStore struct {
	inner remote.Store
	cache *Store
	log   zerolog.Logger
}

// NewCachingStore wraps inner with cache.
func NewCachingStore(inner remote.Store, cache *Store, log zerolog.Logger) *CachingStore {
	return &CachingStore{inner: inner, cache: cache, log: log}
}

// CachedRead implements remote.Store.
func (c *CachingStore) CachedRead(ctx context.Context, q remote.Query) (remote.Snapshot, error) {
	return c.cache.Load(ctx, q)
}

// FreshRead implements remote.Store.
func (c *CachingStore) FreshRead(ctx context.Context, q remote.Query) (remote.Snapshot, error) {
	snap, err := c.inner.FreshRead(ctx, q)
	if err != nil {
		return remote.Snapshot{}, err
	}
	if err := c.cache.Replace(ctx, q, snap); err != nil {
		c.log.Warn().Err(err).Str("query", q.String()).Msg("Failed to cache fresh read")
	}
	return snap, nil
}

// Subscribe implements remote.Store.
func (c *CachingStore) Subscribe(ctx context.Context, q remote.Query, fn remote.SnapshotHandler) (remote.Subscription, error) {
	return c.inner.Subscribe(ctx, q, func(snap remote.Snapshot) {
		if !snap.FromCache {
			write := c.cache.Apply
			if snap.Complete {
				write = c.cache.Replace
			}
			if err := write(ctx, q, snap); err != nil {
				c.log.Warn().Err(err).Str("query", q.String()).Msg("Failed to cache live snapshot")
			}
		}
		fn(snap)
	})
}

// OnSnapshotsInSync implements remote.Store.
func (c *CachingStore) OnSnapshotsInSync(ctx context.Context, fn func()) (remote.Subscription, error) {
	return c.inner.OnSnapshotsInSync(ctx, fn)
}

// BulkWrite implements remote.Store.
func (c *CachingStore) BulkWrite(ctx context.Context, ops []remote.WriteOp) error {
	return c.inner.BulkWrite(ctx, ops)
}

var _ remote.Store = (*CachingStore)(nil)
