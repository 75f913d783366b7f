package jobs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/finance-sync/internal/remote"
	"github.com/dvloznov/finance-sync/internal/remote/memstore"
)

// mockPublisher records published jobs.
type mockPublisher struct {
	jobs []*BulkWriteJob
	err  error
}

func (m *mockPublisher) PublishBulkWrite(ctx context.Context, job *BulkWriteJob) error {
	if m.err != nil {
		return m.err
	}
	m.jobs = append(m.jobs, job)
	return nil
}

func (m *mockPublisher) Close() error { return nil }

func TestBulkWriter_OneJobPerPhysicalWrite(t *testing.T) {
	ops := make([]remote.WriteOp, 1200)
	for i := range ops {
		ops[i] = remote.DeleteOp(remote.Transactions, fmt.Sprintf("tx-%d", i))
	}
	pub := &mockPublisher{}

	require.NoError(t, NewBulkWriter(pub, "import").Submit(context.Background(), ops))

	require.Len(t, pub.jobs, 3)
	assert.Len(t, pub.jobs[0].Ops, 500)
	assert.Len(t, pub.jobs[1].Ops, 500)
	assert.Len(t, pub.jobs[2].Ops, 200)
	for _, j := range pub.jobs {
		assert.Equal(t, "import", j.Label)
	}
}

func TestBulkWriter_EmptySubmitPublishesNothing(t *testing.T) {
	pub := &mockPublisher{}
	require.NoError(t, NewBulkWriter(pub, "x").Submit(context.Background(), nil))
	assert.Empty(t, pub.jobs)
}

func TestBulkWriter_PublishError(t *testing.T) {
	pub := &mockPublisher{err: errors.New("closed")}
	err := NewBulkWriter(pub, "x").WithLabel("y").Submit(context.Background(), []remote.WriteOp{remote.DeleteOp(remote.Tags, "a")})
	assert.Error(t, err)
}

func TestBulkWriteHandler(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	handle := NewBulkWriteHandler(store, zerolog.Nop())

	job := &BulkWriteJob{Ops: []remote.WriteOp{remote.SetOp(remote.Tags, "t1", []byte(`{"uid":"u1","name":"food"}`))}}
	require.NoError(t, handle(ctx, job))
	_, ok := store.Document(remote.Tags, "t1")
	assert.True(t, ok)

	store.SetOnline(false)
	err := handle(ctx, job)
	assert.True(t, errors.Is(err, ErrTransient))
	assert.True(t, errors.Is(err, remote.ErrOffline))
}
