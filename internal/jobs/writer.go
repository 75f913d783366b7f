package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-sync/internal/remote"
)

// BulkWriter submits write operations as bulk write jobs, one job per
// physical write. Submit returns once the jobs are queued.
type BulkWriter struct {
	publisher Publisher
	label     string
}

// NewBulkWriter creates a BulkWriter publishing to p. label is recorded on every job.
func NewBulkWriter(p Publisher, label string) *BulkWriter {
	return &BulkWriter{publisher: p, label: label}
}

// WithLabel returns a writer publishing to the same queue under another label.
func (w *BulkWriter) WithLabel(label string) *BulkWriter {
	return &BulkWriter{publisher: w.publisher, label: label}
}

// Submit implements remote.Writer.
func (w *BulkWriter) Submit(ctx context.Context, ops []remote.WriteOp) error {
	for i, chunk := range remote.Batches(ops) {
		job := &BulkWriteJob{Label: w.label, Ops: chunk}
		if err := w.publisher.PublishBulkWrite(ctx, job); err != nil {
			return fmt.Errorf("Submit: publish chunk %d: %w", i, err)
		}
	}
	return nil
}

// NewBulkWriteHandler applies bulk write jobs to store. Offline failures are
// reported as transient so the queue keeps retrying until connectivity returns.
func NewBulkWriteHandler(store remote.Store, log zerolog.Logger) JobHandler {
	return func(ctx context.Context, job Job) error {
		bw, ok := job.(*BulkWriteJob)
		if !ok {
			return fmt.Errorf("bulk write handler: unexpected job type %s", job.GetType())
		}
		if err := store.BulkWrite(ctx, bw.Ops); err != nil {
			if errors.Is(err, remote.ErrOffline) {
				return fmt.Errorf("%w: %w", ErrTransient, err)
			}
			return err
		}
		log.Debug().
			Str("job_id", bw.JobID).
			Str("label", bw.Label).
			Int("ops", len(bw.Ops)).
			Msg("Bulk write applied")
		return nil
	}
}

var _ remote.Writer = (*BulkWriter)(nil)
