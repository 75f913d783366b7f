package jobs

import (
	"context"
	"fmt"
	"time"
)

// Unfinished reports how many jobs in store are pending, running or waiting for a retry.
func Unfinished(ctx context.Context, store JobStore) (int, error) {
	n := 0
	for _, status := range []JobStatus{JobStatusPending, JobStatusRunning, JobStatusRetrying} {
		list, err := store.ListJobs(ctx, JobFilter{Status: status})
		if err != nil {
			return 0, fmt.Errorf("Unfinished: %w", err)
		}
		n += len(list)
	}
	return n, nil
}

// WaitIdle polls store until every job has finished or ctx is done.
func WaitIdle(ctx context.Context, store JobStore, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		n, err := Unfinished(ctx, store)
		if err != nil {
			return fmt.Errorf("WaitIdle: %w", err)
		}
		if n == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("WaitIdle: %d jobs unfinished: %w", n, ctx.Err())
		case <-ticker.C:
		}
	}
}
