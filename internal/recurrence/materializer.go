package recurrence

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/dvloznov/finance-sync/internal/remote"
	"github.com/dvloznov/finance-sync/internal/replica"
)

// Options tune materialization.
type Options struct {
	// WeeklyFallThrough makes a weekly transaction also run the daily chain
	// after its weekly chain, reproducing the behaviour of older clients.
	WeeklyFallThrough bool

	// NewID generates ids of new instances. Defaults to random UUIDs.
	NewID func() string
}

// Result is what one materialization pass produced.
type Result struct {
	// Generated are the new instances in creation order. Only the last link of
	// each chain keeps its repeating mode, the others are already inactive.
	Generated []domain.Transaction

	// Inactivated are ids of the existing transactions that must become inactive.
	Inactivated []string

	// Skipped are ids of due transactions left alone because no exchange rate
	// is known for their currency.
	Skipped []string
}

// Empty reports whether the pass produced nothing.
func (r Result) Empty() bool {
	return len(r.Generated) == 0 && len(r.Inactivated) == 0
}

// Expand computes the instances due before now for every active repeating
// transaction in state. It has no side effects.
func Expand(state domain.State, now time.Time, opts Options) (Result, error) {
	profile, ok := state.CurrentProfile()
	if !ok || profile.Settings.MainCurrency == "" || len(profile.ExchangeRates.Rates) == 0 {
		return Result{}, fmt.Errorf("Expand: %w", domain.ErrUserDataNotLoaded)
	}
	newID := opts.NewID
	if newID == nil {
		newID = func() string { return uuid.New().String() }
	}
	mainCurrency := profile.Settings.MainCurrency
	rates := profile.ExchangeRates.Rates
	if _, ok := rates[mainCurrency]; !ok {
		return Result{}, fmt.Errorf("Expand: main currency %s: %w", mainCurrency, domain.ErrUserDataNotLoaded)
	}

	ids := make([]string, 0, len(state.Transactions))
	for id := range state.Transactions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var res Result
	inactivated := make(map[string]bool)

	for _, id := range ids {
		tx := state.Transactions[id]
		steps, err := stepsFor(tx.Repeating, opts.WeeklyFallThrough)
		if err != nil {
			return Result{}, fmt.Errorf("Expand: transaction %s: %w", id, err)
		}

		if !due(tx, steps, now) {
			continue
		}
		rate, err := domain.ComputeExchangeRate(rates, tx.Currency, mainCurrency)
		if err != nil {
			res.Skipped = append(res.Skipped, id)
			continue
		}

		for _, step := range steps {
			last := -1
			for i := 1; ; i++ {
				date := step(tx.DateTime, i)
				if !date.Before(now) {
					break
				}

				inst := tx.Clone()
				inst.ID = newID()
				inst.DateTime = date
				inst.AttachedFiles = nil
				r := rate
				inst.Rate = &r

				if last < 0 {
					if !inactivated[tx.ID] {
						inactivated[tx.ID] = true
						res.Inactivated = append(res.Inactivated, tx.ID)
					}
				} else {
					res.Generated[last].Repeating = domain.RepeatingInactive
				}
				res.Generated = append(res.Generated, inst)
				last = len(res.Generated) - 1
			}
		}
	}
	return res, nil
}

// due reports whether at least one instance of tx is before now.
func due(tx domain.Transaction, steps []StepFunc, now time.Time) bool {
	for _, step := range steps {
		if step(tx.DateTime, 1).Before(now) {
			return true
		}
	}
	return false
}

// Materializer expands repeating transactions and submits the result.
type Materializer struct {
	writer remote.Writer
	opts   Options
	now    func() time.Time
	log    zerolog.Logger
}

// NewMaterializer creates a Materializer submitting writes to w.
func NewMaterializer(w remote.Writer, opts Options, log zerolog.Logger) *Materializer {
	return &Materializer{writer: w, opts: opts, now: time.Now, log: log}
}

// WithClock overrides the clock used as "now".
func (m *Materializer) WithClock(now func() time.Time) *Materializer {
	m.now = now
	return m
}

// Materialize expands state and submits the generated instances in one bulk
// upsert, then the inactivations in a second bulk update. Submission does not
// wait for the writes to reach the store.
func (m *Materializer) Materialize(ctx context.Context, state domain.State) (Result, error) {
	res, err := Expand(state, m.now(), m.opts)
	if err != nil {
		return Result{}, fmt.Errorf("Materialize: %w", err)
	}
	for _, id := range res.Skipped {
		m.log.Warn().Str("transaction", id).Str("currency", string(state.Transactions[id].Currency)).
			Msg("Skipping repeating transaction without exchange rate")
	}
	if res.Empty() {
		return res, nil
	}

	upserts := make([]remote.WriteOp, 0, len(res.Generated))
	for _, tx := range res.Generated {
		data, err := replica.EncodeTransaction(tx)
		if err != nil {
			return Result{}, fmt.Errorf("Materialize: %w", err)
		}
		upserts = append(upserts, remote.SetOp(remote.Transactions, tx.ID, data))
	}
	updates := make([]remote.WriteOp, 0, len(res.Inactivated))
	for _, id := range res.Inactivated {
		updates = append(updates, remote.UpdateOp(remote.Transactions, id, map[string]any{
			"repeating": string(domain.RepeatingInactive),
		}))
	}

	if err := m.writer.Submit(ctx, upserts); err != nil {
		return Result{}, fmt.Errorf("Materialize: submit generated transactions: %w", err)
	}
	if err := m.writer.Submit(ctx, updates); err != nil {
		return Result{}, fmt.Errorf("Materialize: submit inactivations: %w", err)
	}

	m.log.Info().
		Int("generated", len(res.Generated)).
		Int("inactivated", len(res.Inactivated)).
		Msg("Materialized repeating transactions")
	return res, nil
}
