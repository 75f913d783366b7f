package replica

import (
	"fmt"
	"maps"

	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/dvloznov/finance-sync/internal/remote"
)

// Reducer folds one snapshot of a collection into the replica. Reducers are
// pure: they never modify maps of the input state and either return a fully
// updated state or an error with the input left as it was.
type Reducer func(state domain.State, snap remote.Snapshot) (domain.State, error)

// fold applies the changes of snap left to right onto a copy of current.
// Added and modified both store the decoded document, so replaying a batch
// gives the same result as applying it once. A complete snapshot starts from
// an empty map instead.
func fold[T any](current map[string]T, snap remote.Snapshot, decode func(remote.Document) (T, error)) (map[string]T, error) {
	var next map[string]T
	if !snap.Complete {
		next = maps.Clone(current)
	}
	if next == nil {
		next = make(map[string]T, len(snap.Changes))
	}
	for i, c := range snap.Changes {
		switch c.Kind {
		case remote.Removed:
			delete(next, c.Doc.ID)
		case remote.Added, remote.Modified:
			v, err := decode(c.Doc)
			if err != nil {
				return nil, fmt.Errorf("change %d (%s %s): %w", i, c.Kind, c.Doc.ID, err)
			}
			next[c.Doc.ID] = v
		default:
			return nil, fmt.Errorf("change %d: unknown change kind %q", i, c.Kind)
		}
	}
	return next, nil
}

// ReduceTransactions folds a transactions snapshot.
func ReduceTransactions(state domain.State, snap remote.Snapshot) (domain.State, error) {
	next, err := fold(state.Transactions, snap, DecodeTransaction)
	if err != nil {
		return state, fmt.Errorf("ReduceTransactions: %w", err)
	}
	state.Transactions = next
	return state, nil
}

// ReduceTags folds a tags snapshot.
func ReduceTags(state domain.State, snap remote.Snapshot) (domain.State, error) {
	next, err := fold(state.Tags, snap, DecodeTag)
	if err != nil {
		return state, fmt.Errorf("ReduceTags: %w", err)
	}
	state.Tags = next
	return state, nil
}

// ReduceProfile folds a profile snapshot. A complete snapshot without any
// profile keeps the one held, since the server has not stored it yet.
func ReduceProfile(state domain.State, snap remote.Snapshot) (domain.State, error) {
	if snap.Complete && len(snap.Changes) == 0 {
		return state, nil
	}
	next, err := fold(state.Profile, snap, DecodeProfile)
	if err != nil {
		return state, fmt.Errorf("ReduceProfile: %w", err)
	}
	state.Profile = next
	return state, nil
}

// Apply folds snaps into state in order using the registered reducer of each
// snapshot's collection. Either every snapshot is applied or none is.
func Apply(state domain.State, snaps ...remote.Snapshot) (domain.State, error) {
	next := state
	for _, snap := range snaps {
		def, ok := Lookup(snap.Collection)
		if !ok {
			return state, fmt.Errorf("Apply: no query registered for collection %q", snap.Collection)
		}
		var err error
		next, err = def.Reduce(next, snap)
		if err != nil {
			return state, fmt.Errorf("Apply: %w", err)
		}
	}
	return next, nil
}
