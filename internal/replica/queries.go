package replica

import "github.com/dvloznov/finance-sync/internal/remote"

// QueryDef declares one replicated query: the collection it reads, whether
// the UI needs it before rendering anything, and how its snapshots are folded.
// Every query is filtered by the owner's uid.
type QueryDef struct {
	Collection remote.Collection
	Essential  bool
	Reduce     Reducer
}

// For builds the remote query selecting uid's documents.
func (d QueryDef) For(uid string) remote.Query {
	return remote.Query{Collection: d.Collection, UID: uid}
}

var registry = []QueryDef{
	{Collection: remote.Transactions, Essential: false, Reduce: ReduceTransactions},
	{Collection: remote.Tags, Essential: true, Reduce: ReduceTags},
	{Collection: remote.Profiles, Essential: true, Reduce: ReduceProfile},
}

// Queries returns every registered query.
func Queries() []QueryDef {
	out := make([]QueryDef, len(registry))
	copy(out, registry)
	return out
}

// EssentialQueries returns the queries loaded before anything else on sign-in.
func EssentialQueries() []QueryDef {
	var out []QueryDef
	for _, d := range registry {
		if d.Essential {
			out = append(out, d)
		}
	}
	return out
}

// Lookup finds the query registered for coll.
func Lookup(coll remote.Collection) (QueryDef, bool) {
	for _, d := range registry {
		if d.Collection == coll {
			return d, true
		}
	}
	return QueryDef{}, false
}
