// Package syncer drives the lifecycle of the local replica: bootstrap from
// cache, refresh from the network, and follow the live change stream.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/dvloznov/finance-sync/internal/recurrence"
	"github.com/dvloznov/finance-sync/internal/remote"
	"github.com/dvloznov/finance-sync/internal/replica"
)

// MaterializeFailedMessage is the only notification shown when recurring
// transactions could not be generated.
const MaterializeFailedMessage = "Unexpected error. Failed to add repeating transactions."

// DefaultIdleFlush is the quiet period after which buffered changes are applied
// when the store cannot signal quiescence.
const DefaultIdleFlush = 200 * time.Millisecond

// Phase is the orchestrator's lifecycle phase.
type Phase string

const (
	PhaseUnauthenticated  Phase = "unauthenticated"
	PhaseEssentialLoading Phase = "essential-loading"
	PhaseLazyLoading      Phase = "lazy-loading"
	PhaseLive             Phase = "live"
	PhaseSignedOut        Phase = "signed-out"
)

// Status maps the phase to the status exposed to the UI.
func (p Phase) Status() domain.SignInStatus {
	switch p {
	case PhaseEssentialLoading, PhaseLazyLoading:
		return domain.StatusSigningIn
	case PhaseLive:
		return domain.StatusLive
	case PhaseSignedOut:
		return domain.StatusSignedOut
	default:
		return domain.StatusUnknown
	}
}

// Materializer generates due instances of repeating transactions.
type Materializer interface {
	Materialize(ctx context.Context, state domain.State) (recurrence.Result, error)
}

// BackupScheduler takes a backup when one is due.
type BackupScheduler interface {
	MaybeBackup(ctx context.Context, uid string, state domain.SerializableState) bool
}

// FilterLister enumerates saved filter programs.
type FilterLister interface {
	List(ctx context.Context, uid string) ([]domain.FilterProgram, error)
}

// Connectivity reports whether the network is reachable.
type Connectivity interface {
	Online() bool
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Store        remote.Store
	Materializer Materializer
	Backups      BackupScheduler
	Filters      FilterLister
	Network      Connectivity
}

// Orchestrator keeps a replica.Container in sync with the remote store for
// one signed-in user at a time.
type Orchestrator struct {
	deps      Deps
	state     *replica.Container
	idleFlush time.Duration
	log       zerolog.Logger

	mu      sync.Mutex
	phase   Phase
	session *session
}

type session struct {
	uid    string
	ctx    context.Context
	cancel context.CancelFunc
	subs   []remote.Subscription
	acc    *accumulator

	flushMu sync.Mutex
}

// New creates an Orchestrator publishing into state. A non-positive idleFlush
// selects DefaultIdleFlush.
func New(state *replica.Container, deps Deps, idleFlush time.Duration, log zerolog.Logger) *Orchestrator {
	if idleFlush <= 0 {
		idleFlush = DefaultIdleFlush
	}
	return &Orchestrator{
		deps:      deps,
		state:     state,
		idleFlush: idleFlush,
		log:       log,
		phase:     PhaseUnauthenticated,
	}
}

// State returns the container the orchestrator publishes into.
func (o *Orchestrator) State() *replica.Container {
	return o.state
}

// Phase returns the current lifecycle phase.
func (o *Orchestrator) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// UID returns the signed-in user, or "" when nobody is signed in.
func (o *Orchestrator) UID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil {
		return ""
	}
	return o.session.uid
}

func (o *Orchestrator) setPhase(s *session, p Phase) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session != s {
		return false
	}
	o.phase = p
	return true
}

// SignIn bootstraps the replica for uid and starts following the live stream.
// A previous session is signed out first. Subscriptions outlive ctx and stop
// on SignOut.
func (o *Orchestrator) SignIn(ctx context.Context, uid string) error {
	if uid == "" {
		return fmt.Errorf("SignIn: %w", domain.ErrNoUserID)
	}
	o.SignOut()

	sessCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &session{uid: uid, ctx: sessCtx, cancel: cancel, acc: newAccumulator()}

	o.mu.Lock()
	o.session = s
	o.phase = PhaseEssentialLoading
	o.mu.Unlock()

	log := o.log.With().Str("uid", uid).Logger()
	log.Info().Msg("Signing in")

	// Essential data first so tags and currencies are usable before transactions arrive.
	essentials := o.cachedSnapshots(ctx, uid, replica.EssentialQueries(), log)
	if _, err := o.state.Update(func(domain.State) (domain.State, error) {
		next := domain.NewState()
		next.UID = uid
		next.Status = domain.StatusSigningIn
		next.Profile = map[string]domain.Profile{uid: domain.DefaultProfile(uid)}
		applied, err := replica.Apply(next, essentials...)
		if err != nil {
			log.Error().Err(err).Msg("Failed to apply cached essential data")
			next.LastError = err.Error()
			return next, nil
		}
		return applied, nil
	}); err != nil {
		return fmt.Errorf("SignIn: %w", err)
	}

	if !o.setPhase(s, PhaseLazyLoading) {
		return nil
	}
	all := o.cachedSnapshots(ctx, uid, replica.Queries(), log)
	o.applyOwned(uid, func(st domain.State) (domain.State, error) {
		applied, err := replica.Apply(st, all...)
		if err != nil {
			log.Error().Err(err).Msg("Failed to apply cached data")
			st.LastError = err.Error()
			return st, nil
		}
		applied.Loaded = len(all) > 0
		return applied, nil
	})

	o.loadFilters(ctx, uid, log)

	if err := o.networkPass(ctx, s, log); err != nil {
		return fmt.Errorf("SignIn: %w", err)
	}

	if err := o.subscribe(s, log); err != nil {
		o.SignOut()
		return fmt.Errorf("SignIn: %w", err)
	}

	if !o.setPhase(s, PhaseLive) {
		return nil
	}
	o.applyOwned(uid, func(st domain.State) (domain.State, error) {
		st.Status = domain.StatusLive
		return st, nil
	})
	log.Info().Msg("Replica is live")
	return nil
}

// SignOut stops every subscription and resets the replica.
func (o *Orchestrator) SignOut() {
	o.mu.Lock()
	s := o.session
	o.session = nil
	if s != nil {
		o.phase = PhaseSignedOut
	}
	o.mu.Unlock()

	if s == nil {
		return
	}
	s.cancel()
	s.acc.close()
	o.mu.Lock()
	subs := s.subs
	s.subs = nil
	o.mu.Unlock()
	for _, sub := range subs {
		sub.Stop()
	}
	_, _ = o.state.Update(func(domain.State) (domain.State, error) {
		next := domain.NewState()
		next.Status = domain.StatusSignedOut
		return next, nil
	})
	o.log.Info().Str("uid", s.uid).Msg("Signed out")
}

// Resync repeats the network pass for the signed-in user, for example after
// connectivity returns.
func (o *Orchestrator) Resync(ctx context.Context) error {
	o.mu.Lock()
	s := o.session
	o.mu.Unlock()
	if s == nil {
		return fmt.Errorf("Resync: %w", domain.ErrNoUserID)
	}
	return o.networkPass(ctx, s, o.log.With().Str("uid", s.uid).Logger())
}

func (o *Orchestrator) cachedSnapshots(ctx context.Context, uid string, defs []replica.QueryDef, log zerolog.Logger) []remote.Snapshot {
	var snaps []remote.Snapshot
	for _, def := range defs {
		q := def.For(uid)
		snap, err := o.deps.Store.CachedRead(ctx, q)
		if err != nil {
			if !errors.Is(err, remote.ErrCacheMiss) {
				log.Warn().Err(err).Str("query", q.String()).Msg("Cached read failed")
			}
			continue
		}
		snaps = append(snaps, snap)
	}
	return snaps
}

func (o *Orchestrator) loadFilters(ctx context.Context, uid string, log zerolog.Logger) {
	if o.deps.Filters == nil {
		return
	}
	programs, err := o.deps.Filters.List(ctx, uid)
	o.applyOwned(uid, func(st domain.State) (domain.State, error) {
		if err != nil {
			st.FiltersError = err.Error()
			return st, nil
		}
		st.Filters = programs
		st.FiltersError = ""
		return st, nil
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to load filter programs")
	}
}

// networkPass refreshes every query from the server, materializes recurring
// transactions against the refreshed state and checks the backup schedule.
// Connectivity is checked once; offline the pass does nothing else.
func (o *Orchestrator) networkPass(ctx context.Context, s *session, log zerolog.Logger) error {
	online := o.deps.Network == nil || o.deps.Network.Online()
	o.applyOwned(s.uid, func(st domain.State) (domain.State, error) {
		st.Online = online
		return st, nil
	})
	if !online {
		log.Info().Msg("Offline, serving cached data")
		return nil
	}

	snaps := make([]remote.Snapshot, 0, len(replica.Queries()))
	for _, def := range replica.Queries() {
		q := def.For(s.uid)
		snap, err := o.deps.Store.FreshRead(ctx, q)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fmt.Errorf("networkPass: %w", ctxErr)
			}
			log.Warn().Err(err).Str("query", q.String()).Msg("Fresh read failed, keeping cached data")
			return nil
		}
		snaps = append(snaps, snap)
	}

	refreshed, ok := o.applyOwned(s.uid, func(st domain.State) (domain.State, error) {
		applied, err := replica.Apply(st, snaps...)
		if err != nil {
			return st, err
		}
		applied.Loaded = true
		return applied, nil
	})
	if !ok {
		return nil
	}

	if o.deps.Materializer != nil {
		if _, err := o.deps.Materializer.Materialize(ctx, refreshed); err != nil {
			log.Error().Err(err).Msg("Failed to materialize repeating transactions")
			o.applyOwned(s.uid, func(st domain.State) (domain.State, error) {
				st.LastError = MaterializeFailedMessage
				return st, nil
			})
		}
	}

	if o.deps.Backups != nil {
		o.deps.Backups.MaybeBackup(ctx, s.uid, o.state.Snapshot().Serializable())
	}
	return nil
}

func (o *Orchestrator) subscribe(s *session, log zerolog.Logger) error {
	flush := func() { o.flush(s, log) }

	// The quiescence listener goes first so it also covers initial snapshots.
	inSync, err := o.deps.Store.OnSnapshotsInSync(s.ctx, flush)
	switch {
	case errors.Is(err, remote.ErrNoQuiescence):
		s.acc.flushWhenIdle(o.idleFlush, flush)
	case err != nil:
		return fmt.Errorf("subscribe: quiescence listener: %w", err)
	default:
		if !o.track(s, inSync) {
			return nil
		}
	}

	for _, def := range replica.Queries() {
		q := def.For(s.uid)
		sub, err := o.deps.Store.Subscribe(s.ctx, q, s.acc.add)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", q, err)
		}
		if !o.track(s, sub) {
			return nil
		}
	}
	return nil
}

// track records sub on s. When s has already ended sub is stopped instead.
func (o *Orchestrator) track(s *session, sub remote.Subscription) bool {
	o.mu.Lock()
	live := o.session == s
	if live {
		s.subs = append(s.subs, sub)
	}
	o.mu.Unlock()
	if !live {
		sub.Stop()
	}
	return live
}

// flush applies every buffered snapshot as one transition.
func (o *Orchestrator) flush(s *session, log zerolog.Logger) {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	if s.ctx.Err() != nil {
		return
	}
	snaps := s.acc.take()
	if len(snaps) == 0 {
		return
	}
	_, ok := o.applyOwned(s.uid, func(st domain.State) (domain.State, error) {
		return replica.Apply(st, snaps...)
	})
	if !ok {
		return
	}
	n := 0
	for _, snap := range snaps {
		n += len(snap.Changes)
	}
	log.Debug().Int("snapshots", len(snaps)).Int("changes", n).Msg("Applied live changes")
}

// applyOwned runs fn as one transition if uid is still the signed-in user.
// Reducer failures leave the replica unchanged and are recorded as LastError.
func (o *Orchestrator) applyOwned(uid string, fn func(domain.State) (domain.State, error)) (domain.State, bool) {
	var stale bool
	next, err := o.state.Update(func(st domain.State) (domain.State, error) {
		if st.UID != uid {
			stale = true
			return st, errStale
		}
		return fn(st)
	})
	if stale {
		return next, false
	}
	if err != nil {
		o.log.Error().Err(err).Str("uid", uid).Msg("Failed to apply changes")
		_, _ = o.state.Update(func(st domain.State) (domain.State, error) {
			if st.UID != uid {
				return st, errStale
			}
			st.LastError = err.Error()
			return st, nil
		})
		return next, false
	}
	return next, true
}

var errStale = errors.New("session ended")
