// Package engine is the intent surface of the sync engine. Intents read the
// replica, build records and submit them to the write path; the replica only
// changes when the resulting remote changes come back through the orchestrator.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-sync/internal/backup"
	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/dvloznov/finance-sync/internal/filters"
	"github.com/dvloznov/finance-sync/internal/remote"
	"github.com/dvloznov/finance-sync/internal/syncer"
)

var (
	// ErrNotFound is returned when an intent names a record the replica does not hold.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidInput is returned for intents with unusable arguments.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDuplicateTag is returned when a tag name is already taken.
	ErrDuplicateTag = errors.New("tag name already exists")
)

// Engine executes user intents for the signed-in user.
type Engine struct {
	orch    *syncer.Orchestrator
	writer  remote.Writer
	backups *backup.Scheduler
	filters *filters.Service
	newID   func() string
	now     func() time.Time
	log     zerolog.Logger
}

// New creates an Engine. backups and filters may be nil when file storage is
// not configured; the corresponding intents then fail.
func New(orch *syncer.Orchestrator, writer remote.Writer, backups *backup.Scheduler, fs *filters.Service, log zerolog.Logger) *Engine {
	return &Engine{
		orch:    orch,
		writer:  writer,
		backups: backups,
		filters: fs,
		newID:   func() string { return uuid.New().String() },
		now:     time.Now,
		log:     log,
	}
}

// WithIDs overrides id generation.
func (e *Engine) WithIDs(newID func() string) *Engine {
	e.newID = newID
	return e
}

// WithClock overrides the clock.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// SignIn starts a session for uid.
func (e *Engine) SignIn(ctx context.Context, uid string) error {
	return e.orch.SignIn(ctx, uid)
}

// SignOut ends the current session.
func (e *Engine) SignOut() {
	e.orch.SignOut()
}

// Resync refreshes the replica from the network.
func (e *Engine) Resync(ctx context.Context) error {
	return e.record(e.orch.Resync(ctx))
}

// State returns a read-only snapshot of the replica.
func (e *Engine) State() domain.State {
	return e.orch.State().Snapshot()
}

// Status returns the sign-in status.
func (e *Engine) Status() domain.SignInStatus {
	return e.State().Status
}

// LastError returns the last error recorded for the user.
func (e *Engine) LastError() string {
	return e.State().LastError
}

// Subscribe calls fn with every new replica snapshot.
func (e *Engine) Subscribe(fn func(domain.State)) (cancel func()) {
	return e.orch.State().Subscribe(fn)
}

// ClearError removes the recorded error.
func (e *Engine) ClearError() {
	uid := e.State().UID
	_, _ = e.orch.State().Update(func(s domain.State) (domain.State, error) {
		if s.UID != uid || s.LastError == "" {
			return s, errors.New("nothing to clear")
		}
		s.LastError = ""
		return s, nil
	})
}

// session returns the current state and fails when nobody is signed in.
func (e *Engine) session() (domain.State, error) {
	s := e.State()
	if s.UID == "" {
		return s, domain.ErrNoUserID
	}
	return s, nil
}

// record stores err as the user visible error and returns it unchanged.
func (e *Engine) record(err error) error {
	if err == nil {
		return nil
	}
	uid := e.State().UID
	_, _ = e.orch.State().Update(func(s domain.State) (domain.State, error) {
		if uid == "" || s.UID != uid {
			return s, errors.New("session ended")
		}
		s.LastError = err.Error()
		return s, nil
	})
	e.log.Warn().Err(err).Str("uid", uid).Msg("Intent failed")
	return err
}

func (e *Engine) submit(ctx context.Context, ops []remote.WriteOp) error {
	if len(ops) == 0 {
		return nil
	}
	if err := e.writer.Submit(ctx, ops); err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	return nil
}
