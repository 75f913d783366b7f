package handlers

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-sync/internal/api/middleware"
	"github.com/dvloznov/finance-sync/internal/domain"
)

// Session is the part of the engine that controls the sync session.
type Session interface {
	SignIn(ctx context.Context, uid string) error
	SignOut()
	Resync(ctx context.Context) error
	State() domain.State
	ClearError()
}

// SessionHandler handles sign in, sign out and replica reads.
type SessionHandler struct {
	engine Session
	log    zerolog.Logger
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(e Session, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{engine: e, log: log}
}

// SignIn handles POST /api/session
func (h *SessionHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UID string `json:"uid"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.UID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "uid is required")
		return
	}
	// The session outlives the request.
	if err := h.engine.SignIn(context.WithoutCancel(r.Context()), req.UID); err != nil {
		writeFailure(w, h.log, err, "Failed to sign in")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, statusBody(h.engine.State()))
}

// SignOut handles DELETE /api/session
func (h *SessionHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	h.engine.SignOut()
	w.WriteHeader(http.StatusNoContent)
}

// Resync handles POST /api/session/resync
func (h *SessionHandler) Resync(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Resync(r.Context()); err != nil {
		writeFailure(w, h.log, err, "Failed to resync")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, statusBody(h.engine.State()))
}

// Status handles GET /api/status
func (h *SessionHandler) Status(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, statusBody(h.engine.State()))
}

// State handles GET /api/state
func (h *SessionHandler) State(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, h.engine.State())
}

// ClearError handles DELETE /api/status/error
func (h *SessionHandler) ClearError(w http.ResponseWriter, r *http.Request) {
	h.engine.ClearError()
	w.WriteHeader(http.StatusNoContent)
}

type status struct {
	UID          string              `json:"uid,omitempty"`
	Status       domain.SignInStatus `json:"status"`
	Online       bool                `json:"online"`
	Loaded       bool                `json:"loaded"`
	Transactions int                 `json:"transactions"`
	Tags         int                 `json:"tags"`
	FiltersError string              `json:"filtersError,omitempty"`
	LastError    string              `json:"lastError,omitempty"`
}

func statusBody(s domain.State) status {
	return status{
		UID:          s.UID,
		Status:       s.Status,
		Online:       s.Online,
		Loaded:       s.Loaded,
		Transactions: len(s.Transactions),
		Tags:         len(s.Tags),
		FiltersError: s.FiltersError,
		LastError:    s.LastError,
	}
}
