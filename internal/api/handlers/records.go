package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-sync/internal/api/middleware"
	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/dvloznov/finance-sync/internal/engine"
)

// Records is the part of the engine that edits transactions, tags and settings.
type Records interface {
	State() domain.State
	AddTransaction(ctx context.Context, in engine.TransactionInput) (domain.Transaction, error)
	UpdateTransaction(ctx context.Context, id string, in engine.TransactionInput) (domain.Transaction, error)
	DeleteTransactions(ctx context.Context, ids ...string) error
	CreateTag(ctx context.Context, name string) (domain.Tag, error)
	UpdateTag(ctx context.Context, tag domain.Tag) error
	DeleteTags(ctx context.Context, ids ...string) error
	SetMainCurrency(ctx context.Context, c domain.Currency) error
	SetDefaultCurrency(ctx context.Context, c domain.Currency) error
}

// TransactionsHandler handles transaction endpoints.
type TransactionsHandler struct {
	engine Records
	log    zerolog.Logger
}

// NewTransactionsHandler creates a new transactions handler.
func NewTransactionsHandler(e Records, log zerolog.Logger) *TransactionsHandler {
	return &TransactionsHandler{engine: e, log: log}
}

// ListTransactions handles GET /api/transactions
//
// start_date and end_date (YYYY-MM-DD, inclusive) narrow the result.
func (h *TransactionsHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var from, to time.Time
	var err error

	if s := query.Get("start_date"); s != "" {
		if from, err = time.Parse(time.DateOnly, s); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid start_date format")
			return
		}
	}
	if s := query.Get("end_date"); s != "" {
		if to, err = time.Parse(time.DateOnly, s); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid end_date format")
			return
		}
		to = to.AddDate(0, 0, 1)
	}

	st := h.engine.State()
	out := make([]domain.Transaction, 0, len(st.Transactions))
	for _, tx := range st.Transactions {
		if !from.IsZero() && tx.DateTime.Before(from) {
			continue
		}
		if !to.IsZero() && !tx.DateTime.Before(to) {
			continue
		}
		out = append(out, tx)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DateTime.Equal(out[j].DateTime) {
			return out[i].DateTime.Before(out[j].DateTime)
		}
		return out[i].ID < out[j].ID
	})
	middleware.WriteJSON(w, http.StatusOK, out)
}

// CreateTransaction handles POST /api/transactions
func (h *TransactionsHandler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var in engine.TransactionInput
	if !decodeBody(w, r, &in) {
		return
	}
	tx, err := h.engine.AddTransaction(r.Context(), in)
	if err != nil {
		writeFailure(w, h.log, err, "Failed to add transaction")
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, tx)
}

// UpdateTransaction handles PUT /api/transactions/{id}
func (h *TransactionsHandler) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	var in engine.TransactionInput
	if !decodeBody(w, r, &in) {
		return
	}
	tx, err := h.engine.UpdateTransaction(r.Context(), r.PathValue("id"), in)
	if err != nil {
		writeFailure(w, h.log, err, "Failed to update transaction")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, tx)
}

// DeleteTransaction handles DELETE /api/transactions/{id}
func (h *TransactionsHandler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	h.deleteTransactions(w, r, []string{r.PathValue("id")})
}

// DeleteTransactions handles POST /api/transactions/delete with {"ids": [...]}.
func (h *TransactionsHandler) DeleteTransactions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	h.deleteTransactions(w, r, req.IDs)
}

func (h *TransactionsHandler) deleteTransactions(w http.ResponseWriter, r *http.Request, ids []string) {
	if err := h.engine.DeleteTransactions(r.Context(), ids...); err != nil {
		writeFailure(w, h.log, err, "Failed to delete transactions")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TagsHandler handles tag endpoints.
type TagsHandler struct {
	engine Records
	log    zerolog.Logger
}

// NewTagsHandler creates a new tags handler.
func NewTagsHandler(e Records, log zerolog.Logger) *TagsHandler {
	return &TagsHandler{engine: e, log: log}
}

// ListTags handles GET /api/tags
func (h *TagsHandler) ListTags(w http.ResponseWriter, r *http.Request) {
	st := h.engine.State()
	tags := make([]domain.Tag, 0, len(st.Tags))
	for _, t := range st.Tags {
		tags = append(tags, t)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].Name < tags[j].Name })

	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"tags":  tags,
		"count": len(tags),
	})
}

// CreateTag handles POST /api/tags
func (h *TagsHandler) CreateTag(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	tag, err := h.engine.CreateTag(r.Context(), req.Name)
	if err != nil {
		writeFailure(w, h.log, err, "Failed to create tag")
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, tag)
}

// UpdateTag handles PUT /api/tags/{id}
func (h *TagsHandler) UpdateTag(w http.ResponseWriter, r *http.Request) {
	var tag domain.Tag
	if !decodeBody(w, r, &tag) {
		return
	}
	tag.ID = r.PathValue("id")
	if err := h.engine.UpdateTag(r.Context(), tag); err != nil {
		writeFailure(w, h.log, err, "Failed to update tag")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteTag handles DELETE /api/tags/{id}
func (h *TagsHandler) DeleteTag(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.DeleteTags(r.Context(), r.PathValue("id")); err != nil {
		writeFailure(w, h.log, err, "Failed to delete tag")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ProfileHandler handles settings endpoints.
type ProfileHandler struct {
	engine Records
	log    zerolog.Logger
}

// NewProfileHandler creates a new profile handler.
func NewProfileHandler(e Records, log zerolog.Logger) *ProfileHandler {
	return &ProfileHandler{engine: e, log: log}
}

// GetProfile handles GET /api/profile
func (h *ProfileHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	profile, ok := h.engine.State().CurrentProfile()
	if !ok {
		middleware.WriteError(w, http.StatusNotFound, "Profile not loaded")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, profile)
}

// UpdateSettings handles PUT /api/profile/settings. Either currency may be omitted.
func (h *ProfileHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MainCurrency    domain.Currency `json:"mainCurrency"`
		DefaultCurrency domain.Currency `json:"defaultCurrency"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.MainCurrency == "" && req.DefaultCurrency == "" {
		middleware.WriteError(w, http.StatusBadRequest, "mainCurrency or defaultCurrency is required")
		return
	}
	if req.MainCurrency != "" {
		if err := h.engine.SetMainCurrency(r.Context(), req.MainCurrency); err != nil {
			writeFailure(w, h.log, err, "Failed to update main currency")
			return
		}
	}
	if req.DefaultCurrency != "" {
		if err := h.engine.SetDefaultCurrency(r.Context(), req.DefaultCurrency); err != nil {
			writeFailure(w, h.log, err, "Failed to update default currency")
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
