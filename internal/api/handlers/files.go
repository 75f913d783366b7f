package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-sync/internal/api/middleware"
	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/dvloznov/finance-sync/internal/engine"
)

// Files is the part of the engine that moves whole datasets in and out.
type Files interface {
	State() domain.State
	Import(ctx context.Context, fileName string, data []byte) (engine.ImportSummary, error)
	Export(format engine.Format) ([]byte, error)
	ClearAll(ctx context.Context) error
	BackupNow(ctx context.Context) (string, error)
	Backups(ctx context.Context) ([]string, error)
	DownloadBackup(ctx context.Context, name string) (domain.SerializableState, error)
	RemoveBackup(ctx context.Context, name string) error
	SaveFilter(ctx context.Context, p domain.FilterProgram) error
	DeleteFilter(ctx context.Context, name string) error
	RunFilter(name string) ([]domain.Transaction, error)
}

// FilesHandler handles import, export, backup and filter endpoints.
type FilesHandler struct {
	engine Files
	now    func() time.Time
	log    zerolog.Logger
}

// NewFilesHandler creates a new files handler.
func NewFilesHandler(e Files, log zerolog.Logger) *FilesHandler {
	return &FilesHandler{engine: e, now: time.Now, log: log}
}

// Import handles POST /api/import?filename=<name>. The body is the raw file;
// its extension selects the format.
func (h *FilesHandler) Import(w http.ResponseWriter, r *http.Request) {
	name := path.Base(r.URL.Query().Get("filename"))
	if name == "." || name == "/" {
		middleware.WriteError(w, http.StatusBadRequest, "filename is required")
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err != nil {
		middleware.WriteError(w, http.StatusRequestEntityTooLarge, "Import file too large")
		return
	}
	summary, err := h.engine.Import(r.Context(), name, data)
	if err != nil {
		writeFailure(w, h.log, err, "Failed to import file")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, summary)
}

// Export handles GET /api/export?format=csv|json
func (h *FilesHandler) Export(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("format")
	if raw == "" {
		raw = string(engine.FormatJSON)
	}
	format, err := engine.ParseFormat(raw)
	if err != nil {
		writeFailure(w, h.log, err, "Invalid format")
		return
	}
	data, err := h.engine.Export(format)
	if err != nil {
		writeFailure(w, h.log, err, "Failed to export")
		return
	}

	contentType := "application/json"
	if format == engine.FormatCSV {
		contentType = "text/csv"
	}
	fileName := fmt.Sprintf("finance-%s.%s", h.now().UTC().Format(time.DateOnly), format)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// ClearAll handles POST /api/clear
func (h *FilesHandler) ClearAll(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.ClearAll(r.Context()); err != nil {
		writeFailure(w, h.log, err, "Failed to clear data")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListBackups handles GET /api/backups
func (h *FilesHandler) ListBackups(w http.ResponseWriter, r *http.Request) {
	names, err := h.engine.Backups(r.Context())
	if err != nil {
		writeFailure(w, h.log, err, "Failed to list backups")
		return
	}
	if names == nil {
		names = []string{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"backups": names,
		"count":   len(names),
	})
}

// CreateBackup handles POST /api/backups
func (h *FilesHandler) CreateBackup(w http.ResponseWriter, r *http.Request) {
	name, err := h.engine.BackupNow(r.Context())
	if err != nil {
		writeFailure(w, h.log, err, "Failed to create backup")
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, map[string]string{"name": name})
}

// GetBackup handles GET /api/backups/{name}
func (h *FilesHandler) GetBackup(w http.ResponseWriter, r *http.Request) {
	st, err := h.engine.DownloadBackup(r.Context(), r.PathValue("name"))
	if err != nil {
		writeFailure(w, h.log, err, "Failed to download backup")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, st)
}

// DeleteBackup handles DELETE /api/backups/{name}
func (h *FilesHandler) DeleteBackup(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.RemoveBackup(r.Context(), r.PathValue("name")); err != nil {
		writeFailure(w, h.log, err, "Failed to remove backup")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListFilters handles GET /api/filters
func (h *FilesHandler) ListFilters(w http.ResponseWriter, r *http.Request) {
	st := h.engine.State()
	programs := st.Filters
	if programs == nil {
		programs = []domain.FilterProgram{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"filters": programs,
		"error":   st.FiltersError,
	})
}

// SaveFilter handles PUT /api/filters/{name} with {"code": "..."}.
func (h *FilesHandler) SaveFilter(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	p := domain.FilterProgram{Name: r.PathValue("name"), Code: req.Code}
	if err := h.engine.SaveFilter(r.Context(), p); err != nil {
		writeFailure(w, h.log, err, "Failed to save filter")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteFilter handles DELETE /api/filters/{name}
func (h *FilesHandler) DeleteFilter(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.DeleteFilter(r.Context(), r.PathValue("name")); err != nil {
		writeFailure(w, h.log, err, "Failed to delete filter")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RunFilter handles GET /api/filters/{name}/transactions
func (h *FilesHandler) RunFilter(w http.ResponseWriter, r *http.Request) {
	txs, err := h.engine.RunFilter(r.PathValue("name"))
	if err != nil {
		writeFailure(w, h.log, err, "Failed to run filter")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, txs)
}
