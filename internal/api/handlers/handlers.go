// Package handlers exposes the sync engine over HTTP.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-sync/internal/api/middleware"
	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/dvloznov/finance-sync/internal/engine"
	"github.com/dvloznov/finance-sync/internal/filters"
	"github.com/dvloznov/finance-sync/internal/gcs"
	"github.com/dvloznov/finance-sync/internal/impexp"
	"github.com/dvloznov/finance-sync/internal/jobs"
)

// maxUploadBytes bounds import bodies.
const maxUploadBytes = 32 << 20

// statusFor maps intent errors to HTTP status codes.
func statusFor(err error) int {
	var ve *impexp.ValidationError
	switch {
	case errors.Is(err, domain.ErrNoUserID):
		return http.StatusUnauthorized
	case errors.Is(err, engine.ErrNotFound),
		errors.Is(err, gcs.ErrObjectNotFound),
		errors.Is(err, jobs.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrDuplicateTag):
		return http.StatusConflict
	case errors.Is(err, engine.ErrInvalidInput),
		errors.Is(err, domain.ErrUnknownRepeating),
		errors.Is(err, filters.ErrInvalidName),
		errors.Is(err, filters.ErrInvalidProgram),
		errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUserDataNotLoaded),
		errors.Is(err, engine.ErrStorageDisabled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeFailure reports err to the client. Server side failures are logged and
// their details are not exposed.
func writeFailure(w http.ResponseWriter, log zerolog.Logger, err error, msg string) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg(msg)
		middleware.WriteError(w, status, msg)
		return
	}
	var ve *impexp.ValidationError
	if errors.As(err, &ve) {
		middleware.WriteJSON(w, status, map[string]any{"error": ve.Error(), "row": ve.Row, "field": ve.Field})
		return
	}
	middleware.WriteError(w, status, err.Error())
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}
