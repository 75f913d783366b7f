package handlers

import (
	"net/http"
	"time"

	"github.com/dvloznov/finance-sync/internal/api/middleware"
)

// Router groups the handlers served by the API.
type Router struct {
	Session      *SessionHandler
	Transactions *TransactionsHandler
	Tags         *TagsHandler
	Profile      *ProfileHandler
	Files        *FilesHandler
	Jobs         *JobsHandler
}

// Mux registers every route on a new ServeMux. Nil handler groups are skipped.
func (rt Router) Mux() *http.ServeMux {
	mux := http.NewServeMux()

	if h := rt.Session; h != nil {
		mux.HandleFunc("POST /api/session", h.SignIn)
		mux.HandleFunc("DELETE /api/session", h.SignOut)
		mux.HandleFunc("POST /api/session/resync", h.Resync)
		mux.HandleFunc("GET /api/status", h.Status)
		mux.HandleFunc("DELETE /api/status/error", h.ClearError)
		mux.HandleFunc("GET /api/state", h.State)
	}

	if h := rt.Transactions; h != nil {
		mux.HandleFunc("GET /api/transactions", h.ListTransactions)
		mux.HandleFunc("POST /api/transactions", h.CreateTransaction)
		mux.HandleFunc("POST /api/transactions/delete", h.DeleteTransactions)
		mux.HandleFunc("PUT /api/transactions/{id}", h.UpdateTransaction)
		mux.HandleFunc("DELETE /api/transactions/{id}", h.DeleteTransaction)
	}

	if h := rt.Tags; h != nil {
		mux.HandleFunc("GET /api/tags", h.ListTags)
		mux.HandleFunc("POST /api/tags", h.CreateTag)
		mux.HandleFunc("PUT /api/tags/{id}", h.UpdateTag)
		mux.HandleFunc("DELETE /api/tags/{id}", h.DeleteTag)
	}

	if h := rt.Profile; h != nil {
		mux.HandleFunc("GET /api/profile", h.GetProfile)
		mux.HandleFunc("PUT /api/profile/settings", h.UpdateSettings)
	}

	if h := rt.Files; h != nil {
		mux.HandleFunc("POST /api/import", h.Import)
		mux.HandleFunc("GET /api/export", h.Export)
		mux.HandleFunc("POST /api/clear", h.ClearAll)
		mux.HandleFunc("GET /api/backups", h.ListBackups)
		mux.HandleFunc("POST /api/backups", h.CreateBackup)
		mux.HandleFunc("GET /api/backups/{name}", h.GetBackup)
		mux.HandleFunc("DELETE /api/backups/{name}", h.DeleteBackup)
		mux.HandleFunc("GET /api/filters", h.ListFilters)
		mux.HandleFunc("PUT /api/filters/{name}", h.SaveFilter)
		mux.HandleFunc("DELETE /api/filters/{name}", h.DeleteFilter)
		mux.HandleFunc("GET /api/filters/{name}/transactions", h.RunFilter)
	}

	if h := rt.Jobs; h != nil {
		mux.HandleFunc("GET /api/jobs", h.ListJobs)
		mux.HandleFunc("GET /api/jobs/{id}", h.GetJob)
	}

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	return mux
}
