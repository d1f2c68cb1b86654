package api

import (
	"net/http"

	"github.com/quorumlabs/identity/internal/api/helpers"
	"github.com/quorumlabs/identity/internal/storage"
)

// HealthCheck reports liveness plus storage reachability.
func HealthCheck(store storage.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context()); err != nil {
			helpers.RespondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "degraded",
				"reason": "storage unreachable",
			})
			return
		}
		helpers.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
