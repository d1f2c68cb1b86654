package helpers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/quorumlabs/identity/internal/apperr"
)

// RespondJSON writes a JSON response with the given status code.
func RespondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}

// RespondError writes an error response with the given status code and message.
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, map[string]string{
		"error": message,
	})
}

// RespondServiceError maps a service error onto its transport status.
// Operational errors carry a safe message; anything else becomes a generic
// 500 so internals never leak to the client.
func RespondServiceError(w http.ResponseWriter, err error) {
	if kind, ok := apperr.KindOf(err); ok {
		RespondError(w, apperr.HTTPStatus(kind), err.Error())
		return
	}
	slog.Error("unexpected service error", "error", err)
	RespondError(w, http.StatusInternalServerError, "Internal Server Error")
}
