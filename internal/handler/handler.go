package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/lifecycle"
	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/recurrence"
	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeTransitionError maps controller failures to HTTP statuses. Validation
// failures are caught in the handlers before the controller runs, so what
// reaches here is conflicts, missing records, or genuine server trouble.
func writeTransitionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "reminder not found")
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, "version conflict, reload and retry")
	case errors.Is(err, lifecycle.ErrNotScheduled):
		writeError(w, http.StatusConflict, "reminder is no longer scheduled")
	case errors.Is(err, lifecycle.ErrNoOccurrence):
		writeError(w, http.StatusBadRequest, "recurrence produces no occurrence")
	case errors.Is(err, recurrence.ErrInvalidRule):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
