package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/mgraterol/voznote/internal/storage"
)

const defaultHistoryLimit = 20

// HistoryStore is the read-side of the transcription archive.
type HistoryStore interface {
	History(userID int64, limit int) ([]storage.Transcription, error)
}

// StatusHooks expose live process state to the status endpoint. Nil hooks
// report zero values.
type StatusHooks struct {
	Busy     func() bool
	Warnings func() []string
}

func registerAPIRoutes(mux *http.ServeMux, store HistoryStore, hooks StatusHooks) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("GET /api/history", func(w http.ResponseWriter, r *http.Request) {
		userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "user_id must be an integer")
			return
		}

		limit := defaultHistoryLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			limit, err = strconv.Atoi(raw)
			if err != nil || limit < 1 {
				writeJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
		}

		rows, err := store.History(userID, limit)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("load history: %v", err))
			return
		}
		if rows == nil {
			rows = []storage.Transcription{}
		}
		writeJSON(w, http.StatusOK, rows)
	})

	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		busy := false
		if hooks.Busy != nil {
			busy = hooks.Busy()
		}
		var warnings []string
		if hooks.Warnings != nil {
			warnings = hooks.Warnings()
		}
		if warnings == nil {
			warnings = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"busy": busy, "warnings": warnings})
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
