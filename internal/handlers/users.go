package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"marketchat/internal/auth"
	"marketchat/internal/database"
)

// UpdatePushToken registers or refreshes the caller's device push token.
// An empty token clears the registration.
func UpdatePushToken(store *database.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := auth.UserID(r.Context())

		var req struct {
			Token string `json:"token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		req.Token = strings.TrimSpace(req.Token)

		var err error
		if req.Token == "" {
			err = store.ClearPushToken(r.Context(), userID)
		} else {
			err = store.UpdatePushToken(r.Context(), userID, req.Token)
		}
		if err != nil {
			slog.Error("failed to update push token", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
