package handlers

import (
	"log/slog"
	"net/http"

	"marketchat/internal/auth"
	"marketchat/internal/notify"
)

func ListNotifications(svc *notify.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := auth.UserID(r.Context())
		list, err := svc.UnreadForUser(r.Context(), userID)
		if err != nil {
			slog.Error("failed to list notifications", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func MarkNotificationsRead(svc *notify.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := auth.UserID(r.Context())
		if err := svc.MarkAllRead(r.Context(), userID); err != nil {
			slog.Error("failed to mark notifications read", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "read"})
	}
}
