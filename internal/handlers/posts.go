package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"marketchat/internal/auth"
	"marketchat/internal/database"
)

func CreatePost(store *database.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := auth.UserID(r.Context())

		var req struct {
			Title string `json:"title"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		req.Title = strings.TrimSpace(req.Title)
		if req.Title == "" || len(req.Title) > 200 {
			writeError(w, http.StatusBadRequest, "title must be between 1 and 200 characters")
			return
		}

		post, err := store.CreatePost(r.Context(), userID, req.Title)
		if err != nil {
			slog.Error("failed to create post", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusCreated, post)
	}
}
