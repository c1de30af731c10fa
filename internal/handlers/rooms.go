package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"marketchat/internal/auth"
	"marketchat/internal/database"
)

func ListRooms(store *database.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := auth.UserID(r.Context())
		rooms, err := store.RoomsForUser(r.Context(), userID)
		if err != nil {
			slog.Error("failed to list rooms", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, rooms)
	}
}

// StartConversation opens (or reopens) the conversation between the
// requester and a post's author. At most one room exists per
// (post, requester); a requester who left earlier is reactivated on the
// existing room instead of getting a duplicate.
func StartConversation(store *database.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := auth.UserID(r.Context())

		var req struct {
			PostID int64 `json:"post_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PostID <= 0 {
			writeError(w, http.StatusBadRequest, "post_id is required")
			return
		}

		post, err := store.PostByID(r.Context(), req.PostID)
		if err != nil {
			slog.Error("failed to get post", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if post == nil {
			writeError(w, http.StatusNotFound, "post not found")
			return
		}
		if post.AuthorID == userID {
			writeError(w, http.StatusBadRequest, "cannot start a conversation on your own post")
			return
		}

		room, err := store.RoomByPostAndRequester(r.Context(), post.ID, userID)
		if err != nil {
			slog.Error("failed to look up room", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		if room == nil {
			room, err = store.CreateRoom(r.Context(), post.ID, post.AuthorID, userID)
			if err != nil {
				slog.Error("failed to create room", "error", err)
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}
			writeJSON(w, http.StatusCreated, room)
			return
		}

		if err := store.ReactivateMembership(r.Context(), room.ID, userID); err != nil {
			slog.Error("failed to reactivate membership", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, room)
	}
}

// LeaveRoom flips the caller's membership inactive. History stays.
func LeaveRoom(store *database.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := auth.UserID(r.Context())
		roomID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
		if err != nil || roomID <= 0 {
			writeError(w, http.StatusBadRequest, "invalid room id")
			return
		}

		m, err := store.Membership(r.Context(), roomID, userID)
		if err != nil {
			slog.Error("failed to get membership", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if m == nil {
			writeError(w, http.StatusNotFound, "room not found")
			return
		}

		if err := store.DeactivateMembership(r.Context(), roomID, userID); err != nil {
			slog.Error("failed to leave room", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "left"})
	}
}
