package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"marketchat/internal/auth"
	"marketchat/internal/cache"
	"marketchat/internal/chat"
)

// MemberStore answers the active-membership gate for room history reads.
type MemberStore interface {
	IsActiveMember(ctx context.Context, roomID, userID int64) (bool, error)
}

func GetMessages(store MemberStore, svc *chat.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := auth.UserID(r.Context())
		roomID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
		if err != nil || roomID <= 0 {
			writeError(w, http.StatusBadRequest, "invalid room id")
			return
		}

		isMember, err := store.IsActiveMember(r.Context(), roomID, userID)
		if err != nil {
			slog.Error("failed to check membership", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if !isMember {
			writeError(w, http.StatusForbidden, "not a member of this room")
			return
		}

		page := 0
		if pageStr := r.URL.Query().Get("page"); pageStr != "" {
			if p, err := strconv.Atoi(pageStr); err == nil {
				page = p
			}
		}
		size := cache.MaxEntries
		if sizeStr := r.URL.Query().Get("size"); sizeStr != "" {
			if s, err := strconv.Atoi(sizeStr); err == nil && s <= cache.MaxEntries {
				size = s
			}
		}

		messages, err := svc.Messages(r.Context(), roomID, page, size)
		if err != nil {
			if errors.Is(err, chat.ErrInvalidInput) || errors.Is(err, chat.ErrInvalidPage) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			slog.Error("failed to get messages", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		writeJSON(w, http.StatusOK, messages)
	}
}
