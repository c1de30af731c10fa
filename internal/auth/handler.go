package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"marketchat/internal/database"
)

type registerRequest struct {
	Nickname string `json:"nickname"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Nickname string `json:"nickname"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string      `json:"token"`
	User  interface{} `json:"user"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func RegisterHandler(store *database.Store, jwtSecret string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		req.Nickname = strings.TrimSpace(req.Nickname)
		req.Email = strings.TrimSpace(req.Email)

		if req.Nickname == "" || req.Email == "" || req.Password == "" {
			writeError(w, http.StatusBadRequest, "nickname, email, and password are required")
			return
		}
		if len(req.Password) < 6 {
			writeError(w, http.StatusBadRequest, "password must be at least 6 characters")
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), 12)
		if err != nil {
			slog.Error("failed to hash password", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		user, err := store.CreateUser(r.Context(), req.Nickname, req.Email, string(hash))
		if err != nil {
			if strings.Contains(err.Error(), "duplicate") {
				writeError(w, http.StatusConflict, "nickname or email already exists")
				return
			}
			slog.Error("failed to create user", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		token, err := GenerateToken(user.ID, user.Nickname, jwtSecret)
		if err != nil {
			slog.Error("failed to generate token", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		writeJSON(w, http.StatusCreated, authResponse{Token: token, User: user})
	}
}

func LoginHandler(store *database.Store, jwtSecret string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		if req.Nickname == "" || req.Password == "" {
			writeError(w, http.StatusBadRequest, "nickname and password are required")
			return
		}

		user, err := store.UserByNickname(r.Context(), req.Nickname)
		if err != nil {
			slog.Error("failed to get user", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if user == nil {
			writeError(w, http.StatusUnauthorized, "invalid nickname or password")
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
			writeError(w, http.StatusUnauthorized, "invalid nickname or password")
			return
		}

		token, err := GenerateToken(user.ID, user.Nickname, jwtSecret)
		if err != nil {
			slog.Error("failed to generate token", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		user.Password = ""
		writeJSON(w, http.StatusOK, authResponse{Token: token, User: user})
	}
}

func MeHandler(store *database.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := UserID(r.Context())
		user, err := store.UserByID(r.Context(), userID)
		if err != nil || user == nil {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		writeJSON(w, http.StatusOK, user)
	}
}
