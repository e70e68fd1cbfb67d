package handlers

import (
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/lunahub/agent-gateway/internal/auth/credential"
	"github.com/lunahub/agent-gateway/internal/db"
	"github.com/lunahub/agent-gateway/internal/db/models"
	"github.com/lunahub/agent-gateway/internal/proxy/middleware"
)

const (
	maxPhoneLen       = 20
	minPasswordLength = 6
)

type credentialsRequest struct {
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

type registerResponse struct {
	UserID uint   `json:"user_id"`
	Phone  string `json:"phone"`
	Tier   string `json:"tier"`
}

type tokenResponse struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	User        *models.User `json:"user"`
}

// RegisterHandler creates a guest account.
func RegisterHandler(store *db.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req credentialsRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		phone := strings.TrimSpace(req.Phone)
		if phone == "" || len(phone) > maxPhoneLen {
			writeError(w, http.StatusBadRequest, "phone is required and must be at most 20 characters")
			return
		}
		if utf8.RuneCountInString(req.Password) < minPasswordLength {
			writeError(w, http.StatusBadRequest, "password must be at least 6 characters")
			return
		}

		_, err := store.GetUserByPhone(r.Context(), phone)
		if err == nil {
			writeError(w, http.StatusBadRequest, "phone number already registered")
			return
		}
		if !errors.Is(err, db.ErrNotFound) {
			internalError(w, r, err, "failed to look up phone")
			return
		}

		hash, err := credential.HashPassword(req.Password)
		if err != nil {
			internalError(w, r, err, "failed to hash password")
			return
		}
		user := &models.User{
			Phone:        phone,
			PasswordHash: hash,
			Tier:         models.TierGuest,
			IsActive:     true,
		}
		if err := store.CreateUser(r.Context(), user); err != nil {
			internalError(w, r, err, "failed to create user")
			return
		}

		writeJSON(w, http.StatusOK, registerResponse{UserID: user.ID, Phone: user.Phone, Tier: user.Tier})
	}
}

// LoginHandler exchanges phone and password for a bearer token.
func LoginHandler(store *db.Store, issuer *credential.Issuer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req credentialsRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		user, err := store.GetUserByPhone(r.Context(), strings.TrimSpace(req.Phone))
		if err != nil && !errors.Is(err, db.ErrNotFound) {
			internalError(w, r, err, "failed to load user")
			return
		}
		if user == nil || !credential.CheckPassword(user.PasswordHash, req.Password) {
			writeError(w, http.StatusUnauthorized, "wrong phone number or password")
			return
		}
		if !user.IsActive {
			writeError(w, http.StatusForbidden, "account is disabled")
			return
		}

		token, err := issuer.Issue(user.ID)
		if err != nil {
			internalError(w, r, err, "failed to issue token")
			return
		}
		writeJSON(w, http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer", User: user})
	}
}

// MeHandler returns the authenticated account.
func MeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, middleware.UserFromContext(r.Context()))
	}
}
