package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/lunahub/agent-gateway/internal/auth/credential"
	"github.com/lunahub/agent-gateway/internal/db"
	"github.com/lunahub/agent-gateway/internal/db/models"
	"github.com/lunahub/agent-gateway/internal/logging"
)

type userKey struct{}

// TokenVerifier resolves a bearer token to a user ID.
type TokenVerifier interface {
	Verify(token string) (uint, error)
}

// UserLoader loads the account behind a verified token.
type UserLoader interface {
	GetUserByID(ctx context.Context, id uint) (*models.User, error)
}

// WithUser stores the authenticated user in ctx.
func WithUser(ctx context.Context, u *models.User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// UserFromContext returns the authenticated user, or nil.
func UserFromContext(ctx context.Context) *models.User {
	u, _ := ctx.Value(userKey{}).(*models.User)
	return u
}

// RequireUser rejects requests without a valid bearer token for an active
// account.
func RequireUser(v TokenVerifier, users UserLoader) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := credential.ExtractBearer(r.Header.Get("Authorization"))
			if !ok {
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeDetail(w, http.StatusUnauthorized, "not authenticated")
				return
			}
			userID, err := v.Verify(token)
			if err != nil {
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeDetail(w, http.StatusUnauthorized, "invalid authentication credentials")
				return
			}
			user, err := users.GetUserByID(r.Context(), userID)
			if errors.Is(err, db.ErrNotFound) {
				writeDetail(w, http.StatusUnauthorized, "user not found")
				return
			}
			if err != nil {
				logging.FromContext(r.Context()).WithError(err).Error("failed to load user")
				writeDetail(w, http.StatusInternalServerError, "internal error")
				return
			}
			if !user.IsActive {
				writeDetail(w, http.StatusForbidden, "account is disabled")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// OptionalUser attaches the user when a valid token for an active account is
// present and lets every request through.
func OptionalUser(v TokenVerifier, users UserLoader) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token, ok := credential.ExtractBearer(r.Header.Get("Authorization")); ok {
				if userID, err := v.Verify(token); err == nil {
					if user, err := users.GetUserByID(r.Context(), userID); err == nil && user.IsActive {
						r = r.WithContext(WithUser(r.Context(), user))
					}
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin must run after RequireUser.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u := UserFromContext(r.Context())
		if u == nil {
			writeDetail(w, http.StatusUnauthorized, "not authenticated")
			return
		}
		if !u.IsAdmin {
			writeDetail(w, http.StatusForbidden, "admin privileges required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}
