package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/lunahub/agent-gateway/internal/logging"
	"github.com/lunahub/agent-gateway/internal/version"
)

// Pinger checks a backing service.
type Pinger interface {
	Ping(ctx context.Context) error
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// HealthHandler reports liveness and database reachability.
func HealthHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.Ping(ctx); err != nil {
			logging.FromContext(ctx).WithError(err).Warn("health check: database unreachable")
			writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unhealthy", Version: version.Version})
			return
		}
		writeJSON(w, http.StatusOK, healthResponse{Status: "healthy", Version: version.Version})
	}
}
