// Package proxy assembles the gateway's HTTP router.
package proxy

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/lunahub/agent-gateway/internal/auth/credential"
	"github.com/lunahub/agent-gateway/internal/db"
	"github.com/lunahub/agent-gateway/internal/metrics"
	"github.com/lunahub/agent-gateway/internal/proxy/handlers"
	"github.com/lunahub/agent-gateway/internal/proxy/middleware"
	"github.com/lunahub/agent-gateway/internal/relay"
)

// Deps are the collaborators the routes need.
type Deps struct {
	Store       *db.Store
	Issuer      *credential.Issuer
	Relay       *relay.Relay
	Metrics     *metrics.Collector
	CORSOrigins []string
}

// NewRouter wires every route.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(d.CORSOrigins))

	requireUser := middleware.RequireUser(d.Issuer, d.Store)
	optionalUser := middleware.OptionalUser(d.Issuer, d.Store)

	r.Get("/health", handlers.HealthHandler(d.Store))
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", handlers.RegisterHandler(d.Store))
			r.Post("/login", handlers.LoginHandler(d.Store, d.Issuer))
			r.With(requireUser).Get("/me", handlers.MeHandler())
		})

		r.Route("/agents", func(r chi.Router) {
			r.With(optionalUser).Get("/", handlers.ListAgentsHandler(d.Store))
			r.With(optionalUser).Get("/{id}", handlers.GetAgentHandler(d.Store))

			r.Group(func(r chi.Router) {
				r.Use(requireUser)
				r.Get("/{id}/history", handlers.HistoryHandler(d.Store))
				r.Delete("/{id}/history", handlers.ClearHistoryHandler(d.Store))
				r.Post("/{id}/chat", handlers.ChatHandler(d.Relay))
			})
		})

		r.With(requireUser).Post("/feedback", handlers.SubmitFeedbackHandler(d.Store))

		r.Route("/admin", func(r chi.Router) {
			r.Use(requireUser)
			r.Use(middleware.RequireAdmin)

			r.Get("/agents", handlers.AdminListAgentsHandler(d.Store))
			r.Post("/agents", handlers.AdminCreateAgentHandler(d.Store))
			r.Put("/agents/{id}", handlers.AdminUpdateAgentHandler(d.Store))
			r.Delete("/agents/{id}", handlers.AdminDeleteAgentHandler(d.Store))

			r.Get("/users", handlers.AdminListUsersHandler(d.Store))
			r.Put("/users/{id}", handlers.AdminUpdateUserHandler(d.Store))

			r.Get("/feedbacks", handlers.AdminListFeedbackHandler(d.Store))
			r.Put("/feedbacks/{id}", handlers.AdminUpdateFeedbackHandler(d.Store))
		})
	})

	return r
}
