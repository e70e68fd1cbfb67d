package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/lunahub/agent-gateway/internal/access"
	"github.com/lunahub/agent-gateway/internal/db"
	"github.com/lunahub/agent-gateway/internal/db/models"
	"github.com/lunahub/agent-gateway/internal/proxy/middleware"
	"github.com/lunahub/agent-gateway/internal/relay"
)

// agentView is the public shape of an agent. It never carries the endpoint
// configuration.
type agentView struct {
	ID           uint      `json:"id"`
	Name         string    `json:"name"`
	Icon         string    `json:"icon"`
	Description  string    `json:"description"`
	Category     string    `json:"category"`
	TierRequired string    `json:"tier_required"`
	Status       string    `json:"status"`
	SortOrder    int       `json:"sort_order"`
	CreatedAt    time.Time `json:"created_at"`
	CanAccess    bool      `json:"can_access"`
}

func newAgentView(a *models.Agent, user *models.User) agentView {
	return agentView{
		ID:           a.ID,
		Name:         a.Name,
		Icon:         a.Icon,
		Description:  a.Description,
		Category:     a.Category,
		TierRequired: a.TierRequired,
		Status:       a.Status,
		SortOrder:    a.SortOrder,
		CreatedAt:    a.CreatedAt,
		CanAccess:    access.CanAccess(user, a),
	}
}

type historyResponse struct {
	Messages []models.ChatMessage `json:"messages"`
}

type chatRequest struct {
	Message string `json:"message"`
}

// ListAgentsHandler lists the catalog with per-caller access flags.
func ListAgentsHandler(store *db.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agents, err := store.ListAgents(r.Context())
		if err != nil {
			internalError(w, r, err, "failed to list agents")
			return
		}
		user := middleware.UserFromContext(r.Context())
		views := make([]agentView, 0, len(agents))
		for i := range agents {
			views = append(views, newAgentView(&agents[i], user))
		}
		writeJSON(w, http.StatusOK, views)
	}
}

// GetAgentHandler returns one agent.
func GetAgentHandler(store *db.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		agent, err := store.GetAgent(r.Context(), id)
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, http.StatusNotFound, "agent not found")
			return
		}
		if err != nil {
			internalError(w, r, err, "failed to load agent")
			return
		}
		writeJSON(w, http.StatusOK, newAgentView(agent, middleware.UserFromContext(r.Context())))
	}
}

// HistoryHandler lists the caller's turns with an agent, oldest first.
func HistoryHandler(store *db.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		if _, err := store.GetAgent(r.Context(), id); err != nil {
			if errors.Is(err, db.ErrNotFound) {
				writeError(w, http.StatusNotFound, "agent not found")
				return
			}
			internalError(w, r, err, "failed to load agent")
			return
		}

		user := middleware.UserFromContext(r.Context())
		turns, err := store.ListTurns(r.Context(), user.ID, id)
		if err != nil {
			internalError(w, r, err, "failed to list history")
			return
		}
		if turns == nil {
			turns = []models.ChatMessage{}
		}
		writeJSON(w, http.StatusOK, historyResponse{Messages: turns})
	}
}

// ClearHistoryHandler deletes the caller's turns with an agent.
func ClearHistoryHandler(store *db.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		user := middleware.UserFromContext(r.Context())
		if _, err := store.DeleteTurns(r.Context(), user.ID, id); err != nil {
			internalError(w, r, err, "failed to clear history")
			return
		}
		writeJSON(w, http.StatusOK, messageResponse{Message: "chat history cleared"})
	}
}

// ChatHandler relays one message to the agent and streams the reply as SSE.
// Authorization failures are plain JSON errors; once the stream is open,
// failures arrive as in-stream error events.
func ChatHandler(rl *relay.Relay) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		var req chatRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		call, err := rl.Prepare(r.Context(), middleware.UserFromContext(r.Context()), id, req.Message)
		if err != nil {
			var authErr *relay.AuthorizationError
			if errors.As(err, &authErr) {
				writeError(w, authErr.Status, authErr.Message)
				return
			}
			internalError(w, r, err, "failed to start chat")
			return
		}

		call.Run(r.Context(), newSSEWriter(w))
	}
}
