package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/lunahub/agent-gateway/internal/catalog"
	"github.com/lunahub/agent-gateway/internal/db"
	"github.com/lunahub/agent-gateway/internal/db/models"
)

// agentAdminView includes the endpoint configuration.
type agentAdminView struct {
	ID           uint      `json:"id"`
	Name         string    `json:"name"`
	Icon         string    `json:"icon"`
	Description  string    `json:"description"`
	Category     string    `json:"category"`
	APIEndpoint  string    `json:"api_endpoint"`
	APIToken     string    `json:"api_token"`
	ProjectID    string    `json:"project_id"`
	TierRequired string    `json:"tier_required"`
	Status       string    `json:"status"`
	SortOrder    int       `json:"sort_order"`
	CreatedAt    time.Time `json:"created_at"`
}

func newAgentAdminView(a *models.Agent) agentAdminView {
	return agentAdminView{
		ID:           a.ID,
		Name:         a.Name,
		Icon:         a.Icon,
		Description:  a.Description,
		Category:     a.Category,
		APIEndpoint:  a.APIEndpoint,
		APIToken:     a.APIToken,
		ProjectID:    a.ProjectID,
		TierRequired: a.TierRequired,
		Status:       a.Status,
		SortOrder:    a.SortOrder,
		CreatedAt:    a.CreatedAt,
	}
}

// agentRequest serves both create and partial update; nil fields are unset.
type agentRequest struct {
	Name         *string `json:"name"`
	Icon         *string `json:"icon"`
	Description  *string `json:"description"`
	Category     *string `json:"category"`
	APIEndpoint  *string `json:"api_endpoint"`
	APIToken     *string `json:"api_token"`
	ProjectID    *string `json:"project_id"`
	TierRequired *string `json:"tier_required"`
	Status       *string `json:"status"`
	SortOrder    *int    `json:"sort_order"`
}

// fields returns the set columns, validated.
func (req agentRequest) fields() (map[string]any, error) {
	out := map[string]any{}
	setString := func(col string, v *string, required bool) error {
		if v == nil {
			return nil
		}
		s := strings.TrimSpace(*v)
		if required && s == "" {
			return errors.New(col + " must not be empty")
		}
		out[col] = s
		return nil
	}
	for _, f := range []struct {
		col      string
		v        *string
		required bool
	}{
		{"name", req.Name, true},
		{"icon", req.Icon, false},
		{"description", req.Description, false},
		{"category", req.Category, true},
		{"api_endpoint", req.APIEndpoint, true},
		{"api_token", req.APIToken, true},
		{"project_id", req.ProjectID, true},
		{"tier_required", req.TierRequired, true},
		{"status", req.Status, true},
	} {
		if err := setString(f.col, f.v, f.required); err != nil {
			return nil, err
		}
	}
	if req.SortOrder != nil {
		out["sort_order"] = *req.SortOrder
	}

	if c, ok := out["category"]; ok && c != models.CategoryGeneral && c != models.CategoryCustom {
		return nil, errors.New("category must be general or custom")
	}
	if s, ok := out["status"]; ok && s != models.StatusActive && s != models.StatusComingSoon {
		return nil, errors.New("status must be active or coming_soon")
	}
	if t, ok := out["tier_required"]; ok && !validTier(t.(string)) {
		return nil, errors.New("tier_required must be guest, 365 or 3980")
	}
	if p, ok := out["project_id"]; ok {
		if err := catalog.ValidateProjectID(p.(string)); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func validTier(t string) bool {
	return t == models.TierGuest || t == models.TierMember || t == models.TierPremium
}

// AdminListAgentsHandler lists agents with their full configuration.
func AdminListAgentsHandler(store *db.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agents, err := store.ListAgents(r.Context())
		if err != nil {
			internalError(w, r, err, "failed to list agents")
			return
		}
		views := make([]agentAdminView, 0, len(agents))
		for i := range agents {
			views = append(views, newAgentAdminView(&agents[i]))
		}
		writeJSON(w, http.StatusOK, views)
	}
}

// AdminCreateAgentHandler adds an agent.
func AdminCreateAgentHandler(store *db.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req agentRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.Name == nil || req.APIEndpoint == nil || req.APIToken == nil || req.ProjectID == nil {
			writeError(w, http.StatusBadRequest, "name, api_endpoint, api_token and project_id are required")
			return
		}
		fields, err := req.fields()
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		agent := &models.Agent{
			Name:         fields["name"].(string),
			Icon:         "🤖",
			Category:     models.CategoryGeneral,
			APIEndpoint:  fields["api_endpoint"].(string),
			APIToken:     fields["api_token"].(string),
			ProjectID:    fields["project_id"].(string),
			TierRequired: models.TierMember,
			Status:       models.StatusActive,
		}
		if v, ok := fields["icon"].(string); ok && v != "" {
			agent.Icon = v
		}
		if v, ok := fields["description"].(string); ok {
			agent.Description = v
		}
		if v, ok := fields["category"].(string); ok {
			agent.Category = v
		}
		if v, ok := fields["tier_required"].(string); ok {
			agent.TierRequired = v
		}
		if v, ok := fields["status"].(string); ok {
			agent.Status = v
		}
		if v, ok := fields["sort_order"].(int); ok {
			agent.SortOrder = v
		}

		if err := store.CreateAgent(r.Context(), agent); err != nil {
			internalError(w, r, err, "failed to create agent")
			return
		}
		writeJSON(w, http.StatusOK, newAgentAdminView(agent))
	}
}

// AdminUpdateAgentHandler applies a partial update.
func AdminUpdateAgentHandler(store *db.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		var req agentRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		fields, err := req.fields()
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		agent, err := store.UpdateAgent(r.Context(), id, fields)
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, http.StatusNotFound, "agent not found")
			return
		}
		if err != nil {
			internalError(w, r, err, "failed to update agent")
			return
		}
		writeJSON(w, http.StatusOK, newAgentAdminView(agent))
	}
}

// AdminDeleteAgentHandler removes an agent.
func AdminDeleteAgentHandler(store *db.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		err := store.DeleteAgent(r.Context(), id)
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, http.StatusNotFound, "agent not found")
			return
		}
		if err != nil {
			internalError(w, r, err, "failed to delete agent")
			return
		}
		writeJSON(w, http.StatusOK, messageResponse{Message: "agent deleted"})
	}
}

// AdminListUsersHandler lists every account.
func AdminListUsersHandler(store *db.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		users, err := store.ListUsers(r.Context())
		if err != nil {
			internalError(w, r, err, "failed to list users")
			return
		}
		if users == nil {
			users = []models.User{}
		}
		writeJSON(w, http.StatusOK, users)
	}
}

type userUpdateRequest struct {
	Tier         *string    `json:"tier"`
	TierExpireAt *time.Time `json:"tier_expire_at"`
	BindedAgents *string    `json:"binded_agents"`
	IsActive     *bool      `json:"is_active"`
}

// AdminUpdateUserHandler changes tier, expiry, bound agents or activation.
func AdminUpdateUserHandler(store *db.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		var req userUpdateRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		fields := map[string]any{}
		if req.Tier != nil {
			if !validTier(*req.Tier) {
				writeError(w, http.StatusBadRequest, "tier must be guest, 365 or 3980")
				return
			}
			fields["tier"] = *req.Tier
		}
		if req.TierExpireAt != nil {
			fields["tier_expire_at"] = req.TierExpireAt.UTC()
		}
		if req.BindedAgents != nil {
			var ids []uint
			if err := json.Unmarshal([]byte(*req.BindedAgents), &ids); err != nil {
				writeError(w, http.StatusBadRequest, "binded_agents must be a JSON array of agent ids")
				return
			}
			fields["binded_agents"] = *req.BindedAgents
		}
		if req.IsActive != nil {
			fields["is_active"] = *req.IsActive
		}

		user, err := store.UpdateUser(r.Context(), id, fields)
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		if err != nil {
			internalError(w, r, err, "failed to update user")
			return
		}
		writeJSON(w, http.StatusOK, user)
	}
}
