// Package access decides whether a user may chat with an agent.
package access

import (
	"encoding/json"

	"github.com/lunahub/agent-gateway/internal/db/models"
)

// CanAccess reports whether user may chat with agent.
//
// Guests never can, the premium tier always can. On any other tier a custom
// agent must be in the user's bound list, and a general agent must require
// exactly the user's tier (a literal match, not an ordering).
func CanAccess(user *models.User, agent *models.Agent) bool {
	if user == nil || agent == nil {
		return false
	}
	switch user.Tier {
	case models.TierGuest:
		return false
	case models.TierPremium:
		return true
	}

	if agent.Category == models.CategoryCustom {
		_, bound := BoundAgents(user.BindedAgents)[agent.ID]
		return bound
	}
	return agent.TierRequired == user.Tier
}

// BoundAgents parses the stored JSON list of bound agent IDs. Anything that
// is not a JSON array of non-negative integers yields an empty set.
func BoundAgents(raw string) map[uint]struct{} {
	var ids []uint
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return map[uint]struct{}{}
	}
	set := make(map[uint]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
