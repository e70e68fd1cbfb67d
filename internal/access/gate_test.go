package access

import (
	"testing"

	"github.com/lunahub/agent-gateway/internal/db/models"
)

func TestCanAccess(t *testing.T) {
	general365 := &models.Agent{ID: 1, Category: models.CategoryGeneral, TierRequired: models.TierMember}
	general3980 := &models.Agent{ID: 2, Category: models.CategoryGeneral, TierRequired: models.TierPremium}
	custom := &models.Agent{ID: 3, Category: models.CategoryCustom, TierRequired: models.TierMember}

	guest := &models.User{Tier: models.TierGuest, BindedAgents: "[3]"}
	premium := &models.User{Tier: models.TierPremium}
	memberBound := &models.User{Tier: models.TierMember, BindedAgents: "[3, 9]"}
	memberUnbound := &models.User{Tier: models.TierMember, BindedAgents: "[9]"}
	memberMalformed := &models.User{Tier: models.TierMember, BindedAgents: "[3,"}

	tests := []struct {
		name  string
		user  *models.User
		agent *models.Agent
		want  bool
	}{
		{name: "no user", user: nil, agent: general365, want: false},
		{name: "guest general", user: guest, agent: general365, want: false},
		{name: "guest custom bound", user: guest, agent: custom, want: false},
		{name: "premium general", user: premium, agent: general3980, want: true},
		{name: "premium custom unbound", user: premium, agent: custom, want: true},
		{name: "member custom bound", user: memberBound, agent: custom, want: true},
		{name: "member custom unbound", user: memberUnbound, agent: custom, want: false},
		{name: "member custom malformed list", user: memberMalformed, agent: custom, want: false},
		{name: "member general matching tier", user: memberUnbound, agent: general365, want: true},
		{name: "member general mismatched tier", user: memberUnbound, agent: general3980, want: false},
		{name: "no agent", user: premium, agent: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanAccess(tt.user, tt.agent); got != tt.want {
				t.Errorf("CanAccess() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBoundAgents(t *testing.T) {
	tests := []struct {
		raw  string
		want int
	}{
		{raw: "[]", want: 0},
		{raw: "[1,2,2]", want: 2},
		{raw: "", want: 0},
		{raw: "not json", want: 0},
		{raw: `["1"]`, want: 0},
		{raw: "[-1]", want: 0},
	}
	for _, tt := range tests {
		if got := len(BoundAgents(tt.raw)); got != tt.want {
			t.Errorf("BoundAgents(%q) has %d entries, want %d", tt.raw, got, tt.want)
		}
	}
}
