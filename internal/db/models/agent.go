package models

import "time"

// Agent categories.
const (
	CategoryCustom  = "custom"
	CategoryGeneral = "general"
)

// Agent availability.
const (
	StatusActive     = "active"
	StatusComingSoon = "coming_soon"
)

// Agent is a proxy configuration pointing at an upstream conversational API.
// APIEndpoint, APIToken and ProjectID are never serialized to clients; the
// admin surface uses its own response type.
type Agent struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Name         string    `gorm:"size:100;not null" json:"name"`
	Icon         string    `gorm:"size:50;default:'🤖'" json:"icon"`
	Description  string    `gorm:"type:text" json:"description"`
	Category     string    `gorm:"size:20;default:general" json:"category"`
	APIEndpoint  string    `gorm:"size:500;not null" json:"-"`
	APIToken     string    `gorm:"type:text;not null" json:"-"`
	ProjectID    string    `gorm:"size:50;not null" json:"-"`
	TierRequired string    `gorm:"size:20;default:'365'" json:"tier_required"`
	Status       string    `gorm:"size:20;default:active" json:"status"`
	SortOrder    int       `gorm:"default:0" json:"sort_order"`
	CreatedAt    time.Time `json:"created_at"`
}

// IsActive reports whether the agent accepts chats.
func (a *Agent) IsActive() bool {
	return a.Status == StatusActive
}
