package models

import "time"

// Membership tiers. Only the two paid tiers can chat.
const (
	TierGuest   = "guest"
	TierMember  = "365"
	TierPremium = "3980"
)

// User is a registered account. BindedAgents is a JSON array of custom agent
// IDs the user may use when on the member tier.
type User struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	Phone        string     `gorm:"size:20;uniqueIndex;not null" json:"phone"`
	PasswordHash string     `gorm:"size:128" json:"-"`
	Tier         string     `gorm:"size:20;default:guest" json:"tier"`
	TierExpireAt *time.Time `json:"tier_expire_at"`
	BindedAgents string     `gorm:"type:text;default:'[]'" json:"binded_agents"`
	IsAdmin      bool       `gorm:"default:false" json:"is_admin"`
	IsActive     bool       `gorm:"default:true" json:"is_active"`
	CreatedAt    time.Time  `json:"created_at"`
}
