package models

import "time"

// Feedback triage states.
const (
	FeedbackPending  = "pending"
	FeedbackRead     = "read"
	FeedbackResolved = "resolved"
)

// Feedback is a user-submitted suggestion, bug report or question.
type Feedback struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    *uint     `gorm:"index" json:"user_id"`
	Type      string    `gorm:"size:20;default:suggestion" json:"type"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	Contact   string    `gorm:"size:100" json:"contact,omitempty"`
	PageURL   string    `gorm:"size:500" json:"page_url,omitempty"`
	Status    string    `gorm:"size:20;default:pending;index" json:"status"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// FeedbackView joins feedback with the submitter's phone for the admin list.
type FeedbackView struct {
	Feedback
	UserPhone string `json:"user_phone,omitempty"`
}
