package db

import (
	"context"
	"fmt"
	"time"

	"github.com/lunahub/agent-gateway/internal/db/models"
)

// CreateFeedback stores a new pending feedback entry.
func (s *Store) CreateFeedback(ctx context.Context, f *models.Feedback) error {
	f.Status = models.FeedbackPending
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(f).Error; err != nil {
		return fmt.Errorf("create feedback: %w", err)
	}
	return nil
}

// ListFeedback returns feedback newest first, optionally filtered by status.
func (s *Store) ListFeedback(ctx context.Context, status string) ([]models.FeedbackView, error) {
	q := s.db.WithContext(ctx).
		Table("feedbacks AS f").
		Select("f.*, u.phone AS user_phone").
		Joins("LEFT JOIN users u ON f.user_id = u.id").
		Order("f.created_at DESC, f.id DESC")
	if status != "" {
		q = q.Where("f.status = ?", status)
	}

	var rows []models.FeedbackView
	if err := q.Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("list feedback: %w", err)
	}
	return rows, nil
}

// UpdateFeedbackStatus moves a feedback entry to a new triage state.
func (s *Store) UpdateFeedbackStatus(ctx context.Context, id uint, status string) error {
	res := s.db.WithContext(ctx).Model(&models.Feedback{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		return fmt.Errorf("update feedback: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
