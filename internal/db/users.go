package db

import (
	"context"
	"fmt"

	"github.com/lunahub/agent-gateway/internal/db/models"
)

// CreateUser inserts a new user. A false IsActive is written with a second
// update because gorm substitutes the column default for zero values.
func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	active := u.IsActive
	if u.Tier == "" {
		u.Tier = models.TierGuest
	}
	if u.BindedAgents == "" {
		u.BindedAgents = "[]"
	}
	if err := s.db.WithContext(ctx).Create(u).Error; err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	if !active {
		if err := s.db.WithContext(ctx).Model(u).Update("is_active", false).Error; err != nil {
			return fmt.Errorf("deactivate user: %w", err)
		}
	}
	return nil
}

// GetUserByID loads a user.
func (s *Store) GetUserByID(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

// GetUserByPhone loads a user by login phone.
func (s *Store) GetUserByPhone(ctx context.Context, phone string) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).Where("phone = ?", phone).First(&u).Error; err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

// ListUsers returns every user ordered by id.
func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	if err := s.db.WithContext(ctx).Order("id").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// UpdateUser applies a partial column update and returns the fresh row.
func (s *Store) UpdateUser(ctx context.Context, id uint, fields map[string]any) (*models.User, error) {
	if _, err := s.GetUserByID(ctx, id); err != nil {
		return nil, err
	}
	if len(fields) > 0 {
		if err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(fields).Error; err != nil {
			return nil, fmt.Errorf("update user: %w", err)
		}
	}
	return s.GetUserByID(ctx, id)
}
