package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/lunahub/agent-gateway/internal/db/models"
)

// GetAgent loads an agent configuration. Returns ErrNotFound when absent.
func (s *Store) GetAgent(ctx context.Context, id uint) (*models.Agent, error) {
	var a models.Agent
	if err := s.db.WithContext(ctx).First(&a, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

// ListAgents returns agents in display order.
func (s *Store) ListAgents(ctx context.Context) ([]models.Agent, error) {
	var agents []models.Agent
	if err := s.db.WithContext(ctx).Order("sort_order, id").Find(&agents).Error; err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	return agents, nil
}

// CreateAgent inserts an agent.
func (s *Store) CreateAgent(ctx context.Context, a *models.Agent) error {
	if err := s.db.WithContext(ctx).Create(a).Error; err != nil {
		return fmt.Errorf("create agent: %w", err)
	}
	return nil
}

// UpdateAgent applies a partial column update and returns the fresh row.
func (s *Store) UpdateAgent(ctx context.Context, id uint, fields map[string]any) (*models.Agent, error) {
	if _, err := s.GetAgent(ctx, id); err != nil {
		return nil, err
	}
	if len(fields) > 0 {
		if err := s.db.WithContext(ctx).Model(&models.Agent{}).Where("id = ?", id).Updates(fields).Error; err != nil {
			return nil, fmt.Errorf("update agent: %w", err)
		}
	}
	return s.GetAgent(ctx, id)
}

// DeleteAgent removes an agent. Conversation rows are kept.
func (s *Store) DeleteAgent(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&models.Agent{}, id)
	if res.Error != nil {
		return fmt.Errorf("delete agent: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertAgentByName creates the agent or overwrites the configuration of the
// existing agent with the same name. Reports whether a row was created.
func (s *Store) UpsertAgentByName(ctx context.Context, a *models.Agent) (bool, error) {
	var existing models.Agent
	err := s.db.WithContext(ctx).Where("name = ?", a.Name).First(&existing).Error
	if err != nil {
		if !errors.Is(notFound(err), ErrNotFound) {
			return false, fmt.Errorf("lookup agent %q: %w", a.Name, err)
		}
		return true, s.CreateAgent(ctx, a)
	}

	_, err = s.UpdateAgent(ctx, existing.ID, map[string]any{
		"icon":          a.Icon,
		"description":   a.Description,
		"category":      a.Category,
		"api_endpoint":  a.APIEndpoint,
		"api_token":     a.APIToken,
		"project_id":    a.ProjectID,
		"tier_required": a.TierRequired,
		"status":        a.Status,
		"sort_order":    a.SortOrder,
	})
	a.ID = existing.ID
	return false, err
}
