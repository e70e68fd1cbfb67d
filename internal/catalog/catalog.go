// Package catalog loads the agent seed file that is applied at start-up, so
// deployments can declare their agents next to the binary instead of through
// the admin API.
package catalog

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/lunahub/agent-gateway/internal/db/models"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

type fileConfig struct {
	Agents []AgentConfig `yaml:"agents"`
}

// AgentConfig is one agent entry of the seed file. Token may be given inline
// or through TokenEnv, which names an environment variable.
type AgentConfig struct {
	Name         string `yaml:"name"`
	Icon         string `yaml:"icon"`
	Description  string `yaml:"description"`
	Category     string `yaml:"category"`
	Endpoint     string `yaml:"endpoint"`
	Token        string `yaml:"token"`
	TokenEnv     string `yaml:"token_env"`
	ProjectID    string `yaml:"project_id"`
	TierRequired string `yaml:"tier_required"`
	Status       string `yaml:"status"`
	SortOrder    int    `yaml:"sort_order"`
}

// Upserter is the slice of the store the seeder needs.
type Upserter interface {
	UpsertAgentByName(ctx context.Context, a *models.Agent) (bool, error)
}

// Load parses and validates a seed file.
func Load(path string) ([]models.Agent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agents file: %w", err)
	}
	return Parse(data)
}

// Parse decodes seed YAML into agent rows.
func Parse(data []byte) ([]models.Agent, error) {
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse agents file: %w", err)
	}

	agents := make([]models.Agent, 0, len(cfg.Agents))
	seen := make(map[string]bool, len(cfg.Agents))
	for i, entry := range cfg.Agents {
		agent, err := normalize(entry)
		if err != nil {
			return nil, fmt.Errorf("agent #%d: %w", i+1, err)
		}
		if seen[agent.Name] {
			return nil, fmt.Errorf("agent #%d: duplicate name %q", i+1, agent.Name)
		}
		seen[agent.Name] = true
		agents = append(agents, agent)
	}
	return agents, nil
}

// Apply upserts every agent of the seed file.
func Apply(ctx context.Context, store Upserter, path string) error {
	agents, err := Load(path)
	if err != nil {
		return err
	}
	for i := range agents {
		created, err := store.UpsertAgentByName(ctx, &agents[i])
		if err != nil {
			return fmt.Errorf("seed agent %q: %w", agents[i].Name, err)
		}
		logrus.WithFields(logrus.Fields{
			"agent_id": agents[i].ID,
			"name":     agents[i].Name,
			"created":  created,
		}).Info("📦 Seeded agent")
	}
	return nil
}

func normalize(cfg AgentConfig) (models.Agent, error) {
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		return models.Agent{}, fmt.Errorf("name is required")
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return models.Agent{}, fmt.Errorf("endpoint is required")
	}

	token := strings.TrimSpace(cfg.Token)
	if env := strings.TrimSpace(cfg.TokenEnv); env != "" {
		token = strings.TrimSpace(os.Getenv(env))
		if token == "" {
			return models.Agent{}, fmt.Errorf("token_env %s is empty", env)
		}
	}
	if token == "" {
		return models.Agent{}, fmt.Errorf("token or token_env is required")
	}

	projectID := strings.TrimSpace(cfg.ProjectID)
	if err := ValidateProjectID(projectID); err != nil {
		return models.Agent{}, err
	}

	category := strings.ToLower(strings.TrimSpace(cfg.Category))
	if category == "" {
		category = models.CategoryGeneral
	}
	if category != models.CategoryGeneral && category != models.CategoryCustom {
		return models.Agent{}, fmt.Errorf("unknown category %q", cfg.Category)
	}

	agent := models.Agent{
		Name:         name,
		Icon:         strings.TrimSpace(cfg.Icon),
		Description:  strings.TrimSpace(cfg.Description),
		Category:     category,
		APIEndpoint:  endpoint,
		APIToken:     token,
		ProjectID:    projectID,
		TierRequired: strings.TrimSpace(cfg.TierRequired),
		Status:       strings.TrimSpace(cfg.Status),
		SortOrder:    cfg.SortOrder,
	}
	if agent.Icon == "" {
		agent.Icon = "🤖"
	}
	if agent.TierRequired == "" {
		agent.TierRequired = models.TierMember
	}
	if agent.Status == "" {
		agent.Status = models.StatusActive
	}
	return agent, nil
}

// ValidateProjectID checks that a project identifier is a positive integer,
// which is what the upstream wire format carries.
func ValidateProjectID(projectID string) error {
	n, err := strconv.ParseInt(projectID, 10, 64)
	if err != nil || n <= 0 {
		return fmt.Errorf("project_id must be a positive integer, got %q", projectID)
	}
	return nil
}
