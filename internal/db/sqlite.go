package db

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/lunahub/agent-gateway/internal/auth/credential"
	"github.com/lunahub/agent-gateway/internal/db/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("record not found")

// Store is the persistence collaborator. Every method opens its own gorm
// session from ctx, so callers may use independent contexts for independent
// writes.
type Store struct {
	db *gorm.DB
}

// InitDB opens the SQLite database and runs migrations.
func InitDB(dbPath string) (*Store, error) {
	dsn := dbPath
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return Open(gdb)
}

// Open wraps an existing gorm handle and migrates the schema.
func Open(gdb *gorm.DB) (*Store, error) {
	if err := gdb.AutoMigrate(&models.User{}, &models.Agent{}, &models.ChatMessage{}, &models.Feedback{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: gdb}, nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// EnsureAdmin creates the bootstrap admin account on first run.
func (s *Store) EnsureAdmin(ctx context.Context, phone, password string) error {
	if phone == "" || password == "" {
		logrus.Warn("ADMIN_PASSWORD not set, skipping admin bootstrap")
		return nil
	}
	_, err := s.GetUserByPhone(ctx, phone)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrNotFound) {
		return err
	}

	hash, err := credential.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}
	admin := &models.User{
		Phone:        phone,
		PasswordHash: hash,
		Tier:         models.TierPremium,
		IsAdmin:      true,
		IsActive:     true,
	}
	if err := s.CreateUser(ctx, admin); err != nil {
		return err
	}
	logrus.WithField("phone", phone).Info("🔑 Created default admin account")
	return nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// ===== Chat turns =====

// InsertTurn records one immutable chat turn.
func (s *Store) InsertTurn(ctx context.Context, userID, agentID uint, role, content string) error {
	msg := &models.ChatMessage{
		UserID:    userID,
		AgentID:   agentID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("insert %s turn: %w", role, err)
	}
	return nil
}

// ListTurns returns a conversation ordered by creation time.
func (s *Store) ListTurns(ctx context.Context, userID, agentID uint) ([]models.ChatMessage, error) {
	var msgs []models.ChatMessage
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND agent_id = ?", userID, agentID).
		Order("created_at, id").
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	return msgs, nil
}

// DeleteTurns removes a (user, agent) conversation and returns the number of rows removed.
func (s *Store) DeleteTurns(ctx context.Context, userID, agentID uint) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("user_id = ? AND agent_id = ?", userID, agentID).
		Delete(&models.ChatMessage{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete turns: %w", res.Error)
	}
	return res.RowsAffected, nil
}
