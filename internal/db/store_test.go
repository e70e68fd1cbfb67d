package db

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/lunahub/agent-gateway/internal/db/models"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	store, err := Open(gdb)
	if err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestTurns_OrderedAndScoped(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.InsertTurn(ctx, 1, 7, models.RoleUser, "hello"); err != nil {
		t.Fatalf("insert user turn: %v", err)
	}
	if err := store.InsertTurn(ctx, 1, 7, models.RoleAssistant, "Hi there"); err != nil {
		t.Fatalf("insert assistant turn: %v", err)
	}
	if err := store.InsertTurn(ctx, 2, 7, models.RoleUser, "other user"); err != nil {
		t.Fatalf("insert other turn: %v", err)
	}

	turns, err := store.ListTurns(ctx, 1, 7)
	if err != nil {
		t.Fatalf("ListTurns: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(turns))
	}
	if turns[0].Role != models.RoleUser || turns[1].Content != "Hi there" {
		t.Fatalf("unexpected order: %+v", turns)
	}

	n, err := store.DeleteTurns(ctx, 1, 7)
	if err != nil {
		t.Fatalf("DeleteTurns: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 deleted rows, got %d", n)
	}
	rest, _ := store.ListTurns(ctx, 2, 7)
	if len(rest) != 1 {
		t.Fatalf("other user's history should survive, got %d rows", len(rest))
	}
}

func TestGetAgent_NotFound(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.GetAgent(context.Background(), 42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpsertAgentByName(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	agent := &models.Agent{
		Name:         "Writer",
		Category:     models.CategoryGeneral,
		APIEndpoint:  "https://agents.example/run",
		APIToken:     "tok-1",
		ProjectID:    "1001",
		TierRequired: models.TierMember,
		Status:       models.StatusActive,
	}
	created, err := store.UpsertAgentByName(ctx, agent)
	if err != nil || !created {
		t.Fatalf("first upsert: created=%v err=%v", created, err)
	}

	again := *agent
	again.ID = 0
	again.APIToken = "tok-2"
	created, err = store.UpsertAgentByName(ctx, &again)
	if err != nil || created {
		t.Fatalf("second upsert: created=%v err=%v", created, err)
	}

	got, err := store.GetAgent(ctx, agent.ID)
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if got.APIToken != "tok-2" {
		t.Fatalf("expected token to be updated, got %q", got.APIToken)
	}
	all, _ := store.ListAgents(ctx)
	if len(all) != 1 {
		t.Fatalf("expected a single agent, got %d", len(all))
	}
}

func TestCreateUser_HonoursInactive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	u := &models.User{Phone: "13800000000", IsActive: false}
	if err := store.CreateUser(ctx, u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	got, err := store.GetUserByPhone(ctx, "13800000000")
	if err != nil {
		t.Fatalf("GetUserByPhone: %v", err)
	}
	if got.IsActive {
		t.Fatal("expected user to stay inactive")
	}
	if got.Tier != models.TierGuest || got.BindedAgents != "[]" {
		t.Fatalf("unexpected defaults: tier=%q binded=%q", got.Tier, got.BindedAgents)
	}
}

func TestEnsureAdmin_Idempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := store.EnsureAdmin(ctx, "admin", "secret-pass"); err != nil {
			t.Fatalf("EnsureAdmin #%d: %v", i+1, err)
		}
	}
	users, _ := store.ListUsers(ctx)
	if len(users) != 1 {
		t.Fatalf("expected one admin, got %d users", len(users))
	}
	if !users[0].IsAdmin || users[0].Tier != models.TierPremium {
		t.Fatalf("admin not seeded correctly: %+v", users[0])
	}
}

func TestFeedback_ListAndStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	u := &models.User{Phone: "13900000000", IsActive: true}
	if err := store.CreateUser(ctx, u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	older := &models.Feedback{UserID: &u.ID, Type: "bug", Content: "first", CreatedAt: time.Now().Add(-time.Minute)}
	newer := &models.Feedback{UserID: &u.ID, Type: "question", Content: "second"}
	for _, f := range []*models.Feedback{older, newer} {
		if err := store.CreateFeedback(ctx, f); err != nil {
			t.Fatalf("CreateFeedback: %v", err)
		}
	}

	if err := store.UpdateFeedbackStatus(ctx, older.ID, models.FeedbackResolved); err != nil {
		t.Fatalf("UpdateFeedbackStatus: %v", err)
	}
	if err := store.UpdateFeedbackStatus(ctx, 999, models.FeedbackRead); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	all, err := store.ListFeedback(ctx, "")
	if err != nil {
		t.Fatalf("ListFeedback: %v", err)
	}
	if len(all) != 2 || all[0].Content != "second" {
		t.Fatalf("expected newest first, got %+v", all)
	}
	if all[0].UserPhone != "13900000000" {
		t.Fatalf("expected joined phone, got %q", all[0].UserPhone)
	}

	pending, _ := store.ListFeedback(ctx, models.FeedbackPending)
	if len(pending) != 1 || pending[0].ID != newer.ID {
		t.Fatalf("expected only the newer entry pending, got %+v", pending)
	}
}
