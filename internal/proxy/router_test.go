package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/lunahub/agent-gateway/internal/auth/credential"
	"github.com/lunahub/agent-gateway/internal/config"
	"github.com/lunahub/agent-gateway/internal/db"
	"github.com/lunahub/agent-gateway/internal/metrics"
	"github.com/lunahub/agent-gateway/internal/relay"
	"github.com/lunahub/agent-gateway/internal/upstream"
	"gorm.io/gorm"
)

const agentSecret = "sk-agent-secret"

type testEnv struct {
	t       *testing.T
	handler http.Handler
	store   *db.Store
}

func newTestEnv(t *testing.T, agent http.HandlerFunc) (*testEnv, string) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()))
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	store, err := db.Open(gdb)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.EnsureAdmin(context.Background(), "admin", "admin-pass"); err != nil {
		t.Fatalf("EnsureAdmin: %v", err)
	}

	issuer, err := credential.NewIssuer("router-test-secret-0123456789", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(agent)
	t.Cleanup(srv.Close)
	client := upstream.NewClientWithHTTP(config.UpstreamConfig{
		ConnectTimeout: time.Second,
		ReadTimeout:    5 * time.Second,
		RetryBase:      time.Millisecond,
		MaxAttempts:    3,
	}, srv.Client(), nil)

	m := metrics.NewCollector(nil)
	h := NewRouter(Deps{
		Store:       store,
		Issuer:      issuer,
		Relay:       relay.New(store, client, m),
		Metrics:     m,
		CORSOrigins: []string{"http://localhost:5173"},
	})
	return &testEnv{t: t, handler: h, store: store}, srv.URL
}

func (e *testEnv) do(method, path, token string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			e.t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) login(phone, password string) string {
	e.t.Helper()
	rec := e.do(http.MethodPost, "/api/auth/login", "", map[string]string{"phone": phone, "password": password})
	if rec.Code != http.StatusOK {
		e.t.Fatalf("login %s: %d %s", phone, rec.Code, rec.Body.String())
	}
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	decode(e.t, rec, &resp)
	return resp.AccessToken
}

// member registers phone and lets the admin lift it to tier.
func (e *testEnv) member(adminToken, phone, tier string) (uint, string) {
	e.t.Helper()
	rec := e.do(http.MethodPost, "/api/auth/register", "", map[string]string{"phone": phone, "password": "secret1"})
	if rec.Code != http.StatusOK {
		e.t.Fatalf("register: %d %s", rec.Code, rec.Body.String())
	}
	var reg struct {
		UserID uint `json:"user_id"`
	}
	decode(e.t, rec, &reg)
	if tier != "guest" {
		rec = e.do(http.MethodPut, fmt.Sprintf("/api/admin/users/%d", reg.UserID), adminToken, map[string]string{"tier": tier})
		if rec.Code != http.StatusOK {
			e.t.Fatalf("set tier: %d %s", rec.Code, rec.Body.String())
		}
	}
	return reg.UserID, e.login(phone, "secret1")
}

func (e *testEnv) createAgent(adminToken, endpoint string, extra map[string]any) uint {
	e.t.Helper()
	body := map[string]any{
		"name":         "Copywriter",
		"api_endpoint": endpoint,
		"api_token":    agentSecret,
		"project_id":   "7350",
	}
	for k, v := range extra {
		body[k] = v
	}
	rec := e.do(http.MethodPost, "/api/admin/agents", adminToken, body)
	if rec.Code != http.StatusOK {
		e.t.Fatalf("create agent: %d %s", rec.Code, rec.Body.String())
	}
	var created struct {
		ID uint `json:"id"`
	}
	decode(e.t, rec, &created)
	return created.ID
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func sseAgent(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	fmt.Fprint(w, "data: {\"type\":\"answer\",\"content\":{\"answer\":\"Hel\"}}\n\n")
	fmt.Fprint(w, "data: {\"type\":\"answer\",\"content\":{\"answer\":\"lo <b>\"}}\n\n")
	fmt.Fprint(w, "data: {\"type\":\"message_end\"}\n\n")
}

func TestAuthFlow(t *testing.T) {
	env, _ := newTestEnv(t, sseAgent)

	rec := env.do(http.MethodPost, "/api/auth/register", "", map[string]string{"phone": "13800000001", "password": "secret1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("register: %d %s", rec.Code, rec.Body.String())
	}
	var reg map[string]any
	decode(t, rec, &reg)
	if reg["tier"] != "guest" || reg["phone"] != "13800000001" {
		t.Fatalf("register response = %v", reg)
	}

	if rec := env.do(http.MethodPost, "/api/auth/register", "", map[string]string{"phone": "13800000001", "password": "secret1"}); rec.Code != http.StatusBadRequest {
		t.Errorf("duplicate register: %d", rec.Code)
	}
	if rec := env.do(http.MethodPost, "/api/auth/register", "", map[string]string{"phone": "13800000002", "password": "123"}); rec.Code != http.StatusBadRequest {
		t.Errorf("short password: %d", rec.Code)
	}
	if rec := env.do(http.MethodPost, "/api/auth/login", "", map[string]string{"phone": "13800000001", "password": "wrong"}); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong password: %d", rec.Code)
	}

	token := env.login("13800000001", "secret1")
	rec = env.do(http.MethodGet, "/api/auth/me", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("me: %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "password") {
		t.Errorf("me leaks password hash: %s", rec.Body.String())
	}

	if rec := env.do(http.MethodGet, "/api/auth/me", "garbage", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("me with bad token: %d", rec.Code)
	}
}

func TestAgentCatalogHidesEndpointConfig(t *testing.T) {
	env, agentURL := newTestEnv(t, sseAgent)
	admin := env.login("admin", "admin-pass")
	agentID := env.createAgent(admin, agentURL, nil)
	_, memberToken := env.member(admin, "13800000003", "365")

	rec := env.do(http.MethodGet, "/api/agents", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: %d", rec.Code)
	}
	for _, secret := range []string{agentSecret, agentURL, "api_endpoint", "project_id"} {
		if strings.Contains(rec.Body.String(), secret) {
			t.Errorf("public agent list leaks %q", secret)
		}
	}
	var anon []map[string]any
	decode(t, rec, &anon)
	if len(anon) != 1 || anon[0]["can_access"] != false {
		t.Fatalf("anonymous list = %v", anon)
	}

	rec = env.do(http.MethodGet, fmt.Sprintf("/api/agents/%d", agentID), memberToken, nil)
	var one map[string]any
	decode(t, rec, &one)
	if one["can_access"] != true {
		t.Fatalf("member detail = %v", one)
	}

	if rec := env.do(http.MethodGet, "/api/agents/999", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing agent: %d", rec.Code)
	}

	rec = env.do(http.MethodGet, "/api/admin/agents", admin, nil)
	if !strings.Contains(rec.Body.String(), agentSecret) {
		t.Error("admin list lacks agent config")
	}
}

func TestChatStreamsAndRecordsHistory(t *testing.T) {
	env, agentURL := newTestEnv(t, sseAgent)
	admin := env.login("admin", "admin-pass")
	agentID := env.createAgent(admin, agentURL, nil)
	_, token := env.member(admin, "13800000004", "365")

	rec := env.do(http.MethodPost, fmt.Sprintf("/api/agents/%d/chat", agentID), token, map[string]string{"message": "hi"})
	if rec.Code != http.StatusOK {
		t.Fatalf("chat: %d %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	if rec.Header().Get("Cache-Control") != "no-cache" || rec.Header().Get("X-Accel-Buffering") != "no" {
		t.Errorf("missing streaming headers: %v", rec.Header())
	}
	want := "data: {\"content\":\"Hel\"}\n\n" +
		"data: {\"content\":\"lo <b>\"}\n\n" +
		"data: [DONE]\n\n"
	if rec.Body.String() != want {
		t.Fatalf("stream body =\n%q\nwant\n%q", rec.Body.String(), want)
	}

	rec = env.do(http.MethodGet, fmt.Sprintf("/api/agents/%d/history", agentID), token, nil)
	var hist struct {
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	decode(t, rec, &hist)
	if len(hist.Messages) != 2 || hist.Messages[0].Content != "hi" || hist.Messages[1].Content != "Hello <b>" {
		t.Fatalf("history = %+v", hist.Messages)
	}

	rec = env.do(http.MethodDelete, fmt.Sprintf("/api/agents/%d/history", agentID), token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("clear: %d", rec.Code)
	}
	rec = env.do(http.MethodGet, fmt.Sprintf("/api/agents/%d/history", agentID), token, nil)
	if strings.TrimSpace(rec.Body.String()) != `{"messages":[]}` {
		t.Fatalf("history after clear = %s", rec.Body.String())
	}
}

func TestChatRejectionsAreJSON(t *testing.T) {
	env, agentURL := newTestEnv(t, sseAgent)
	admin := env.login("admin", "admin-pass")
	agentID := env.createAgent(admin, agentURL, nil)
	soonID := env.createAgent(admin, agentURL, map[string]any{"name": "Soon", "status": "coming_soon"})
	_, guest := env.member(admin, "13800000005", "guest")
	_, member := env.member(admin, "13800000006", "365")

	tests := []struct {
		name   string
		token  string
		path   string
		body   any
		status int
	}{
		{"anonymous", "", fmt.Sprintf("/api/agents/%d/chat", agentID), map[string]string{"message": "hi"}, http.StatusUnauthorized},
		{"guest", guest, fmt.Sprintf("/api/agents/%d/chat", agentID), map[string]string{"message": "hi"}, http.StatusForbidden},
		{"unknown agent", member, "/api/agents/999/chat", map[string]string{"message": "hi"}, http.StatusNotFound},
		{"inactive agent", member, fmt.Sprintf("/api/agents/%d/chat", soonID), map[string]string{"message": "hi"}, http.StatusBadRequest},
		{"bad id", member, "/api/agents/abc/chat", map[string]string{"message": "hi"}, http.StatusBadRequest},
		{"no body", member, fmt.Sprintf("/api/agents/%d/chat", agentID), nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodPost, tt.path, tt.token, tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body.String())
			}
			if !strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
				t.Errorf("Content-Type = %q", rec.Header().Get("Content-Type"))
			}
		})
	}
}

func TestChatUpstreamFailureIsInStream(t *testing.T) {
	failing := func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "agent crashed", http.StatusBadGateway)
	}
	env, agentURL := newTestEnv(t, failing)
	admin := env.login("admin", "admin-pass")
	agentID := env.createAgent(admin, agentURL, nil)
	_, token := env.member(admin, "13800000007", "365")

	rec := env.do(http.MethodPost, fmt.Sprintf("/api/agents/%d/chat", agentID), token, map[string]string{"message": "hi"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.HasPrefix(body, `data: {"error":"agent service returned status 502: agent crashed"}`) {
		t.Fatalf("body = %q", body)
	}
	if !strings.HasSuffix(body, "data: [DONE]\n\n") {
		t.Fatalf("stream not terminated: %q", body)
	}
	if strings.Contains(body, agentURL) || strings.Contains(body, agentSecret) {
		t.Fatal("stream leaks agent config")
	}
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	env, _ := newTestEnv(t, sseAgent)
	admin := env.login("admin", "admin-pass")
	_, member := env.member(admin, "13800000008", "3980")

	for _, path := range []string{"/api/admin/agents", "/api/admin/users", "/api/admin/feedbacks"} {
		if rec := env.do(http.MethodGet, path, member, nil); rec.Code != http.StatusForbidden {
			t.Errorf("%s as member: %d", path, rec.Code)
		}
		if rec := env.do(http.MethodGet, path, admin, nil); rec.Code != http.StatusOK {
			t.Errorf("%s as admin: %d", path, rec.Code)
		}
	}
}

func TestAdminAgentValidation(t *testing.T) {
	env, agentURL := newTestEnv(t, sseAgent)
	admin := env.login("admin", "admin-pass")
	id := env.createAgent(admin, agentURL, nil)

	bad := []map[string]any{
		{"name": "x", "api_endpoint": agentURL, "api_token": "t", "project_id": "abc"},
		{"name": "x", "api_endpoint": agentURL, "api_token": "t", "project_id": "1", "category": "vip"},
		{"name": "x", "api_endpoint": agentURL},
	}
	for i, body := range bad {
		if rec := env.do(http.MethodPost, "/api/admin/agents", admin, body); rec.Code != http.StatusBadRequest {
			t.Errorf("bad create %d: %d", i, rec.Code)
		}
	}

	rec := env.do(http.MethodPut, fmt.Sprintf("/api/admin/agents/%d", id), admin, map[string]any{"sort_order": 5, "status": "coming_soon"})
	if rec.Code != http.StatusOK {
		t.Fatalf("update: %d %s", rec.Code, rec.Body.String())
	}
	var updated map[string]any
	decode(t, rec, &updated)
	if updated["sort_order"] != float64(5) || updated["status"] != "coming_soon" || updated["name"] != "Copywriter" {
		t.Fatalf("updated = %v", updated)
	}

	if rec := env.do(http.MethodDelete, fmt.Sprintf("/api/admin/agents/%d", id), admin, nil); rec.Code != http.StatusOK {
		t.Fatalf("delete: %d", rec.Code)
	}
	if rec := env.do(http.MethodDelete, fmt.Sprintf("/api/admin/agents/%d", id), admin, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("second delete: %d", rec.Code)
	}
}

func TestAdminUserBindingGrantsCustomAgent(t *testing.T) {
	env, agentURL := newTestEnv(t, sseAgent)
	admin := env.login("admin", "admin-pass")
	customID := env.createAgent(admin, agentURL, map[string]any{"name": "Private", "category": "custom"})
	userID, token := env.member(admin, "13800000009", "365")

	path := fmt.Sprintf("/api/agents/%d/chat", customID)
	if rec := env.do(http.MethodPost, path, token, map[string]string{"message": "hi"}); rec.Code != http.StatusForbidden {
		t.Fatalf("unbound custom agent: %d", rec.Code)
	}

	userPath := fmt.Sprintf("/api/admin/users/%d", userID)
	if rec := env.do(http.MethodPut, userPath, admin, map[string]any{"binded_agents": "not json"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed binding accepted: %d", rec.Code)
	}
	if rec := env.do(http.MethodPut, userPath, admin, map[string]any{"binded_agents": fmt.Sprintf("[%d]", customID)}); rec.Code != http.StatusOK {
		t.Fatalf("bind: %d %s", rec.Code, rec.Body.String())
	}
	if rec := env.do(http.MethodPost, path, token, map[string]string{"message": "hi"}); rec.Code != http.StatusOK {
		t.Fatalf("bound custom agent: %d %s", rec.Code, rec.Body.String())
	}

	if rec := env.do(http.MethodPut, userPath, admin, map[string]any{"is_active": false}); rec.Code != http.StatusOK {
		t.Fatalf("deactivate: %d", rec.Code)
	}
	if rec := env.do(http.MethodGet, "/api/auth/me", token, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("disabled user me: %d", rec.Code)
	}
}

func TestFeedbackTriage(t *testing.T) {
	env, _ := newTestEnv(t, sseAgent)
	admin := env.login("admin", "admin-pass")
	_, token := env.member(admin, "13800000010", "guest")

	if rec := env.do(http.MethodPost, "/api/feedback", token, map[string]string{"content": "  "}); rec.Code != http.StatusBadRequest {
		t.Fatalf("blank feedback: %d", rec.Code)
	}
	if rec := env.do(http.MethodPost, "/api/feedback", token, map[string]string{"content": "love it", "type": "bug"}); rec.Code != http.StatusOK {
		t.Fatalf("submit: %d %s", rec.Code, rec.Body.String())
	}

	rec := env.do(http.MethodGet, "/api/admin/feedbacks?status=pending", admin, nil)
	var rows []map[string]any
	decode(t, rec, &rows)
	if len(rows) != 1 || rows[0]["user_phone"] != "13800000010" || rows[0]["status"] != "pending" {
		t.Fatalf("feedback rows = %v", rows)
	}

	id := uint(rows[0]["id"].(float64))
	if rec := env.do(http.MethodPut, fmt.Sprintf("/api/admin/feedbacks/%d", id), admin, map[string]string{"status": "done"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid status: %d", rec.Code)
	}
	if rec := env.do(http.MethodPut, fmt.Sprintf("/api/admin/feedbacks/%d", id), admin, map[string]string{"status": "resolved"}); rec.Code != http.StatusOK {
		t.Fatalf("resolve: %d", rec.Code)
	}
	rec = env.do(http.MethodGet, "/api/admin/feedbacks?status=pending", admin, nil)
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("pending after resolve = %s", rec.Body.String())
	}
}

func TestHealthAndMetrics(t *testing.T) {
	env, _ := newTestEnv(t, sseAgent)

	rec := env.do(http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"healthy"`) {
		t.Fatalf("health: %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "agent_gateway_active_streams") {
		t.Fatalf("metrics: %d", rec.Code)
	}
}
