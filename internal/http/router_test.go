package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/faultline/faultline/internal/domain"
	"github.com/faultline/faultline/internal/repository"
	"github.com/faultline/faultline/internal/service/admin"
	"github.com/faultline/faultline/internal/service/auth"
	"github.com/faultline/faultline/internal/service/errlog"
	"github.com/faultline/faultline/internal/service/hook"
	"github.com/faultline/faultline/internal/service/project"
	"github.com/faultline/faultline/pkg/config"
	jwtpkg "github.com/faultline/faultline/pkg/jwt"
)

// storeStub backs every repository interface for router tests.
type storeStub struct {
	mu       sync.Mutex
	users    map[string]domain.User
	plans    map[string]domain.Plan
	projects map[string]domain.Project
	logs     map[string]domain.ErrorLog
	webhooks map[string]domain.Webhook
}

func newStoreStub() *storeStub {
	return &storeStub{
		users:    make(map[string]domain.User),
		plans:    make(map[string]domain.Plan),
		projects: make(map[string]domain.Project),
		logs:     make(map[string]domain.ErrorLog),
		webhooks: make(map[string]domain.Webhook),
	}
}

func (s *storeStub) CreateUser(ctx context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = *user
	return nil
}

func (s *storeStub) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.users {
		if user.Email == email {
			u := user
			return &u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *storeStub) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user, ok := s.users[id]; ok {
		return &user, nil
	}
	return nil, repository.ErrNotFound
}

func (s *storeStub) CountUsers(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users), nil
}

func (s *storeStub) GetPlanByID(ctx context.Context, id string) (*domain.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if plan, ok := s.plans[id]; ok {
		return &plan, nil
	}
	return nil, repository.ErrNotFound
}

func (s *storeStub) GetPlanByName(ctx context.Context, name string) (*domain.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, plan := range s.plans {
		if plan.Name == name {
			p := plan
			return &p, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *storeStub) SumPlanRevenue(ctx context.Context) (float64, error) { return 0, nil }

func (s *storeStub) CreateProject(ctx context.Context, p *domain.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[p.ID] = *p
	return nil
}

func (s *storeStub) GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.projects[projectID]; ok {
		return &p, nil
	}
	return nil, repository.ErrNotFound
}

func (s *storeStub) GetProjectByAPIKey(ctx context.Context, apiKey string) (*domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.projects {
		if p.APIKey == apiKey {
			proj := p
			return &proj, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *storeStub) ListProjectsByOwner(ctx context.Context, ownerID string) ([]domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Project
	for _, p := range s.projects {
		if p.OwnerID == ownerID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *storeStub) CountProjectsByOwner(ctx context.Context, ownerID string) (int, error) {
	list, _ := s.ListProjectsByOwner(ctx, ownerID)
	return len(list), nil
}

func (s *storeStub) CountProjects(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.projects), nil
}

func (s *storeStub) DeleteProject(ctx context.Context, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.projects, projectID)
	return nil
}

func (s *storeStub) GetProjectStats(ctx context.Context, projectID string, since time.Time) (domain.ProjectStats, error) {
	return domain.ProjectStats{}, nil
}

func (s *storeStub) CreateErrorLog(ctx context.Context, log *domain.ErrorLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[log.ID] = *log
	return nil
}

func (s *storeStub) GetErrorLogByID(ctx context.Context, id string) (*domain.ErrorLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if log, ok := s.logs[id]; ok {
		return &log, nil
	}
	return nil, repository.ErrNotFound
}

func (s *storeStub) ListErrorLogsByProject(ctx context.Context, projectID string, limit, offset int) ([]domain.ErrorLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ErrorLog
	for _, log := range s.logs {
		if log.ProjectID == projectID {
			out = append(out, log)
		}
	}
	return out, nil
}

func (s *storeStub) UpdateErrorLogSummary(ctx context.Context, id, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	log, ok := s.logs[id]
	if !ok {
		return repository.ErrNotFound
	}
	log.Summary = &summary
	s.logs[id] = log
	return nil
}

func (s *storeStub) UpdateErrorLogStatus(ctx context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	log, ok := s.logs[id]
	if !ok {
		return repository.ErrNotFound
	}
	log.Status = status
	s.logs[id] = log
	return nil
}

func (s *storeStub) CountErrorLogs(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.logs), nil
}

func (s *storeStub) CreateWebhook(ctx context.Context, webhook *domain.Webhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.webhooks[webhook.ID] = *webhook
	return nil
}

func (s *storeStub) GetWebhookByID(ctx context.Context, id string) (*domain.Webhook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if webhook, ok := s.webhooks[id]; ok {
		return &webhook, nil
	}
	return nil, repository.ErrNotFound
}

func (s *storeStub) ListWebhooksByProject(ctx context.Context, projectID string) ([]domain.Webhook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Webhook
	for _, webhook := range s.webhooks {
		if webhook.ProjectID == projectID {
			out = append(out, webhook)
		}
	}
	return out, nil
}

func (s *storeStub) ListActiveWebhooksByProject(ctx context.Context, projectID string) ([]domain.Webhook, error) {
	hooks, _ := s.ListWebhooksByProject(ctx, projectID)
	var out []domain.Webhook
	for _, webhook := range hooks {
		if webhook.IsActive {
			out = append(out, webhook)
		}
	}
	return out, nil
}

func (s *storeStub) SetWebhookActive(ctx context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	webhook, ok := s.webhooks[id]
	if !ok {
		return repository.ErrNotFound
	}
	webhook.IsActive = active
	s.webhooks[id] = webhook
	return nil
}

func (s *storeStub) DeleteWebhook(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.webhooks, id)
	return nil
}

type noopSummarizer struct{}

func (noopSummarizer) Summarize(ctx context.Context, message, stackTrace string) (string, error) {
	return "", context.Canceled
}

type noopDispatcher struct{}

func (noopDispatcher) Dispatch(ctx context.Context, projectID string, log domain.ErrorLog) {}

func testRouterConfig() config.APIConfig {
	return config.APIConfig{
		JWTSecret:           "router-test-secret",
		SecretEncryptionKey: "router-test-encryption",
		AccessTokenTTL:      15 * time.Minute,
		RefreshTokenTTL:     24 * time.Hour,
	}
}

func setupRouter(t *testing.T, store *storeStub) *Router {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := testRouterConfig()
	authSvc := auth.New(store, store, log, cfg)
	projectSvc := project.New(store, store, store, log)
	hookSvc := hook.New(store, store, log, cfg)
	errlogSvc := errlog.New(store, store, noopSummarizer{}, noopDispatcher{}, nil, log)
	adminSvc := admin.New(store, store, store, store, log)
	router := NewRouter(log, authSvc, projectSvc, errlogSvc, hookSvc, adminSvc, NewMemoryRateLimiter(), nil)
	t.Cleanup(router.Close)
	return router
}

func seedProject(store *storeStub) domain.Project {
	store.plans["plan-free"] = domain.Plan{ID: "plan-free", Name: "Free", MaxProjects: 3}
	store.users["user-1"] = domain.User{ID: "user-1", Email: "ada@example.com", Role: domain.RoleUser, PlanID: "plan-free"}
	p := domain.Project{
		ID:          "project-1",
		OwnerID:     "user-1",
		Name:        "checkout",
		APIKey:      "api-key-1",
		SecurityKey: "security-key-1",
		CreatedAt:   time.Now().UTC(),
	}
	store.projects[p.ID] = p
	return p
}

func bearerFor(t *testing.T, userID, role string) string {
	t.Helper()
	token, err := jwtpkg.GenerateToken(userID, role, testRouterConfig().JWTSecret, time.Minute)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return "Bearer " + token
}

func postJSON(router *Router, target, authHeader string, payload any) *httptest.ResponseRecorder {
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestIngestAcceptsValidCredentialPair(t *testing.T) {
	store := newStoreStub()
	seedProject(store)
	router := setupRouter(t, store)

	req := httptest.NewRequest(http.MethodPost, "/api/ingest/api-key-1",
		strings.NewReader(`{"message":"boom","stackTrace":"at main.go:42"}`))
	req.Header.Set("X-Security-Key", "security-key-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Success bool   `json:"success"`
		ID      string `json:"id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success || resp.ID == "" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if _, ok := store.logs[resp.ID]; !ok {
		t.Fatalf("expected persisted error log %q", resp.ID)
	}
}

func TestIngestRejectsBadCredentials(t *testing.T) {
	store := newStoreStub()
	seedProject(store)
	router := setupRouter(t, store)

	req := httptest.NewRequest(http.MethodPost, "/api/ingest/wrong-key",
		strings.NewReader(`{"message":"boom"}`))
	req.Header.Set("X-Security-Key", "security-key-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong api key, got %d", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "Invalid API Key" {
		t.Fatalf("expected plain-text body %q, got %q", "Invalid API Key", got)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/ingest/api-key-1",
		strings.NewReader(`{"message":"boom"}`))
	req.Header.Set("X-Security-Key", "wrong-secret")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong security key, got %d", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "Invalid Security Key" {
		t.Fatalf("expected plain-text body %q, got %q", "Invalid Security Key", got)
	}
	if len(store.logs) != 0 {
		t.Fatalf("rejected submissions must not persist anything")
	}
}

func TestProjectRoutesRequireAuth(t *testing.T) {
	store := newStoreStub()
	seedProject(store)
	router := setupRouter(t, store)

	req := httptest.NewRequest(http.MethodGet, "/projects", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
}

func TestCreateProjectReturnsCredentialPair(t *testing.T) {
	store := newStoreStub()
	seedProject(store)
	router := setupRouter(t, store)

	rec := postJSON(router, "/projects", bearerFor(t, "user-1", domain.RoleUser), map[string]string{
		"name":       "billing",
		"tech_stack": "go",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	apiKey, _ := resp["api_key"].(string)
	securityKey, _ := resp["security_key"].(string)
	if len(apiKey) != 32 || len(securityKey) != 64 {
		t.Fatalf("unexpected credential pair lengths: %d/%d", len(apiKey), len(securityKey))
	}
}

func TestForeignProjectLooksAbsent(t *testing.T) {
	store := newStoreStub()
	seedProject(store)
	store.users["user-2"] = domain.User{ID: "user-2", Email: "eve@example.com", Role: domain.RoleUser, PlanID: "plan-free"}
	router := setupRouter(t, store)

	req := httptest.NewRequest(http.MethodGet, "/projects/project-1", nil)
	req.Header.Set("Authorization", bearerFor(t, "user-2", domain.RoleUser))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign project, got %d", rec.Code)
	}
}

func TestWebhookListingOmitsSecret(t *testing.T) {
	store := newStoreStub()
	seedProject(store)
	store.webhooks["wh-1"] = domain.Webhook{
		ID:          "wh-1",
		ProjectID:   "project-1",
		Name:        "ops",
		URL:         "https://example.com/hook",
		SecretToken: []byte("ciphertext"),
		Type:        domain.WebhookGeneric,
		IsActive:    true,
	}
	router := setupRouter(t, store)

	req := httptest.NewRequest(http.MethodGet, "/projects/project-1/webhooks", nil)
	req.Header.Set("Authorization", bearerFor(t, "user-1", domain.RoleUser))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var hooks []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &hooks); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(hooks) != 1 {
		t.Fatalf("expected 1 webhook, got %d", len(hooks))
	}
	if _, leaked := hooks[0]["secret_token"]; leaked {
		t.Fatalf("secret token must not appear in responses")
	}
	if hasSecret, _ := hooks[0]["has_secret"].(bool); !hasSecret {
		t.Fatalf("expected has_secret=true")
	}
}

func TestToggleErrorStatusEndpoint(t *testing.T) {
	store := newStoreStub()
	seedProject(store)
	store.logs["err-1"] = domain.ErrorLog{ID: "err-1", ProjectID: "project-1", Message: "boom", Status: domain.StatusOpen}
	router := setupRouter(t, store)

	rec := postJSON(router, "/errors/err-1/toggle", bearerFor(t, "user-1", domain.RoleUser), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if status, _ := resp["status"].(string); status != domain.StatusResolved {
		t.Fatalf("expected %q, got %q", domain.StatusResolved, status)
	}
}

func TestWebhookTestEndpointReportsOutcome(t *testing.T) {
	store := newStoreStub()
	seedProject(store)
	router := setupRouter(t, store)

	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ok.Close()

	rec := postJSON(router, "/webhooks/test", bearerFor(t, "user-1", domain.RoleUser), map[string]string{
		"url": ok.URL,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success {
		t.Fatalf("expected success against healthy target: %s", resp.Message)
	}

	rec = postJSON(router, "/webhooks/test", bearerFor(t, "user-1", domain.RoleUser), map[string]string{
		"url": "",
	})
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Success {
		t.Fatalf("expected failure for missing URL")
	}
}

func TestAdminStatsRequiresAdminRole(t *testing.T) {
	store := newStoreStub()
	seedProject(store)
	store.users["admin-1"] = domain.User{ID: "admin-1", Email: "root@example.com", Role: domain.RoleAdmin, PlanID: "plan-free"}
	router := setupRouter(t, store)

	req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
	req.Header.Set("Authorization", bearerFor(t, "user-1", domain.RoleUser))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
	req.Header.Set("Authorization", bearerFor(t, "admin-1", domain.RoleAdmin))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d: %s", rec.Code, rec.Body.String())
	}
	var stats struct {
		TotalUsers    int `json:"total_users"`
		TotalProjects int `json:"total_projects"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if stats.TotalUsers != 2 || stats.TotalProjects != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestRateLimitHeadersApplied(t *testing.T) {
	store := newStoreStub()
	seedProject(store)
	router := setupRouter(t, store)

	rec := postJSON(router, "/auth/login", "", map[string]string{"email": "nobody@example.com", "password": "pw"})
	if rec.Header().Get("X-RateLimit-Limit") == "" {
		t.Fatalf("expected rate limit headers on login route")
	}
}
