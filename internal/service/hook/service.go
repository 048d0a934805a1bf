package hook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/faultline/faultline/internal/domain"
	"github.com/faultline/faultline/internal/repository"
	"github.com/faultline/faultline/pkg/config"
	"github.com/faultline/faultline/pkg/crypto"
)

const secretHeader = "X-Webhook-Secret"

// Service manages webhook configurations and fans ingested errors out to
// the configured targets. Delivery failures never propagate to callers.
type Service struct {
	hooks    repository.WebhookRepository
	projects repository.ProjectRepository
	client   *http.Client
	logger   *slog.Logger
	cfg      config.APIConfig
}

// New constructs a webhook service.
func New(hooks repository.WebhookRepository, projects repository.ProjectRepository, logger *slog.Logger, cfg config.APIConfig) Service {
	timeout := cfg.WebhookTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return Service{
		hooks:    hooks,
		projects: projects,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
		cfg:      cfg,
	}
}

var (
	ErrInvalidURL  = errors.New("webhook URL must be an absolute http or https URL")
	ErrInvalidType = errors.New("webhook type must be Generic, Discord or Telegram")
	ErrNotOwner    = errors.New("webhook does not belong to user")
	errNameMissing = errors.New("webhook name is required")
)

// CreateInput holds webhook creation attributes.
type CreateInput struct {
	ProjectID   string `json:"project_id"`
	Name        string `json:"name"`
	URL         string `json:"url"`
	SecretToken string `json:"secret_token"`
	Type        string `json:"type"`
}

// Create validates and stores a webhook for an owned project. The secret
// token is encrypted at rest.
func (s Service) Create(ctx context.Context, ownerID string, input CreateInput) (*domain.Webhook, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, errNameMissing
	}
	parsed, err := url.Parse(strings.TrimSpace(input.URL))
	if err != nil || !parsed.IsAbs() || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, ErrInvalidURL
	}
	hookType := strings.TrimSpace(input.Type)
	if hookType == "" {
		hookType = domain.WebhookGeneric
	}
	if _, ok := formatters[hookType]; !ok {
		return nil, ErrInvalidType
	}
	if _, err := s.ownedProject(ctx, ownerID, input.ProjectID); err != nil {
		return nil, err
	}
	var secret []byte
	if token := strings.TrimSpace(input.SecretToken); token != "" {
		secret, err = crypto.EncryptString(s.cfg.SecretEncryptionKey, token)
		if err != nil {
			return nil, err
		}
	}
	webhook := &domain.Webhook{
		ID:          uuid.NewString(),
		ProjectID:   input.ProjectID,
		Name:        strings.TrimSpace(input.Name),
		URL:         parsed.String(),
		SecretToken: secret,
		Type:        hookType,
		IsActive:    true,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.hooks.CreateWebhook(ctx, webhook); err != nil {
		return nil, err
	}
	s.logger.Info("webhook created", "webhook_id", webhook.ID, "project_id", webhook.ProjectID, "type", webhook.Type)
	return webhook, nil
}

// ListByProject returns webhooks for an owned project.
func (s Service) ListByProject(ctx context.Context, ownerID, projectID string) ([]domain.Webhook, error) {
	if _, err := s.ownedProject(ctx, ownerID, projectID); err != nil {
		return nil, err
	}
	return s.hooks.ListWebhooksByProject(ctx, projectID)
}

// Toggle flips a webhook's active flag and reports the new state.
func (s Service) Toggle(ctx context.Context, ownerID, webhookID string) (bool, error) {
	webhook, err := s.ownedWebhook(ctx, ownerID, webhookID)
	if err != nil {
		return false, err
	}
	next := !webhook.IsActive
	if err := s.hooks.SetWebhookActive(ctx, webhook.ID, next); err != nil {
		return false, err
	}
	return next, nil
}

// Delete removes an owned webhook.
func (s Service) Delete(ctx context.Context, ownerID, webhookID string) error {
	webhook, err := s.ownedWebhook(ctx, ownerID, webhookID)
	if err != nil {
		return err
	}
	return s.hooks.DeleteWebhook(ctx, webhook.ID)
}

// Dispatch delivers one error.created event to every active webhook of the
// project. Deliveries run concurrently with isolated failure handling;
// Dispatch returns once all of them have settled.
func (s Service) Dispatch(ctx context.Context, projectID string, log domain.ErrorLog) {
	hooks, err := s.hooks.ListActiveWebhooksByProject(ctx, projectID)
	if err != nil {
		s.logger.Error("failed to load webhooks for fan-out", "project_id", projectID, "error", err)
		return
	}
	if len(hooks) == 0 {
		return
	}
	evt := NewEvent(projectID, log)
	var wg sync.WaitGroup
	for _, webhook := range hooks {
		wg.Add(1)
		go func(webhook domain.Webhook) {
			defer wg.Done()
			s.deliver(ctx, webhook, evt)
		}(webhook)
	}
	wg.Wait()
}

func (s Service) deliver(ctx context.Context, webhook domain.Webhook, evt Event) {
	body, err := json.Marshal(formatPayload(webhook.Type, evt))
	if err != nil {
		s.logger.Error("failed to encode webhook payload", "webhook_id", webhook.ID, "error", err)
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook.URL, bytes.NewReader(body))
	if err != nil {
		s.logger.Error("failed to build webhook request", "webhook_id", webhook.ID, "url", webhook.URL, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	// The secret header convention only applies to the Generic dialect.
	if webhook.Type == domain.WebhookGeneric && len(webhook.SecretToken) > 0 {
		token, err := crypto.DecryptToString(s.cfg.SecretEncryptionKey, webhook.SecretToken)
		if err != nil {
			s.logger.Warn("failed to decrypt webhook secret", "webhook_id", webhook.ID, "error", err)
		} else {
			req.Header.Set(secretHeader, token)
		}
	}
	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Error("webhook delivery failed", "webhook_id", webhook.ID, "url", webhook.URL, "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.logger.Warn("webhook returned non-success status", "webhook_id", webhook.ID, "url", webhook.URL, "status", resp.StatusCode)
	}
}

// TestWebhook sends a synthetic webhook.test event to a single URL. It
// reports delivery success and never returns an error.
func (s Service) TestWebhook(ctx context.Context, targetURL, secretToken string) bool {
	payload := map[string]any{
		"event":     eventWebhookTest,
		"timestamp": time.Now().UTC(),
		"message":   "This is a test webhook from " + footerText,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("failed to encode test payload", "error", err)
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, bytes.NewReader(body))
	if err != nil {
		s.logger.Error("failed to build test request", "url", targetURL, "error", err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	if token := strings.TrimSpace(secretToken); token != "" {
		req.Header.Set(secretHeader, token)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("test webhook failed", "url", targetURL, "error", err)
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func (s Service) ownedProject(ctx context.Context, ownerID, projectID string) (*domain.Project, error) {
	project, err := s.projects.GetProjectByID(ctx, strings.TrimSpace(projectID))
	if err != nil {
		return nil, err
	}
	if project.OwnerID != ownerID {
		return nil, ErrNotOwner
	}
	return project, nil
}

func (s Service) ownedWebhook(ctx context.Context, ownerID, webhookID string) (*domain.Webhook, error) {
	webhook, err := s.hooks.GetWebhookByID(ctx, strings.TrimSpace(webhookID))
	if err != nil {
		return nil, err
	}
	if _, err := s.ownedProject(ctx, ownerID, webhook.ProjectID); err != nil {
		return nil, err
	}
	return webhook, nil
}
