package repository

import (
	"context"
	"time"

	"github.com/faultline/faultline/internal/domain"
)

// UserRepository persists users.
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
	CountUsers(ctx context.Context) (int, error)
}

// PlanRepository reads subscription plans.
type PlanRepository interface {
	GetPlanByID(ctx context.Context, id string) (*domain.Plan, error)
	GetPlanByName(ctx context.Context, name string) (*domain.Plan, error)
	SumPlanRevenue(ctx context.Context) (float64, error)
}

// ProjectRepository persists projects and their credential pairs.
type ProjectRepository interface {
	CreateProject(ctx context.Context, project *domain.Project) error
	GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error)
	GetProjectByAPIKey(ctx context.Context, apiKey string) (*domain.Project, error)
	ListProjectsByOwner(ctx context.Context, ownerID string) ([]domain.Project, error)
	CountProjectsByOwner(ctx context.Context, ownerID string) (int, error)
	CountProjects(ctx context.Context) (int, error)
	DeleteProject(ctx context.Context, projectID string) error
	GetProjectStats(ctx context.Context, projectID string, since time.Time) (domain.ProjectStats, error)
}

// ErrorLogRepository persists ingested error reports.
type ErrorLogRepository interface {
	CreateErrorLog(ctx context.Context, log *domain.ErrorLog) error
	GetErrorLogByID(ctx context.Context, id string) (*domain.ErrorLog, error)
	ListErrorLogsByProject(ctx context.Context, projectID string, limit, offset int) ([]domain.ErrorLog, error)
	UpdateErrorLogSummary(ctx context.Context, id, summary string) error
	UpdateErrorLogStatus(ctx context.Context, id, status string) error
	CountErrorLogs(ctx context.Context) (int, error)
}

// WebhookRepository persists outbound webhook configurations.
type WebhookRepository interface {
	CreateWebhook(ctx context.Context, webhook *domain.Webhook) error
	GetWebhookByID(ctx context.Context, id string) (*domain.Webhook, error)
	ListWebhooksByProject(ctx context.Context, projectID string) ([]domain.Webhook, error)
	ListActiveWebhooksByProject(ctx context.Context, projectID string) ([]domain.Webhook, error)
	SetWebhookActive(ctx context.Context, id string, active bool) error
	DeleteWebhook(ctx context.Context, id string) error
}
