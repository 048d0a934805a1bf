package project

import (
	"context"
	"errors"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/faultline/faultline/internal/domain"
	"github.com/faultline/faultline/internal/repository"
	"github.com/faultline/faultline/pkg/crypto"
)

// Service orchestrates project management.
type Service struct {
	projects repository.ProjectRepository
	users    repository.UserRepository
	plans    repository.PlanRepository
	logger   *slog.Logger
}

// New returns a project service.
func New(projects repository.ProjectRepository, users repository.UserRepository, plans repository.PlanRepository, logger *slog.Logger) Service {
	return Service{projects: projects, users: users, plans: plans, logger: logger}
}

// Summary combines a project with its aggregated error counts.
type Summary struct {
	Project domain.Project
	Stats   domain.ProjectStats
}

var (
	ErrQuotaExceeded    = errors.New("project limit reached for current plan")
	ErrNotOwner         = errors.New("project does not belong to user")
	errInvalidName      = errors.New("project name is required")
	errInvalidTechStack = errors.New("tech stack is required")
	errMissingOwnerID   = errors.New("owner id required")
	errMissingProjectID = errors.New("project id required")
)

// Create registers a new project, minting its API and security keys.
// The owning plan's MaxProjects cap is enforced at creation time only.
func (s Service) Create(ctx context.Context, ownerID, name, techStack string) (*domain.Project, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errInvalidName
	}
	if strings.TrimSpace(techStack) == "" {
		return nil, errInvalidTechStack
	}
	user, err := s.users.GetUserByID(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	plan, err := s.plans.GetPlanByID(ctx, user.PlanID)
	if err != nil {
		return nil, err
	}
	count, err := s.projects.CountProjectsByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if count >= plan.MaxProjects {
		return nil, ErrQuotaExceeded
	}
	apiKey, err := crypto.GenerateAPIKey()
	if err != nil {
		return nil, err
	}
	securityKey, err := crypto.GenerateSecurityKey()
	if err != nil {
		return nil, err
	}
	project := &domain.Project{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		Name:        strings.TrimSpace(name),
		TechStack:   strings.TrimSpace(techStack),
		APIKey:      apiKey,
		SecurityKey: securityKey,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.projects.CreateProject(ctx, project); err != nil {
		return nil, err
	}
	s.logger.Info("project created", "project_id", project.ID, "owner_id", ownerID)
	return project, nil
}

// ListByOwner returns the owner's projects with their error statistics.
func (s Service) ListByOwner(ctx context.Context, ownerID string) ([]Summary, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, errMissingOwnerID
	}
	projects, err := s.projects.ListProjectsByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	since := time.Now().UTC().Add(-24 * time.Hour)
	summaries := make([]Summary, 0, len(projects))
	for _, p := range projects {
		stats, err := s.projects.GetProjectStats(ctx, p.ID, since)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, Summary{Project: p, Stats: stats})
	}
	return summaries, nil
}

// GetOwned returns a project only when the caller owns it.
func (s Service) GetOwned(ctx context.Context, ownerID, projectID string) (*domain.Project, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, errMissingProjectID
	}
	project, err := s.projects.GetProjectByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if project.OwnerID != ownerID {
		return nil, ErrNotOwner
	}
	return project, nil
}

// Delete removes an owned project; associated error logs and webhooks
// cascade at the storage layer.
func (s Service) Delete(ctx context.Context, ownerID, projectID string) error {
	project, err := s.GetOwned(ctx, ownerID, projectID)
	if err != nil {
		return err
	}
	if err := s.projects.DeleteProject(ctx, project.ID); err != nil {
		return err
	}
	s.logger.Info("project deleted", "project_id", project.ID, "owner_id", ownerID)
	return nil
}
