package admin

import (
	"context"

	"log/slog"

	"github.com/faultline/faultline/internal/repository"
)

// Service surfaces platform-wide counts for the admin dashboard.
type Service struct {
	users    repository.UserRepository
	plans    repository.PlanRepository
	projects repository.ProjectRepository
	logs     repository.ErrorLogRepository
	logger   *slog.Logger
}

// New constructs an admin service.
func New(users repository.UserRepository, plans repository.PlanRepository, projects repository.ProjectRepository, logs repository.ErrorLogRepository, logger *slog.Logger) Service {
	return Service{users: users, plans: plans, projects: projects, logs: logs, logger: logger}
}

// Stats aggregates platform totals.
type Stats struct {
	TotalUsers    int     `json:"total_users"`
	TotalProjects int     `json:"total_projects"`
	TotalErrors   int     `json:"total_errors"`
	TotalRevenue  float64 `json:"total_revenue"`
}

// Overview collects the admin dashboard counters.
func (s Service) Overview(ctx context.Context) (Stats, error) {
	users, err := s.users.CountUsers(ctx)
	if err != nil {
		return Stats{}, err
	}
	projects, err := s.projects.CountProjects(ctx)
	if err != nil {
		return Stats{}, err
	}
	errorsTotal, err := s.logs.CountErrorLogs(ctx)
	if err != nil {
		return Stats{}, err
	}
	revenue, err := s.plans.SumPlanRevenue(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		TotalUsers:    users,
		TotalProjects: projects,
		TotalErrors:   errorsTotal,
		TotalRevenue:  revenue,
	}, nil
}
