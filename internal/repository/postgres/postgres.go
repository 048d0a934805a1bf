package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/faultline/faultline/internal/domain"
	"github.com/faultline/faultline/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.UserRepository     = (*Repository)(nil)
	_ repository.PlanRepository     = (*Repository)(nil)
	_ repository.ProjectRepository  = (*Repository)(nil)
	_ repository.ErrorLogRepository = (*Repository)(nil)
	_ repository.WebhookRepository  = (*Repository)(nil)
)

// CreateUser inserts a user.
func (r *Repository) CreateUser(ctx context.Context, user *domain.User) error {
	const query = `INSERT INTO users (id, name, email, password_hash, role, plan_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.pool.Exec(ctx, query, user.ID, user.Name, user.Email, user.PasswordHash, user.Role, user.PlanID, user.CreatedAt)
	return err
}

// GetUserByEmail fetches a user by email.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	const query = `SELECT id, name, email, password_hash, role, plan_id, created_at FROM users WHERE email = $1`
	return r.scanUser(r.pool.QueryRow(ctx, query, email))
}

// GetUserByID retrieves a user by identifier.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	const query = `SELECT id, name, email, password_hash, role, plan_id, created_at FROM users WHERE id = $1`
	return r.scanUser(r.pool.QueryRow(ctx, query, id))
}

func (r *Repository) scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Role, &u.PlanID, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// CountUsers counts all registered users.
func (r *Repository) CountUsers(ctx context.Context) (int, error) {
	return r.scanCount(ctx, `SELECT COUNT(1) FROM users`)
}

// GetPlanByID loads a subscription plan.
func (r *Repository) GetPlanByID(ctx context.Context, id string) (*domain.Plan, error) {
	const query = `SELECT id, name, price, description, max_projects, max_daily_logs FROM subscription_plans WHERE id = $1`
	return r.scanPlan(r.pool.QueryRow(ctx, query, id))
}

// GetPlanByName loads a subscription plan by its display name.
func (r *Repository) GetPlanByName(ctx context.Context, name string) (*domain.Plan, error) {
	const query = `SELECT id, name, price, description, max_projects, max_daily_logs FROM subscription_plans WHERE name = $1`
	return r.scanPlan(r.pool.QueryRow(ctx, query, name))
}

func (r *Repository) scanPlan(row pgx.Row) (*domain.Plan, error) {
	var p domain.Plan
	if err := row.Scan(&p.ID, &p.Name, &p.Price, &p.Description, &p.MaxProjects, &p.MaxDailyLogs); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// SumPlanRevenue totals the plan price across all users.
func (r *Repository) SumPlanRevenue(ctx context.Context) (float64, error) {
	const query = `SELECT COALESCE(SUM(p.price), 0)
		FROM users u
		INNER JOIN subscription_plans p ON p.id = u.plan_id`
	row := r.pool.QueryRow(ctx, query)
	var total float64
	if err := row.Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// CreateProject inserts a project with its credential pair.
func (r *Repository) CreateProject(ctx context.Context, project *domain.Project) error {
	const query = `INSERT INTO projects (id, owner_id, name, tech_stack, api_key, security_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.pool.Exec(ctx, query, project.ID, project.OwnerID, project.Name, project.TechStack, project.APIKey, project.SecurityKey, project.CreatedAt)
	return err
}

// GetProjectByID fetches project details.
func (r *Repository) GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error) {
	const query = `SELECT id, owner_id, name, tech_stack, api_key, security_key, created_at
		FROM projects WHERE id = $1`
	return r.scanProject(r.pool.QueryRow(ctx, query, projectID))
}

// GetProjectByAPIKey resolves the credential lookup used by ingestion.
func (r *Repository) GetProjectByAPIKey(ctx context.Context, apiKey string) (*domain.Project, error) {
	const query = `SELECT id, owner_id, name, tech_stack, api_key, security_key, created_at
		FROM projects WHERE api_key = $1`
	return r.scanProject(r.pool.QueryRow(ctx, query, apiKey))
}

func (r *Repository) scanProject(row pgx.Row) (*domain.Project, error) {
	var p domain.Project
	if err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.TechStack, &p.APIKey, &p.SecurityKey, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// ListProjectsByOwner returns projects for the provided owner.
func (r *Repository) ListProjectsByOwner(ctx context.Context, ownerID string) ([]domain.Project, error) {
	const query = `SELECT id, owner_id, name, tech_stack, api_key, security_key, created_at
		FROM projects WHERE owner_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	projects := make([]domain.Project, 0)
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.Name, &p.TechStack, &p.APIKey, &p.SecurityKey, &p.CreatedAt); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// CountProjectsByOwner counts projects owned by a user.
func (r *Repository) CountProjectsByOwner(ctx context.Context, ownerID string) (int, error) {
	return r.scanCount(ctx, `SELECT COUNT(1) FROM projects WHERE owner_id = $1`, ownerID)
}

// CountProjects counts all projects.
func (r *Repository) CountProjects(ctx context.Context) (int, error) {
	return r.scanCount(ctx, `SELECT COUNT(1) FROM projects`)
}

// DeleteProject removes a project; error logs and webhooks cascade.
func (r *Repository) DeleteProject(ctx context.Context, projectID string) error {
	const query = `DELETE FROM projects WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, projectID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// GetProjectStats aggregates error counts for the dashboard.
func (r *Repository) GetProjectStats(ctx context.Context, projectID string, since time.Time) (domain.ProjectStats, error) {
	const query = `SELECT
		COUNT(1),
		COUNT(1) FILTER (WHERE created_at >= $2),
		COUNT(1) FILTER (WHERE status = 'Open'),
		COUNT(1) FILTER (WHERE status = 'Resolved')
		FROM error_logs WHERE project_id = $1`
	row := r.pool.QueryRow(ctx, query, projectID, since)
	var stats domain.ProjectStats
	if err := row.Scan(&stats.TotalErrors, &stats.ErrorsLast24Hours, &stats.OpenErrors, &stats.ResolvedErrors); err != nil {
		return domain.ProjectStats{}, err
	}
	return stats, nil
}

// CreateErrorLog inserts an ingested error report.
func (r *Repository) CreateErrorLog(ctx context.Context, log *domain.ErrorLog) error {
	const query = `INSERT INTO error_logs (id, project_id, message, stack_trace, summary, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.pool.Exec(ctx, query, log.ID, log.ProjectID, log.Message, log.StackTrace, log.Summary, log.Status, log.CreatedAt)
	return err
}

// GetErrorLogByID fetches a single error report.
func (r *Repository) GetErrorLogByID(ctx context.Context, id string) (*domain.ErrorLog, error) {
	const query = `SELECT id, project_id, message, stack_trace, summary, status, created_at
		FROM error_logs WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, id)
	var e domain.ErrorLog
	if err := row.Scan(&e.ID, &e.ProjectID, &e.Message, &e.StackTrace, &e.Summary, &e.Status, &e.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

// ListErrorLogsByProject returns error reports newest first.
func (r *Repository) ListErrorLogsByProject(ctx context.Context, projectID string, limit, offset int) ([]domain.ErrorLog, error) {
	const query = `SELECT id, project_id, message, stack_trace, summary, status, created_at
		FROM error_logs WHERE project_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, query, projectID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.ErrorLog, 0)
	for rows.Next() {
		var e domain.ErrorLog
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.Message, &e.StackTrace, &e.Summary, &e.Status, &e.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, e)
	}
	return logs, rows.Err()
}

// UpdateErrorLogSummary writes the enrichment result. Last write wins.
func (r *Repository) UpdateErrorLogSummary(ctx context.Context, id, summary string) error {
	const query = `UPDATE error_logs SET summary = $2 WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id, summary)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// UpdateErrorLogStatus flips an error between Open and Resolved.
func (r *Repository) UpdateErrorLogStatus(ctx context.Context, id, status string) error {
	const query = `UPDATE error_logs SET status = $2 WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// CountErrorLogs counts all error reports.
func (r *Repository) CountErrorLogs(ctx context.Context) (int, error) {
	return r.scanCount(ctx, `SELECT COUNT(1) FROM error_logs`)
}

// CreateWebhook inserts a webhook configuration.
func (r *Repository) CreateWebhook(ctx context.Context, webhook *domain.Webhook) error {
	const query = `INSERT INTO webhooks (id, project_id, name, url, secret_token, type, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.pool.Exec(ctx, query, webhook.ID, webhook.ProjectID, webhook.Name, webhook.URL, webhook.SecretToken, webhook.Type, webhook.IsActive, webhook.CreatedAt)
	return err
}

// GetWebhookByID loads a single webhook configuration.
func (r *Repository) GetWebhookByID(ctx context.Context, id string) (*domain.Webhook, error) {
	const query = `SELECT id, project_id, name, url, secret_token, type, is_active, created_at
		FROM webhooks WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, id)
	var wh domain.Webhook
	if err := row.Scan(&wh.ID, &wh.ProjectID, &wh.Name, &wh.URL, &wh.SecretToken, &wh.Type, &wh.IsActive, &wh.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &wh, nil
}

// ListWebhooksByProject returns all webhooks configured for a project.
func (r *Repository) ListWebhooksByProject(ctx context.Context, projectID string) ([]domain.Webhook, error) {
	const query = `SELECT id, project_id, name, url, secret_token, type, is_active, created_at
		FROM webhooks WHERE project_id = $1 ORDER BY created_at ASC`
	return r.queryWebhooks(ctx, query, projectID)
}

// ListActiveWebhooksByProject returns only webhooks eligible for fan-out.
func (r *Repository) ListActiveWebhooksByProject(ctx context.Context, projectID string) ([]domain.Webhook, error) {
	const query = `SELECT id, project_id, name, url, secret_token, type, is_active, created_at
		FROM webhooks WHERE project_id = $1 AND is_active ORDER BY created_at ASC`
	return r.queryWebhooks(ctx, query, projectID)
}

func (r *Repository) queryWebhooks(ctx context.Context, query string, args ...any) ([]domain.Webhook, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	hooks := make([]domain.Webhook, 0)
	for rows.Next() {
		var wh domain.Webhook
		if err := rows.Scan(&wh.ID, &wh.ProjectID, &wh.Name, &wh.URL, &wh.SecretToken, &wh.Type, &wh.IsActive, &wh.CreatedAt); err != nil {
			return nil, err
		}
		hooks = append(hooks, wh)
	}
	return hooks, rows.Err()
}

// SetWebhookActive toggles whether a webhook participates in fan-out.
func (r *Repository) SetWebhookActive(ctx context.Context, id string, active bool) error {
	const query = `UPDATE webhooks SET is_active = $2 WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteWebhook removes a webhook configuration.
func (r *Repository) DeleteWebhook(ctx context.Context, id string) error {
	const query = `DELETE FROM webhooks WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *Repository) scanCount(ctx context.Context, query string, args ...any) (int, error) {
	row := r.pool.QueryRow(ctx, query, args...)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
