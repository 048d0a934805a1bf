package errlog

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/faultline/faultline/internal/domain"
	"github.com/faultline/faultline/internal/repository"
	"github.com/faultline/faultline/internal/ws"
)

// enrichTimeout bounds the whole background enrichment chain: the AI call
// plus the summary write-back.
const enrichTimeout = time.Minute

// Summarizer produces an AI summary for an error, best-effort.
type Summarizer interface {
	Summarize(ctx context.Context, message, stackTrace string) (string, error)
}

// Dispatcher fans an error out to the project's webhook targets.
type Dispatcher interface {
	Dispatch(ctx context.Context, projectID string, log domain.ErrorLog)
}

// Service is the ingestion gateway. It authenticates inbound error reports
// against the project credential pair, persists them, and schedules
// enrichment and webhook fan-out without blocking the caller.
type Service struct {
	logs       repository.ErrorLogRepository
	projects   repository.ProjectRepository
	summarizer Summarizer
	dispatcher Dispatcher
	hub        *ws.Hub
	logger     *slog.Logger
}

// New constructs the gateway.
func New(logs repository.ErrorLogRepository, projects repository.ProjectRepository, summarizer Summarizer, dispatcher Dispatcher, hub *ws.Hub, logger *slog.Logger) *Service {
	return &Service{
		logs:       logs,
		projects:   projects,
		summarizer: summarizer,
		dispatcher: dispatcher,
		hub:        hub,
		logger:     logger,
	}
}

var (
	ErrInvalidAPIKey      = errors.New("invalid api key")
	ErrInvalidSecurityKey = errors.New("invalid security key")
	ErrNotOwner           = errors.New("error log does not belong to user")
	errMessageRequired    = errors.New("message is required")
)

// Submit validates the credential pair, persists the error and returns it
// immediately. Enrichment and fan-out run in the background against fresh
// contexts; their outcomes never reach the caller.
func (s *Service) Submit(ctx context.Context, apiKey, securityKey, message, stackTrace string) (*domain.ErrorLog, error) {
	if strings.TrimSpace(message) == "" {
		return nil, errMessageRequired
	}
	project, err := s.projects.GetProjectByAPIKey(ctx, apiKey)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidAPIKey
		}
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(project.SecurityKey), []byte(securityKey)) != 1 {
		return nil, ErrInvalidSecurityKey
	}
	log := &domain.ErrorLog{
		ID:         uuid.NewString(),
		ProjectID:  project.ID,
		Message:    message,
		StackTrace: stackTrace,
		Status:     domain.StatusOpen,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.logs.CreateErrorLog(ctx, log); err != nil {
		return nil, err
	}
	s.broadcast(*log)

	// Background work must not borrow the request context: the response is
	// sent before either effect completes.
	go s.enrichAsync(log.ID, log.Message, log.StackTrace)
	go s.dispatcher.Dispatch(context.Background(), project.ID, *log)

	return log, nil
}

// enrichAsync asks the summarizer for an analysis and writes it back.
// Re-running it for the same error overwrites the summary; last write wins.
func (s *Service) enrichAsync(errorID, message, stackTrace string) {
	ctx, cancel := context.WithTimeout(context.Background(), enrichTimeout)
	defer cancel()

	summary, err := s.summarizer.Summarize(ctx, message, stackTrace)
	if err != nil {
		s.logger.Warn("enrichment unavailable", "error_id", errorID, "error", err)
		return
	}
	if err := s.logs.UpdateErrorLogSummary(ctx, errorID, summary); err != nil {
		s.logger.Error("failed to store summary", "error_id", errorID, "error", err)
	}
}

// ListByProject returns error reports for an owned project, newest first.
func (s *Service) ListByProject(ctx context.Context, ownerID, projectID string, limit, offset int) ([]domain.ErrorLog, error) {
	if _, err := s.ownedProject(ctx, ownerID, projectID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.logs.ListErrorLogsByProject(ctx, projectID, limit, offset)
}

// ToggleStatus flips an error between Open and Resolved. Only the owner of
// the parent project may transition it.
func (s *Service) ToggleStatus(ctx context.Context, ownerID, errorID string) (*domain.ErrorLog, error) {
	log, err := s.logs.GetErrorLogByID(ctx, strings.TrimSpace(errorID))
	if err != nil {
		return nil, err
	}
	if _, err := s.ownedProject(ctx, ownerID, log.ProjectID); err != nil {
		return nil, err
	}
	next := domain.StatusResolved
	if log.Status == domain.StatusResolved {
		next = domain.StatusOpen
	}
	if err := s.logs.UpdateErrorLogStatus(ctx, log.ID, next); err != nil {
		return nil, err
	}
	log.Status = next
	return log, nil
}

// Hub exposes the error stream hub for HTTP handlers.
func (s *Service) Hub() *ws.Hub {
	return s.hub
}

func (s *Service) broadcast(log domain.ErrorLog) {
	if s.hub == nil {
		return
	}
	data, err := MarshalEntry(log)
	if err != nil {
		s.logger.Warn("failed to marshal error payload", "error", err)
		return
	}
	s.hub.Broadcast(log.ProjectID, data)
}

func (s *Service) ownedProject(ctx context.Context, ownerID, projectID string) (*domain.Project, error) {
	project, err := s.projects.GetProjectByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if project.OwnerID != ownerID {
		return nil, ErrNotOwner
	}
	return project, nil
}

// MarshalEntry formats an error log for streaming payloads.
func MarshalEntry(log domain.ErrorLog) ([]byte, error) {
	payload := map[string]any{
		"id":          log.ID,
		"project_id":  log.ProjectID,
		"message":     log.Message,
		"stack_trace": log.StackTrace,
		"summary":     log.Summary,
		"status":      log.Status,
		"created_at":  log.CreatedAt.Format(time.RFC3339Nano),
	}
	return json.Marshal(payload)
}
