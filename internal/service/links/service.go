package links

import (
	"context"
	"errors"
	"fmt"
	"time"

	"log/slog"

	"github.com/deadlydiamond/devflow/internal/domain"
	"github.com/deadlydiamond/devflow/internal/notify"
	"github.com/deadlydiamond/devflow/internal/repository"
)

// LatestStatusSource reports the most recent observed deployment status for a
// job, used to seed brand-new links.
type LatestStatusSource interface {
	LatestStatusForJob(jobID string) (domain.DeploymentStatus, bool)
}

// Service manages the deployment link registry. Every mutation persists
// immediately so a restart replays the last known state.
type Service struct {
	repo     repository.LinkRepository
	events   LatestStatusSource
	notifier notify.Sink
	logger   *slog.Logger
}

// New returns a link registry service.
func New(repo repository.LinkRepository, events LatestStatusSource, notifier notify.Sink, logger *slog.Logger) Service {
	return Service{repo: repo, events: events, notifier: notifier, logger: logger}
}

// Add links a job to an issue. Re-linking an existing job rewrites the ticket
// reference and timestamp but preserves the stored deployment status; a new
// link's status is seeded from the latest observed event for the job,
// defaulting to STARTED.
func (s Service) Add(ctx context.Context, jobID, ticketID string) (*domain.DeploymentLink, error) {
	if jobID == "" || ticketID == "" {
		return nil, errors.New("job id and ticket id are required")
	}

	status := domain.StatusStarted
	if s.events != nil {
		if latest, ok := s.events.LatestStatusForJob(jobID); ok {
			status = latest
		}
	}

	link := &domain.DeploymentLink{
		JobID:     jobID,
		TicketID:  ticketID,
		Status:    status,
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.repo.UpsertLink(ctx, link); err != nil {
		return nil, fmt.Errorf("persist link: %w", err)
	}

	// The upsert preserves an existing row's status; read back the stored
	// state so callers see it.
	stored, err := s.repo.GetLink(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("reload link: %w", err)
	}
	s.logger.Info("deployment link saved", "job_id", jobID, "ticket_id", ticketID, "status", stored.Status)
	if s.notifier != nil {
		s.notifier.Notify(notify.LevelSuccess, "", fmt.Sprintf("Linked deployment %s to %s", jobID, ticketID))
	}
	return stored, nil
}

// Get returns the link for a job, or repository.ErrNotFound.
func (s Service) Get(ctx context.Context, jobID string) (*domain.DeploymentLink, error) {
	return s.repo.GetLink(ctx, jobID)
}

// List returns all links, most recently updated first.
func (s Service) List(ctx context.Context) ([]domain.DeploymentLink, error) {
	return s.repo.ListLinks(ctx)
}

// UpdateStatus overwrites the cached deployment status for a linked job.
// Jobs without a link are silently ignored.
func (s Service) UpdateStatus(ctx context.Context, jobID string, status domain.DeploymentStatus) error {
	if err := s.repo.UpdateLinkStatus(ctx, jobID, status); err != nil {
		return fmt.Errorf("update link status: %w", err)
	}
	return nil
}

// Remove deletes the link for a job.
func (s Service) Remove(ctx context.Context, jobID string) error {
	if err := s.repo.DeleteLink(ctx, jobID); err != nil {
		return err
	}
	s.logger.Info("deployment link removed", "job_id", jobID)
	if s.notifier != nil {
		s.notifier.Notify(notify.LevelInfo, "", fmt.Sprintf("Removed deployment link for %s", jobID))
	}
	return nil
}

// ClearAll removes every link.
func (s Service) ClearAll(ctx context.Context) error {
	if err := s.repo.DeleteAllLinks(ctx); err != nil {
		return fmt.Errorf("clear links: %w", err)
	}
	if s.notifier != nil {
		s.notifier.Notify(notify.LevelInfo, "", "Cleared all deployment links")
	}
	return nil
}
