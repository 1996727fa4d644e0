package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"log/slog"

	"github.com/deadlydiamond/devflow/internal/domain"
	"github.com/deadlydiamond/devflow/internal/jira"
	"github.com/deadlydiamond/devflow/internal/notify"
)

// IssueClient is the slice of the Jira client the sync engine needs.
type IssueClient interface {
	GetIssue(ctx context.Context, key string) (*jira.Issue, error)
	ListTransitions(ctx context.Context, key string) ([]jira.Transition, error)
	ApplyTransition(ctx context.Context, key, transitionID string) error
}

// satisfiedKeywords lists issue-status keywords that mean a ticket already
// reflects a deployment outcome; when the current status matches, no
// transition is attempted. Matching is case-insensitive substring.
var satisfiedKeywords = map[domain.DeploymentStatus][]string{
	domain.StatusStarted:    {"in progress", "progress", "development"},
	domain.StatusSuccessful: {"ready for test", "ready to test", "testing", "done", "complete"},
	domain.StatusFailed:     {"to do", "backlog", "open"},
}

// transitionKeywords lists the transition names to look for per outcome. A
// transition matches when its name or target status name contains a keyword;
// the first match in Jira's transition order wins.
var transitionKeywords = map[domain.DeploymentStatus][]string{
	domain.StatusStarted:    {"ready for test", "testing", "in progress", "development"},
	domain.StatusSuccessful: {"ready for test", "testing", "qa ready", "done", "complete"},
	domain.StatusFailed:     {"to do", "backlog", "open", "reopened"},
}

// Result describes the outcome of one synchronization attempt.
type Result struct {
	Updated           bool   `json:"updated"`
	TransitionApplied string `json:"transition_applied,omitempty"`
	IssueStatus       string `json:"issue_status,omitempty"`
	Reason            string `json:"reason,omitempty"`
}

// Service moves Jira issues to the workflow state implied by a deployment
// outcome. Synchronization is idempotent: re-syncing an already-aligned
// ticket is a no-op.
type Service struct {
	client   IssueClient
	notifier notify.Sink
	logger   *slog.Logger
}

// New constructs the sync engine.
func New(client IssueClient, notifier notify.Sink, logger *slog.Logger) Service {
	return Service{client: client, notifier: notifier, logger: logger}
}

// Synchronize aligns the ticket with the deployment status. UNKNOWN statuses
// never reach Jira. Returns a Result explaining what happened; err is non-nil
// only for transport or auth failures.
func (s Service) Synchronize(ctx context.Context, ticketID string, status domain.DeploymentStatus) (Result, error) {
	if ticketID == "" {
		return Result{}, errors.New("ticket id is required")
	}
	if status == domain.StatusUnknown || !status.Valid() {
		return Result{Reason: "status not actionable"}, nil
	}

	issue, err := s.client.GetIssue(ctx, ticketID)
	if err != nil {
		return Result{}, s.report(ticketID, fmt.Errorf("fetch issue: %w", err))
	}

	if statusSatisfies(issue.Status, status) {
		s.logger.Debug("issue already aligned", "ticket", ticketID, "issue_status", issue.Status, "deployment_status", status)
		return Result{IssueStatus: issue.Status, Reason: "already in target state"}, nil
	}

	transitions, err := s.client.ListTransitions(ctx, ticketID)
	if err != nil {
		return Result{}, s.report(ticketID, fmt.Errorf("list transitions: %w", err))
	}

	chosen, ok := pickTransition(transitions, status)
	if !ok {
		s.logger.Warn("no matching transition", "ticket", ticketID, "issue_status", issue.Status, "deployment_status", status)
		if s.notifier != nil {
			s.notifier.Notify(notify.LevelWarning, "sync-"+ticketID+"-no-transition",
				fmt.Sprintf("No Jira transition on %s matches deployment status %s", ticketID, status))
		}
		return Result{IssueStatus: issue.Status, Reason: "no matching transition"}, nil
	}

	if err := s.client.ApplyTransition(ctx, ticketID, chosen.ID); err != nil {
		return Result{}, s.report(ticketID, fmt.Errorf("apply transition %q: %w", chosen.Name, err))
	}

	s.logger.Info("issue transitioned", "ticket", ticketID, "transition", chosen.Name, "deployment_status", status)
	if s.notifier != nil {
		s.notifier.Clear("sync-" + ticketID + "-no-transition")
		s.notifier.Notify(notify.LevelSuccess, "",
			fmt.Sprintf("Moved %s via %q after deployment %s", ticketID, chosen.Name, status))
	}
	return Result{Updated: true, TransitionApplied: chosen.Name, IssueStatus: issue.Status}, nil
}

// report logs and notifies a sync failure once per ticket, then passes the
// error through for the caller.
func (s Service) report(ticketID string, err error) error {
	s.logger.Error("jira sync failed", "ticket", ticketID, "error", err)
	if s.notifier == nil {
		return err
	}
	switch {
	case errors.Is(err, jira.ErrUnauthorized):
		s.notifier.Notify(notify.LevelError, "jira-auth", "Jira rejected the configured credentials")
	case errors.Is(err, jira.ErrForbidden):
		s.notifier.Notify(notify.LevelError, "sync-"+ticketID+"-forbidden",
			fmt.Sprintf("Jira denied access to %s", ticketID))
	case errors.Is(err, jira.ErrNotFound):
		s.notifier.Notify(notify.LevelWarning, "sync-"+ticketID+"-missing",
			fmt.Sprintf("Jira issue %s does not exist", ticketID))
	default:
		s.notifier.Notify(notify.LevelError, "sync-"+ticketID,
			fmt.Sprintf("Failed to sync %s: %v", ticketID, err))
	}
	return err
}

// statusSatisfies reports whether the issue's current status already reflects
// the deployment outcome.
func statusSatisfies(issueStatus string, status domain.DeploymentStatus) bool {
	current := strings.ToLower(issueStatus)
	for _, keyword := range satisfiedKeywords[status] {
		if strings.Contains(current, keyword) {
			return true
		}
	}
	return false
}

// pickTransition selects the first transition, in the order Jira returned
// them, whose name or target status contains any keyword for the outcome.
func pickTransition(transitions []jira.Transition, status domain.DeploymentStatus) (jira.Transition, bool) {
	for _, transition := range transitions {
		name := strings.ToLower(transition.Name)
		target := strings.ToLower(transition.TargetStatusName)
		for _, keyword := range transitionKeywords[status] {
			if strings.Contains(name, keyword) || strings.Contains(target, keyword) {
				return transition, true
			}
		}
	}
	return jira.Transition{}, false
}
