package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"log/slog"

	"github.com/deadlydiamond/devflow/internal/domain"
	"github.com/deadlydiamond/devflow/internal/notify"
	"github.com/deadlydiamond/devflow/internal/repository"
	"github.com/deadlydiamond/devflow/internal/service/syncer"
	"github.com/deadlydiamond/devflow/internal/slack"
	"github.com/deadlydiamond/devflow/internal/ws"
)

const (
	cycleTimeout = 20 * time.Second

	rateLimitIncident = "slack-rate-limit"
	authIncident      = "slack-auth"
)

// ChatClient is the slice of the Slack client the listener needs.
type ChatClient interface {
	FetchHistory(ctx context.Context, channelID, oldest string, limit int) ([]slack.Message, error)
}

// LinkResolver looks up and updates deployment links for fresh events.
type LinkResolver interface {
	Get(ctx context.Context, jobID string) (*domain.DeploymentLink, error)
	UpdateStatus(ctx context.Context, jobID string, status domain.DeploymentStatus) error
}

// IssueSyncer pushes a deployment outcome to the linked issue.
type IssueSyncer interface {
	Synchronize(ctx context.Context, ticketID string, status domain.DeploymentStatus) (syncer.Result, error)
}

// Listener polls the configured Slack channel, extracts deployment events,
// and drives linked issues through the sync engine. Cycles run sequentially;
// a slow cycle delays the next tick rather than overlapping it.
type Listener struct {
	chat     ChatClient
	matcher  *Matcher
	store    *EventStore
	links    LinkResolver
	syncer   IssueSyncer
	hub      *ws.Hub
	notifier notify.Sink
	logger   *slog.Logger

	channelID  func() string
	interval   time.Duration
	historyMax int

	lastSeenTS string
}

// NewListener constructs the poll listener. channelID is read each cycle so
// settings changes apply without a restart.
func NewListener(
	chat ChatClient,
	matcher *Matcher,
	store *EventStore,
	links LinkResolver,
	syncer IssueSyncer,
	hub *ws.Hub,
	notifier notify.Sink,
	channelID func() string,
	interval time.Duration,
	historyMax int,
	logger *slog.Logger,
) *Listener {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if historyMax <= 0 {
		historyMax = 100
	}
	return &Listener{
		chat:       chat,
		matcher:    matcher,
		store:      store,
		links:      links,
		syncer:     syncer,
		hub:        hub,
		notifier:   notifier,
		channelID:  channelID,
		interval:   interval,
		historyMax: historyMax,
		logger:     logger,
	}
}

// Run polls until ctx is cancelled. The first cycle fires immediately.
func (l *Listener) Run(ctx context.Context) {
	l.logger.Info("deployment listener started", "interval", l.interval.String())

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("deployment listener stopped")
			return
		case <-ticker.C:
			l.cycle(ctx)
		}
	}
}

// cycle runs one poll pass under its own timeout.
func (l *Listener) cycle(parent context.Context) {
	channelID := ""
	if l.channelID != nil {
		channelID = l.channelID()
	}
	if channelID == "" {
		l.logger.Debug("no slack channel configured, skipping cycle")
		return
	}

	ctx, cancel := context.WithTimeout(parent, cycleTimeout)
	defer cancel()

	messages, err := l.chat.FetchHistory(ctx, channelID, l.lastSeenTS, l.historyMax)
	if err != nil {
		l.handleFetchError(err)
		return
	}
	// A fetch succeeding means auth and rate limits are healthy again.
	if l.notifier != nil {
		l.notifier.Clear(rateLimitIncident)
		l.notifier.Clear(authIncident)
	}
	if parent.Err() != nil {
		return
	}
	if len(messages) == 0 {
		return
	}
	// Slack returns newest first; the newest ts becomes the next cursor.
	l.lastSeenTS = messages[0].TS

	matched := make([]domain.DeploymentEvent, 0, len(messages))
	for _, msg := range messages {
		if event, ok := l.matcher.Match(msg, channelID); ok {
			matched = append(matched, event)
		}
	}
	if len(matched) == 0 {
		return
	}

	fresh := l.store.Ingest(matched)
	if len(fresh) == 0 {
		return
	}
	l.logger.Info("deployment events ingested", "count", len(fresh))

	for _, event := range fresh {
		l.publish(event)
		l.propagate(ctx, event)
	}
}

// propagate updates the link registry and the linked issue for one fresh
// event. Unlinked jobs are the common case and are skipped silently.
func (l *Listener) propagate(ctx context.Context, event domain.DeploymentEvent) {
	link, err := l.links.Get(ctx, event.JobID)
	if errors.Is(err, repository.ErrNotFound) {
		return
	}
	if err != nil {
		l.logger.Error("link lookup failed", "job_id", event.JobID, "error", err)
		return
	}

	if err := l.links.UpdateStatus(ctx, event.JobID, event.Status); err != nil {
		l.logger.Error("link status update failed", "job_id", event.JobID, "error", err)
	}

	if event.Status == domain.StatusUnknown {
		return
	}
	result, err := l.syncer.Synchronize(ctx, link.TicketID, event.Status)
	if err != nil {
		// Already reported by the sync engine; log the association only.
		l.logger.Debug("issue sync failed for event", "job_id", event.JobID, "ticket", link.TicketID, "error", err)
		return
	}
	if result.Updated {
		l.logger.Info("linked issue updated", "job_id", event.JobID, "ticket", link.TicketID, "transition", result.TransitionApplied)
	}
}

// publish pushes a fresh event to stream subscribers.
func (l *Listener) publish(event domain.DeploymentEvent) {
	if l.hub == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	l.hub.Broadcast(ws.TopicEvents, payload)
}

func (l *Listener) handleFetchError(err error) {
	switch {
	case errors.Is(err, slack.ErrCooldownActive):
		l.logger.Debug("poll skipped, rate limit cooldown active")
	case errors.Is(err, slack.ErrRateLimited):
		l.logger.Warn("slack rate limited, backing off")
		if l.notifier != nil {
			l.notifier.Notify(notify.LevelWarning, rateLimitIncident,
				"Slack rate limit reached; polling paused for the cooldown window")
		}
	case errors.Is(err, slack.ErrUnauthorized):
		l.logger.Error("slack auth failed", "error", err)
		if l.notifier != nil {
			l.notifier.Notify(notify.LevelError, authIncident,
				fmt.Sprintf("Slack rejected the configured token: %v", err))
		}
	default:
		l.logger.Error("slack history fetch failed", "error", err)
	}
}
