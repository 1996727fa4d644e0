package tracker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"log/slog"

	redis "github.com/redis/go-redis/v9"

	"github.com/deadlydiamond/devflow/internal/domain"
)

const (
	// DefaultFeedLimit bounds the event feed; the store never grows past it.
	DefaultFeedLimit = 50

	feedRedisKey     = "devflow:events:feed"
	feedRedisTimeout = 250 * time.Millisecond
)

// EventStore holds the bounded, most-recent-first deployment event feed and
// deduplicates by message id. When a redis client is provided the feed is
// mirrored so it survives restarts; mirroring is best effort and never fails
// an ingest.
type EventStore struct {
	mu     sync.Mutex
	limit  int
	events []domain.DeploymentEvent

	rdb    *redis.Client
	logger *slog.Logger
}

// NewEventStore constructs an EventStore. rdb may be nil for memory-only use.
func NewEventStore(limit int, rdb *redis.Client, logger *slog.Logger) *EventStore {
	if limit <= 0 {
		limit = DefaultFeedLimit
	}
	return &EventStore{limit: limit, rdb: rdb, logger: logger}
}

// Ingest merges a batch (most recent first) into the feed and returns only
// the events that were not already present. Re-ingesting a seen id is a no-op
// and produces no downstream work.
func (s *EventStore) Ingest(batch []domain.DeploymentEvent) []domain.DeploymentEvent {
	if len(batch) == 0 {
		return nil
	}

	s.mu.Lock()
	seen := make(map[string]struct{}, len(s.events))
	for _, event := range s.events {
		seen[event.ID] = struct{}{}
	}

	fresh := make([]domain.DeploymentEvent, 0, len(batch))
	for _, event := range batch {
		if _, dup := seen[event.ID]; dup {
			continue
		}
		seen[event.ID] = struct{}{}
		fresh = append(fresh, event)
	}
	if len(fresh) == 0 {
		s.mu.Unlock()
		return nil
	}

	s.events = append(append(make([]domain.DeploymentEvent, 0, len(fresh)+len(s.events)), fresh...), s.events...)
	if len(s.events) > s.limit {
		s.events = s.events[:s.limit]
	}
	s.mu.Unlock()

	s.mirror(fresh)
	return fresh
}

// Snapshot returns a copy of the feed, most recent first.
func (s *EventStore) Snapshot() []domain.DeploymentEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.DeploymentEvent, len(s.events))
	copy(out, s.events)
	return out
}

// LatestStatusForJob returns the most recent known status for a job id.
func (s *EventStore) LatestStatusForJob(jobID string) (domain.DeploymentStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, event := range s.events {
		if event.JobID == jobID {
			return event.Status, true
		}
	}
	return "", false
}

// Load restores the feed from the redis mirror. Without a mirror the feed
// starts empty, matching a fresh dashboard session.
func (s *EventStore) Load(ctx context.Context) error {
	if s.rdb == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	raw, err := s.rdb.LRange(ctx, feedRedisKey, 0, int64(s.limit)-1).Result()
	if err != nil {
		return err
	}
	events := make([]domain.DeploymentEvent, 0, len(raw))
	for _, item := range raw {
		var event domain.DeploymentEvent
		if err := json.Unmarshal([]byte(item), &event); err != nil {
			continue
		}
		events = append(events, event)
	}

	s.mu.Lock()
	s.events = events
	s.mu.Unlock()
	return nil
}

// mirror pushes fresh events to the redis list head and trims to the feed
// bound. Pushed in reverse so the newest event lands leftmost.
func (s *EventStore) mirror(fresh []domain.DeploymentEvent) {
	if s.rdb == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), feedRedisTimeout)
	defer cancel()

	values := make([]interface{}, 0, len(fresh))
	for i := len(fresh) - 1; i >= 0; i-- {
		payload, err := json.Marshal(fresh[i])
		if err != nil {
			continue
		}
		values = append(values, payload)
	}
	if len(values) == 0 {
		return
	}
	pipe := s.rdb.Pipeline()
	pipe.LPush(ctx, feedRedisKey, values...)
	pipe.LTrim(ctx, feedRedisKey, 0, int64(s.limit)-1)
	if _, err := pipe.Exec(ctx); err != nil && s.logger != nil {
		s.logger.Warn("event feed mirror write failed", "error", err)
	}
}
