package notify

import (
	"encoding/json"
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/deadlydiamond/devflow/internal/ws"
)

// Notification levels, matching the dashboard toast levels.
const (
	LevelInfo    = "info"
	LevelSuccess = "success"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Sink receives user-facing outcome notifications. Implementations must be
// fire-and-forget; callers never block on delivery.
type Sink interface {
	Notify(level, incidentKey, message string)
	// Clear forgets a previously reported incident so the next occurrence
	// notifies again.
	Clear(incidentKey string)
}

// Notice is the wire form pushed to stream subscribers.
type Notice struct {
	ID      string `json:"id"`
	Level   string `json:"level"`
	Message string `json:"message"`
	SentAt  string `json:"sent_at"`
}

// HubSink publishes notices to the websocket hub and the log. Incidents are
// de-duplicated by key: one notice per incident, not one per retry.
type HubSink struct {
	hub    *ws.Hub
	logger *slog.Logger

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewHubSink constructs a sink over the hub. A nil hub degrades to log-only.
func NewHubSink(hub *ws.Hub, logger *slog.Logger) *HubSink {
	return &HubSink{
		hub:    hub,
		logger: logger,
		seen:   make(map[string]struct{}),
	}
}

// Notify reports an incident once. An empty incident key disables dedup.
func (s *HubSink) Notify(level, incidentKey, message string) {
	if incidentKey != "" {
		s.mu.Lock()
		if _, dup := s.seen[incidentKey]; dup {
			s.mu.Unlock()
			return
		}
		s.seen[incidentKey] = struct{}{}
		s.mu.Unlock()
	}

	if s.logger != nil {
		switch level {
		case LevelError:
			s.logger.Error(message, "incident", incidentKey)
		case LevelWarning:
			s.logger.Warn(message, "incident", incidentKey)
		default:
			s.logger.Info(message, "incident", incidentKey)
		}
	}

	if s.hub == nil {
		return
	}
	payload, err := json.Marshal(Notice{
		ID:      uuid.NewString(),
		Level:   level,
		Message: message,
		SentAt:  time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	s.hub.Broadcast(ws.TopicNotices, payload)
}

// Clear forgets an incident key.
func (s *HubSink) Clear(incidentKey string) {
	if incidentKey == "" {
		return
	}
	s.mu.Lock()
	delete(s.seen, incidentKey)
	s.mu.Unlock()
}
