package tracker

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/deadlydiamond/devflow/internal/domain"
	"github.com/deadlydiamond/devflow/internal/slack"
)

// deploymentPatterns is an ordered cascade, most specific first. Order is
// semantically significant: the quoted job-name forms must run before the
// catch-all `STATUS: token` form or multi-word job names get truncated.
// First match wins. Status keywords are literal upper-case tokens; any other
// leading token is not a deployment message.
var deploymentPatterns = []*regexp.Regexp{
	// URL in parentheses (Jenkins format).
	regexp.MustCompile(`(STARTED|SUCCESSFUL|FAILED):\s*Job\s+'([^']+)\s+\[(\d+)\]'\s*\(([^)]+)\)`),
	regexp.MustCompile(`(STARTED|SUCCESSFUL|FAILED):\s*Job\s+"([^"]+)\s+\[(\d+)\]"\s*\(([^)]+)\)`),
	regexp.MustCompile(`(STARTED|SUCCESSFUL|FAILED):\s*Job\s+(\S+)\s+\[(\d+)\]\s*\(([^)]+)\)`),
	regexp.MustCompile(`(STARTED|SUCCESSFUL|FAILED):\s*(\S+)\s+\[(\d+)\]\s*\(([^)]+)\)`),
	// URL in angle brackets.
	regexp.MustCompile(`(STARTED|SUCCESSFUL|FAILED):\s*Job\s+'([^']+)\s+\[(\d+)\]'\s*\(<([^>]+)>\)`),
	regexp.MustCompile(`(STARTED|SUCCESSFUL|FAILED):\s*Job\s+"([^"]+)\s+\[(\d+)\]"\s*\(<([^>]+)>\)`),
	regexp.MustCompile(`(STARTED|SUCCESSFUL|FAILED):\s*Job\s+(\S+)\s+\[(\d+)\]\s*\(<([^>]+)>\)`),
	regexp.MustCompile(`(STARTED|SUCCESSFUL|FAILED):\s*(\S+)\s+\[(\d+)\]\s*\(<([^>]+)>\)`),
	// No URL.
	regexp.MustCompile(`(STARTED|SUCCESSFUL|FAILED):\s*Job\s+'([^']+)\s+\[(\d+)\]'\s*`),
	regexp.MustCompile(`(STARTED|SUCCESSFUL|FAILED):\s*Job\s+"([^"]+)\s+\[(\d+)\]"`),
	regexp.MustCompile(`(STARTED|SUCCESSFUL|FAILED):\s*Job\s+(\S+)\s+\[(\d+)\]`),
	regexp.MustCompile(`(STARTED|SUCCESSFUL|FAILED):\s*(\S+)\s+\[(\d+)\]`),
	regexp.MustCompile(`(STARTED|SUCCESSFUL|FAILED):\s*(\S+)`),
	// Test message formats.
	regexp.MustCompile(`Successfully parsed deployment:\s*(STARTED|SUCCESSFUL|FAILED)\s*-\s*(\S+)\s+\[(\d+)\]`),
	regexp.MustCompile(`(STARTED|SUCCESSFUL|FAILED)\s*-\s*(\S+)\s+\[(\d+)\]`),
}

// Matcher converts raw chat messages into deployment events.
type Matcher struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewMatcher constructs a Matcher.
func NewMatcher(logger *slog.Logger) *Matcher {
	return &Matcher{logger: logger, now: time.Now}
}

// Match extracts a deployment event from a message. The second return value
// is false when the message is not a deployment message; that is the expected
// case, never an error.
func (m *Matcher) Match(msg slack.Message, channelID string) (domain.DeploymentEvent, bool) {
	text := messageText(msg)
	if text == "" {
		return domain.DeploymentEvent{}, false
	}

	for _, pattern := range deploymentPatterns {
		groups := pattern.FindStringSubmatch(text)
		if groups == nil {
			continue
		}

		event := domain.DeploymentEvent{
			ID:            msg.TS,
			RawText:       text,
			JobName:       "Unknown",
			JobID:         "Unknown",
			Status:        domain.DeploymentStatus(groups[1]),
			DeploymentURL: "",
			Channel:       channelID,
			User:          messageAuthor(msg),
			Timestamp:     parseSlackTS(msg.TS, m.now),
		}
		if len(groups) > 2 && groups[2] != "" {
			event.JobName = groups[2]
		}
		if len(groups) > 3 && groups[3] != "" {
			event.JobID = groups[3]
		}
		if len(groups) > 4 && groups[4] != "" {
			event.DeploymentURL = trimSlackURL(groups[4])
		}
		if event.ID == "" {
			event.ID = strconv.FormatInt(m.now().UnixNano(), 10)
		}

		if m.logger != nil {
			m.logger.Debug("deployment message matched",
				"status", event.Status, "job_name", event.JobName, "job_id", event.JobID)
		}
		return event, true
	}
	return domain.DeploymentEvent{}, false
}

// messageText picks the text source: plain text wins over attachment content,
// attachment field values win over the fallback.
func messageText(msg slack.Message) string {
	if strings.TrimSpace(msg.Text) != "" {
		return msg.Text
	}
	if len(msg.Attachments) == 0 {
		return ""
	}
	attachment := msg.Attachments[0]
	if len(attachment.Fields) > 0 && strings.TrimSpace(attachment.Fields[0].Value) != "" {
		return attachment.Fields[0].Value
	}
	if strings.TrimSpace(attachment.Fallback) != "" {
		return attachment.Fallback
	}
	return ""
}

func messageAuthor(msg slack.Message) string {
	if msg.User != "" {
		return msg.User
	}
	if msg.BotID != "" {
		return msg.BotID
	}
	return "unknown"
}

// trimSlackURL removes the angle brackets Slack wraps links in.
func trimSlackURL(raw string) string {
	return strings.TrimSuffix(strings.TrimPrefix(raw, "<"), ">")
}

// parseSlackTS converts a Slack ts ("1726231943.000200") to a time.
func parseSlackTS(ts string, now func() time.Time) time.Time {
	if ts == "" {
		return now().UTC()
	}
	seconds, err := strconv.ParseFloat(ts, 64)
	if err != nil {
		return now().UTC()
	}
	sec := int64(seconds)
	nsec := int64((seconds - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec).UTC()
}
