package tracker

import (
	"io"
	"testing"
	"time"

	"log/slog"

	"github.com/deadlydiamond/devflow/internal/domain"
	"github.com/deadlydiamond/devflow/internal/slack"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestMatchJenkinsQuotedJobWithURL(t *testing.T) {
	m := NewMatcher(testLogger())
	msg := slack.Message{
		User: "U1",
		Text: "SUCCESSFUL: Job 'STG-Frontend [1491]' (<https://deploy.example/job/STG-Frontend/1491/>)",
		TS:   "1726231943.000200",
	}

	event, ok := m.Match(msg, "C123")
	if !ok {
		t.Fatal("expected message to match")
	}
	if event.Status != domain.StatusSuccessful {
		t.Fatalf("expected SUCCESSFUL, got %s", event.Status)
	}
	if event.JobName != "STG-Frontend" {
		t.Fatalf("expected job name STG-Frontend, got %q", event.JobName)
	}
	if event.JobID != "1491" {
		t.Fatalf("expected job id 1491, got %q", event.JobID)
	}
	if event.DeploymentURL != "https://deploy.example/job/STG-Frontend/1491/" {
		t.Fatalf("expected angle brackets stripped from URL, got %q", event.DeploymentURL)
	}
	if event.ID != "1726231943.000200" {
		t.Fatalf("expected event id from message ts, got %q", event.ID)
	}
	if event.Channel != "C123" || event.User != "U1" {
		t.Fatalf("channel/user not carried: %+v", event)
	}
	want := time.Unix(1726231943, 0).UTC()
	if !event.Timestamp.Truncate(time.Second).Equal(want) {
		t.Fatalf("expected timestamp %v, got %v", want, event.Timestamp)
	}
}

func TestMatchQuotedJobNameKeepsSpaces(t *testing.T) {
	m := NewMatcher(testLogger())
	msg := slack.Message{Text: "FAILED: Job 'My Long Job Name [7]'", TS: "1.0"}

	event, ok := m.Match(msg, "C123")
	if !ok {
		t.Fatal("expected message to match")
	}
	if event.JobName != "My Long Job Name" {
		t.Fatalf("expected multi-word job name preserved, got %q", event.JobName)
	}
	if event.Status != domain.StatusFailed || event.JobID != "7" {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.DeploymentURL != "" {
		t.Fatalf("expected no URL, got %q", event.DeploymentURL)
	}
}

func TestMatchBareStatusToken(t *testing.T) {
	m := NewMatcher(testLogger())
	event, ok := m.Match(slack.Message{Text: "STARTED: api-gateway", TS: "2.0"}, "C123")
	if !ok {
		t.Fatal("expected catch-all pattern to match")
	}
	if event.Status != domain.StatusStarted {
		t.Fatalf("expected STARTED, got %s", event.Status)
	}
	if event.JobName != "api-gateway" {
		t.Fatalf("expected job name api-gateway, got %q", event.JobName)
	}
	if event.JobID != "Unknown" {
		t.Fatalf("expected Unknown job id, got %q", event.JobID)
	}
}

func TestMatchDashFormat(t *testing.T) {
	m := NewMatcher(testLogger())
	event, ok := m.Match(slack.Message{Text: "Successfully parsed deployment: FAILED - Payments [88]", TS: "3.0"}, "C123")
	if !ok {
		t.Fatal("expected dash format to match")
	}
	if event.Status != domain.StatusFailed || event.JobName != "Payments" || event.JobID != "88" {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func TestMatchReadsAttachmentWhenTextEmpty(t *testing.T) {
	m := NewMatcher(testLogger())
	msg := slack.Message{
		BotID: "B99",
		TS:    "4.0",
		Attachments: []slack.Attachment{{
			Fallback: "SUCCESSFUL: Job 'Web [12]'",
			Fields:   []slack.Field{{Title: "Build", Value: "STARTED: Job 'Web [13]'"}},
		}},
	}
	event, ok := m.Match(msg, "C123")
	if !ok {
		t.Fatal("expected attachment content to match")
	}
	// Field value wins over the fallback.
	if event.Status != domain.StatusStarted || event.JobID != "13" {
		t.Fatalf("expected field value to win, got %+v", event)
	}
	if event.User != "B99" {
		t.Fatalf("expected bot id as author, got %q", event.User)
	}
}

func TestMatchFallsBackToAttachmentFallback(t *testing.T) {
	m := NewMatcher(testLogger())
	msg := slack.Message{
		TS:          "5.0",
		Attachments: []slack.Attachment{{Fallback: "FAILED: Job 'Web [14]'"}},
	}
	event, ok := m.Match(msg, "C123")
	if !ok {
		t.Fatal("expected fallback text to match")
	}
	if event.Status != domain.StatusFailed || event.JobID != "14" {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func TestMatchRejectsNonDeploymentText(t *testing.T) {
	m := NewMatcher(testLogger())
	for _, text := range []string{
		"deploy finished, all good",
		"successful: Job 'Web [12]'",
		"STATUS: Web [12]",
		"",
	} {
		if _, ok := m.Match(slack.Message{Text: text, TS: "6.0"}, "C123"); ok {
			t.Fatalf("expected %q not to match", text)
		}
	}
}

func TestMatchQuotedPatternWinsOverCatchAll(t *testing.T) {
	m := NewMatcher(testLogger())
	event, ok := m.Match(slack.Message{Text: "SUCCESSFUL: Job 'Big App [3]' (https://ci.example/3)", TS: "7.0"}, "C123")
	if !ok {
		t.Fatal("expected match")
	}
	// The catch-all would truncate the name to "Job"; the quoted form must win.
	if event.JobName != "Big App" || event.JobID != "3" {
		t.Fatalf("expected quoted pattern to win, got %+v", event)
	}
	if event.DeploymentURL != "https://ci.example/3" {
		t.Fatalf("expected parenthesised URL captured, got %q", event.DeploymentURL)
	}
}
