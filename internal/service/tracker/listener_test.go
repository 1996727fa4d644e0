package tracker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/deadlydiamond/devflow/internal/domain"
	"github.com/deadlydiamond/devflow/internal/repository"
	"github.com/deadlydiamond/devflow/internal/service/syncer"
	"github.com/deadlydiamond/devflow/internal/slack"
)

type fakeChat struct {
	messages []slack.Message
	err      error
	calls    int
	oldest   []string
}

func (f *fakeChat) FetchHistory(_ context.Context, _, oldest string, _ int) ([]slack.Message, error) {
	f.calls++
	f.oldest = append(f.oldest, oldest)
	if f.err != nil {
		return nil, f.err
	}
	return f.messages, nil
}

type fakeLinks struct {
	links         map[string]*domain.DeploymentLink
	statusUpdates []domain.DeploymentStatus
}

func (f *fakeLinks) Get(_ context.Context, jobID string) (*domain.DeploymentLink, error) {
	link, ok := f.links[jobID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return link, nil
}

func (f *fakeLinks) UpdateStatus(_ context.Context, _ string, status domain.DeploymentStatus) error {
	f.statusUpdates = append(f.statusUpdates, status)
	return nil
}

type syncCall struct {
	ticket string
	status domain.DeploymentStatus
}

type fakeSyncer struct {
	calls []syncCall
	err   error
}

func (f *fakeSyncer) Synchronize(_ context.Context, ticketID string, status domain.DeploymentStatus) (syncer.Result, error) {
	f.calls = append(f.calls, syncCall{ticket: ticketID, status: status})
	if f.err != nil {
		return syncer.Result{}, f.err
	}
	return syncer.Result{Updated: true}, nil
}

func newTestListener(chat ChatClient, links LinkResolver, sync IssueSyncer) *Listener {
	return NewListener(
		chat,
		NewMatcher(testLogger()),
		NewEventStore(0, nil, testLogger()),
		links,
		sync,
		nil,
		nil,
		func() string { return "C123" },
		30*time.Second,
		100,
		testLogger(),
	)
}

func TestCycleSyncsLinkedJobExactlyOnce(t *testing.T) {
	chat := &fakeChat{messages: []slack.Message{
		{User: "U1", Text: "SUCCESSFUL: Job 'Web [42]' (https://ci.example/42)", TS: "100.0"},
		{User: "U1", Text: "lunch anyone?", TS: "99.0"},
	}}
	linkStore := &fakeLinks{links: map[string]*domain.DeploymentLink{
		"42": {JobID: "42", TicketID: "PROJ-7", Status: domain.StatusStarted},
	}}
	sync := &fakeSyncer{}
	listener := newTestListener(chat, linkStore, sync)

	listener.cycle(context.Background())

	if len(sync.calls) != 1 {
		t.Fatalf("expected one sync call, got %d", len(sync.calls))
	}
	if sync.calls[0].ticket != "PROJ-7" || sync.calls[0].status != domain.StatusSuccessful {
		t.Fatalf("unexpected sync call: %+v", sync.calls[0])
	}
	if len(linkStore.statusUpdates) != 1 || linkStore.statusUpdates[0] != domain.StatusSuccessful {
		t.Fatalf("expected one link status update, got %+v", linkStore.statusUpdates)
	}
	if got := len(listener.store.Snapshot()); got != 1 {
		t.Fatalf("expected one event ingested, got %d", got)
	}

	// The same history replayed yields no new work.
	listener.lastSeenTS = ""
	listener.cycle(context.Background())
	if len(sync.calls) != 1 {
		t.Fatalf("expected no sync on duplicate events, got %d calls", len(sync.calls))
	}
	if len(linkStore.statusUpdates) != 1 {
		t.Fatalf("expected no repeat status update, got %d", len(linkStore.statusUpdates))
	}
}

func TestCycleAdvancesHistoryCursor(t *testing.T) {
	chat := &fakeChat{messages: []slack.Message{
		{Text: "STARTED: Job 'Web [1]'", TS: "50.0"},
	}}
	listener := newTestListener(chat, &fakeLinks{links: map[string]*domain.DeploymentLink{}}, &fakeSyncer{})

	listener.cycle(context.Background())
	listener.cycle(context.Background())

	if chat.calls != 2 {
		t.Fatalf("expected 2 fetches, got %d", chat.calls)
	}
	if chat.oldest[0] != "" || chat.oldest[1] != "50.0" {
		t.Fatalf("expected cursor to advance to newest ts, got %+v", chat.oldest)
	}
}

func TestCycleSkipsUnlinkedJobs(t *testing.T) {
	chat := &fakeChat{messages: []slack.Message{
		{Text: "FAILED: Job 'Web [9]'", TS: "10.0"},
	}}
	linkStore := &fakeLinks{links: map[string]*domain.DeploymentLink{}}
	sync := &fakeSyncer{}
	listener := newTestListener(chat, linkStore, sync)

	listener.cycle(context.Background())

	if len(sync.calls) != 0 {
		t.Fatalf("expected no sync for unlinked job, got %d", len(sync.calls))
	}
	if len(linkStore.statusUpdates) != 0 {
		t.Fatalf("expected no status updates, got %d", len(linkStore.statusUpdates))
	}
	if got := len(listener.store.Snapshot()); got != 1 {
		t.Fatalf("expected event still recorded in feed, got %d", got)
	}
}

func TestCycleToleratesCooldown(t *testing.T) {
	chat := &fakeChat{err: slack.ErrCooldownActive}
	sync := &fakeSyncer{}
	listener := newTestListener(chat, &fakeLinks{links: map[string]*domain.DeploymentLink{}}, sync)

	listener.cycle(context.Background())

	if len(sync.calls) != 0 {
		t.Fatalf("expected no downstream work during cooldown, got %d", len(sync.calls))
	}
	if listener.lastSeenTS != "" {
		t.Fatalf("expected cursor untouched on fetch failure, got %q", listener.lastSeenTS)
	}
}

func TestCycleSkipsWithoutChannel(t *testing.T) {
	chat := &fakeChat{}
	listener := newTestListener(chat, &fakeLinks{links: map[string]*domain.DeploymentLink{}}, &fakeSyncer{})
	listener.channelID = func() string { return "" }

	listener.cycle(context.Background())

	if chat.calls != 0 {
		t.Fatalf("expected no fetch without a channel, got %d", chat.calls)
	}
}

func TestCycleContinuesAfterSyncError(t *testing.T) {
	chat := &fakeChat{messages: []slack.Message{
		{Text: "SUCCESSFUL: Job 'Web [2]'", TS: "20.0"},
	}}
	linkStore := &fakeLinks{links: map[string]*domain.DeploymentLink{
		"2": {JobID: "2", TicketID: "PROJ-2", Status: domain.StatusStarted},
	}}
	sync := &fakeSyncer{err: errors.New("jira down")}
	listener := newTestListener(chat, linkStore, sync)

	listener.cycle(context.Background())

	// The link status update still lands even when the issue sync fails.
	if len(linkStore.statusUpdates) != 1 {
		t.Fatalf("expected link status updated despite sync failure, got %d", len(linkStore.statusUpdates))
	}
}
