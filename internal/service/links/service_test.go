package links

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"log/slog"

	"github.com/deadlydiamond/devflow/internal/domain"
	"github.com/deadlydiamond/devflow/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// fakeLinkRepo mirrors the upsert semantics of the postgres repository: a
// conflicting insert rewrites the ticket but keeps the stored status.
type fakeLinkRepo struct {
	links map[string]domain.DeploymentLink
}

func newFakeLinkRepo() *fakeLinkRepo {
	return &fakeLinkRepo{links: make(map[string]domain.DeploymentLink)}
}

func (f *fakeLinkRepo) UpsertLink(_ context.Context, link *domain.DeploymentLink) error {
	if existing, ok := f.links[link.JobID]; ok {
		existing.TicketID = link.TicketID
		existing.UpdatedAt = link.UpdatedAt
		f.links[link.JobID] = existing
		return nil
	}
	f.links[link.JobID] = *link
	return nil
}

func (f *fakeLinkRepo) GetLink(_ context.Context, jobID string) (*domain.DeploymentLink, error) {
	link, ok := f.links[jobID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := link
	return &out, nil
}

func (f *fakeLinkRepo) ListLinks(_ context.Context) ([]domain.DeploymentLink, error) {
	out := make([]domain.DeploymentLink, 0, len(f.links))
	for _, link := range f.links {
		out = append(out, link)
	}
	return out, nil
}

func (f *fakeLinkRepo) UpdateLinkStatus(_ context.Context, jobID string, status domain.DeploymentStatus) error {
	link, ok := f.links[jobID]
	if !ok {
		return nil
	}
	link.Status = status
	link.UpdatedAt = time.Now().UTC()
	f.links[jobID] = link
	return nil
}

func (f *fakeLinkRepo) DeleteLink(_ context.Context, jobID string) error {
	if _, ok := f.links[jobID]; !ok {
		return repository.ErrNotFound
	}
	delete(f.links, jobID)
	return nil
}

func (f *fakeLinkRepo) DeleteAllLinks(_ context.Context) error {
	f.links = make(map[string]domain.DeploymentLink)
	return nil
}

type staticStatusSource map[string]domain.DeploymentStatus

func (s staticStatusSource) LatestStatusForJob(jobID string) (domain.DeploymentStatus, bool) {
	status, ok := s[jobID]
	return status, ok
}

func TestAddSeedsStatusFromEventFeed(t *testing.T) {
	repo := newFakeLinkRepo()
	svc := New(repo, staticStatusSource{"42": domain.StatusSuccessful}, nil, testLogger())

	link, err := svc.Add(context.Background(), "42", "PROJ-7")
	if err != nil {
		t.Fatalf("Add returned error: %v", err)
	}
	if link.Status != domain.StatusSuccessful {
		t.Fatalf("expected status seeded from feed, got %s", link.Status)
	}
}

func TestAddDefaultsToStartedForUnseenJob(t *testing.T) {
	repo := newFakeLinkRepo()
	svc := New(repo, staticStatusSource{}, nil, testLogger())

	link, err := svc.Add(context.Background(), "99", "PROJ-1")
	if err != nil {
		t.Fatalf("Add returned error: %v", err)
	}
	if link.Status != domain.StatusStarted {
		t.Fatalf("expected default STARTED, got %s", link.Status)
	}
}

func TestReLinkPreservesStatus(t *testing.T) {
	repo := newFakeLinkRepo()
	svc := New(repo, staticStatusSource{}, nil, testLogger())

	if _, err := svc.Add(context.Background(), "42", "PROJ-7"); err != nil {
		t.Fatalf("Add returned error: %v", err)
	}
	if err := svc.UpdateStatus(context.Background(), "42", domain.StatusFailed); err != nil {
		t.Fatalf("UpdateStatus returned error: %v", err)
	}

	link, err := svc.Add(context.Background(), "42", "PROJ-8")
	if err != nil {
		t.Fatalf("re-link returned error: %v", err)
	}
	if link.TicketID != "PROJ-8" {
		t.Fatalf("expected ticket rewritten, got %s", link.TicketID)
	}
	if link.Status != domain.StatusFailed {
		t.Fatalf("expected status preserved on re-link, got %s", link.Status)
	}
}

func TestAddValidatesInput(t *testing.T) {
	svc := New(newFakeLinkRepo(), staticStatusSource{}, nil, testLogger())
	if _, err := svc.Add(context.Background(), "", "PROJ-7"); err == nil {
		t.Fatal("expected error for empty job id")
	}
	if _, err := svc.Add(context.Background(), "42", ""); err == nil {
		t.Fatal("expected error for empty ticket id")
	}
}

func TestUpdateStatusIgnoresUnlinkedJob(t *testing.T) {
	repo := newFakeLinkRepo()
	svc := New(repo, staticStatusSource{}, nil, testLogger())
	if err := svc.UpdateStatus(context.Background(), "nope", domain.StatusFailed); err != nil {
		t.Fatalf("expected silent no-op, got %v", err)
	}
}

func TestRemovePropagatesNotFound(t *testing.T) {
	svc := New(newFakeLinkRepo(), staticStatusSource{}, nil, testLogger())
	if err := svc.Remove(context.Background(), "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClearAllEmptiesRegistry(t *testing.T) {
	repo := newFakeLinkRepo()
	svc := New(repo, staticStatusSource{}, nil, testLogger())
	if _, err := svc.Add(context.Background(), "1", "PROJ-1"); err != nil {
		t.Fatalf("Add returned error: %v", err)
	}
	if err := svc.ClearAll(context.Background()); err != nil {
		t.Fatalf("ClearAll returned error: %v", err)
	}
	list, err := svc.List(context.Background())
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected empty registry, got %d entries", len(list))
	}
}
