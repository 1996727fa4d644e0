package settings

import (
	"context"
	"io"
	"testing"

	"log/slog"

	"github.com/deadlydiamond/devflow/internal/domain"
	"github.com/deadlydiamond/devflow/internal/repository"
	"github.com/deadlydiamond/devflow/pkg/crypto"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

type memCredRepo struct {
	creds map[string]domain.IntegrationCredential
}

func newMemCredRepo() *memCredRepo {
	return &memCredRepo{creds: make(map[string]domain.IntegrationCredential)}
}

func (m *memCredRepo) UpsertCredential(_ context.Context, cred *domain.IntegrationCredential) error {
	m.creds[cred.Provider+"/"+cred.Name] = *cred
	return nil
}

func (m *memCredRepo) GetCredential(_ context.Context, provider, name string) (*domain.IntegrationCredential, error) {
	cred, ok := m.creds[provider+"/"+name]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := cred
	return &out, nil
}

func (m *memCredRepo) ListCredentials(_ context.Context, provider string) ([]domain.IntegrationCredential, error) {
	out := make([]domain.IntegrationCredential, 0)
	for _, cred := range m.creds {
		if cred.Provider == provider {
			out = append(out, cred)
		}
	}
	return out, nil
}

func TestSetSlackEncryptsAtRest(t *testing.T) {
	repo := newMemCredRepo()
	svc := New(repo, "test-key", SlackSettings{}, JiraSettings{}, testLogger())

	if err := svc.SetSlack(context.Background(), SlackSettings{Token: "xoxb-secret", ChannelID: "C42"}); err != nil {
		t.Fatalf("SetSlack returned error: %v", err)
	}

	stored, err := repo.GetCredential(context.Background(), domain.ProviderSlack, "token")
	if err != nil {
		t.Fatalf("token not persisted: %v", err)
	}
	if string(stored.Value) == "xoxb-secret" {
		t.Fatal("token stored in plaintext")
	}
	plain, err := crypto.DecryptToString("test-key", stored.Value)
	if err != nil || plain != "xoxb-secret" {
		t.Fatalf("stored value did not round-trip: %q, %v", plain, err)
	}

	if svc.SlackToken() != "xoxb-secret" || svc.SlackChannelID() != "C42" {
		t.Fatalf("live snapshot not updated: %+v", svc.Slack())
	}
}

func TestSetSlackKeepsUnspecifiedFields(t *testing.T) {
	svc := New(newMemCredRepo(), "test-key", SlackSettings{Token: "xoxb-env", ChannelID: "CENV"}, JiraSettings{}, testLogger())

	if err := svc.SetSlack(context.Background(), SlackSettings{ChannelID: "CNEW"}); err != nil {
		t.Fatalf("SetSlack returned error: %v", err)
	}
	if svc.SlackToken() != "xoxb-env" {
		t.Fatalf("expected env token preserved, got %q", svc.SlackToken())
	}
	if svc.SlackChannelID() != "CNEW" {
		t.Fatalf("expected channel replaced, got %q", svc.SlackChannelID())
	}
}

func TestLoadOverlaysStoredCredentials(t *testing.T) {
	repo := newMemCredRepo()
	seed := New(repo, "test-key", SlackSettings{}, JiraSettings{}, testLogger())
	if err := seed.SetJira(context.Background(), JiraSettings{BaseURL: "https://org.atlassian.net/", Email: "bot@org.com", APIToken: "tok"}); err != nil {
		t.Fatalf("SetJira returned error: %v", err)
	}

	// A fresh service over the same store picks up the saved values and
	// keeps env fallbacks where nothing was stored.
	svc := New(repo, "test-key", SlackSettings{Token: "xoxb-env"}, JiraSettings{}, testLogger())
	if err := svc.Load(context.Background()); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	baseURL, email, token := svc.JiraCredentials()
	if baseURL != "https://org.atlassian.net" || email != "bot@org.com" || token != "tok" {
		t.Fatalf("unexpected jira credentials: %s %s %s", baseURL, email, token)
	}
	if svc.SlackToken() != "xoxb-env" {
		t.Fatalf("expected env fallback kept, got %q", svc.SlackToken())
	}
}

func TestLoadSkipsUndecryptableRows(t *testing.T) {
	repo := newMemCredRepo()
	repo.creds[domain.ProviderSlack+"/token"] = domain.IntegrationCredential{
		Provider: domain.ProviderSlack,
		Name:     "token",
		Value:    []byte("garbage"),
	}
	svc := New(repo, "test-key", SlackSettings{Token: "xoxb-env"}, JiraSettings{}, testLogger())
	if err := svc.Load(context.Background()); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if svc.SlackToken() != "xoxb-env" {
		t.Fatalf("expected bad row skipped and fallback kept, got %q", svc.SlackToken())
	}
}
