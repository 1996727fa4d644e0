package settings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/deadlydiamond/devflow/internal/domain"
	"github.com/deadlydiamond/devflow/internal/repository"
	"github.com/deadlydiamond/devflow/pkg/crypto"
)

// Credential names stored per provider.
const (
	nameToken   = "token"
	nameChannel = "channel"
	nameBaseURL = "base_url"
	nameEmail   = "email"
)

// SlackSettings is the live Slack integration configuration.
type SlackSettings struct {
	Token     string
	ChannelID string
}

// JiraSettings is the live Jira integration configuration.
type JiraSettings struct {
	BaseURL  string
	Email    string
	APIToken string
}

// Service stores integration credentials encrypted at rest and serves them to
// the upstream clients. A snapshot is kept in memory so token lookups on the
// poll path never touch the database; updates refresh the snapshot, so
// settings changes apply without a restart. Environment values act as the
// fallback until something is saved.
type Service struct {
	repo      repository.CredentialRepository
	cipherKey string
	logger    *slog.Logger

	mu    sync.RWMutex
	slack SlackSettings
	jira  JiraSettings
}

// New constructs the settings service seeded with environment fallbacks.
func New(repo repository.CredentialRepository, cipherKey string, envSlack SlackSettings, envJira JiraSettings, logger *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		cipherKey: cipherKey,
		logger:    logger,
		slack:     envSlack,
		jira:      envJira,
	}
}

// Load overlays stored credentials onto the environment fallbacks. Missing
// rows are not an error; a value that fails to decrypt is skipped so one bad
// row cannot take the integration down.
func (s *Service) Load(ctx context.Context) error {
	slackVals, err := s.loadProvider(ctx, domain.ProviderSlack)
	if err != nil {
		return fmt.Errorf("load slack credentials: %w", err)
	}
	jiraVals, err := s.loadProvider(ctx, domain.ProviderJira)
	if err != nil {
		return fmt.Errorf("load jira credentials: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := slackVals[nameToken]; ok {
		s.slack.Token = v
	}
	if v, ok := slackVals[nameChannel]; ok {
		s.slack.ChannelID = v
	}
	if v, ok := jiraVals[nameBaseURL]; ok {
		s.jira.BaseURL = v
	}
	if v, ok := jiraVals[nameEmail]; ok {
		s.jira.Email = v
	}
	if v, ok := jiraVals[nameToken]; ok {
		s.jira.APIToken = v
	}
	return nil
}

func (s *Service) loadProvider(ctx context.Context, provider string) (map[string]string, error) {
	creds, err := s.repo.ListCredentials(ctx, provider)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	values := make(map[string]string, len(creds))
	for _, cred := range creds {
		plain, err := crypto.DecryptToString(s.cipherKey, cred.Value)
		if err != nil {
			s.logger.Warn("credential decrypt failed, skipping", "provider", provider, "name", cred.Name)
			continue
		}
		values[cred.Name] = plain
	}
	return values, nil
}

// Slack returns the current Slack settings.
func (s *Service) Slack() SlackSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.slack
}

// Jira returns the current Jira settings.
func (s *Service) Jira() JiraSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jira
}

// SlackToken reads the current bot token, for use as a slack.TokenSource.
func (s *Service) SlackToken() string {
	return s.Slack().Token
}

// SlackChannelID reads the channel the listener polls.
func (s *Service) SlackChannelID() string {
	return s.Slack().ChannelID
}

// JiraCredentials reads the current Jira connection triple.
func (s *Service) JiraCredentials() (string, string, string) {
	j := s.Jira()
	return j.BaseURL, j.Email, j.APIToken
}

// SetSlack persists and activates new Slack settings. Empty fields keep their
// previous value.
func (s *Service) SetSlack(ctx context.Context, in SlackSettings) error {
	current := s.Slack()
	if strings.TrimSpace(in.Token) != "" {
		current.Token = strings.TrimSpace(in.Token)
		if err := s.store(ctx, domain.ProviderSlack, nameToken, current.Token); err != nil {
			return err
		}
	}
	if strings.TrimSpace(in.ChannelID) != "" {
		current.ChannelID = strings.TrimSpace(in.ChannelID)
		if err := s.store(ctx, domain.ProviderSlack, nameChannel, current.ChannelID); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.slack = current
	s.mu.Unlock()
	s.logger.Info("slack settings updated", "channel_id", current.ChannelID)
	return nil
}

// SetJira persists and activates new Jira settings. Empty fields keep their
// previous value.
func (s *Service) SetJira(ctx context.Context, in JiraSettings) error {
	current := s.Jira()
	if strings.TrimSpace(in.BaseURL) != "" {
		current.BaseURL = strings.TrimRight(strings.TrimSpace(in.BaseURL), "/")
		if err := s.store(ctx, domain.ProviderJira, nameBaseURL, current.BaseURL); err != nil {
			return err
		}
	}
	if strings.TrimSpace(in.Email) != "" {
		current.Email = strings.TrimSpace(in.Email)
		if err := s.store(ctx, domain.ProviderJira, nameEmail, current.Email); err != nil {
			return err
		}
	}
	if strings.TrimSpace(in.APIToken) != "" {
		current.APIToken = strings.TrimSpace(in.APIToken)
		if err := s.store(ctx, domain.ProviderJira, nameToken, current.APIToken); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.jira = current
	s.mu.Unlock()
	s.logger.Info("jira settings updated", "base_url", current.BaseURL)
	return nil
}

func (s *Service) store(ctx context.Context, provider, name, value string) error {
	sealed, err := crypto.EncryptString(s.cipherKey, value)
	if err != nil {
		return fmt.Errorf("encrypt %s/%s: %w", provider, name, err)
	}
	cred := &domain.IntegrationCredential{
		ID:        uuid.NewString(),
		Provider:  provider,
		Name:      name,
		Value:     sealed,
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.repo.UpsertCredential(ctx, cred); err != nil {
		return fmt.Errorf("persist %s/%s: %w", provider, name, err)
	}
	return nil
}
