package domain

import "time"

// Credential providers.
const (
	ProviderSlack = "slack"
	ProviderJira  = "jira"
)

// IntegrationCredential is one encrypted settings value for an upstream
// integration, e.g. the Slack bot token or the Jira API token.
type IntegrationCredential struct {
	ID        string
	Provider  string
	Name      string
	Value     []byte
	UpdatedAt time.Time
}
