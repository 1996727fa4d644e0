package repository

import (
	"context"

	"github.com/deadlydiamond/devflow/internal/domain"
)

// LinkRepository persists deployment-to-issue links.
type LinkRepository interface {
	UpsertLink(ctx context.Context, link *domain.DeploymentLink) error
	GetLink(ctx context.Context, jobID string) (*domain.DeploymentLink, error)
	ListLinks(ctx context.Context) ([]domain.DeploymentLink, error)
	UpdateLinkStatus(ctx context.Context, jobID string, status domain.DeploymentStatus) error
	DeleteLink(ctx context.Context, jobID string) error
	DeleteAllLinks(ctx context.Context) error
}

// CredentialRepository stores encrypted integration settings.
type CredentialRepository interface {
	UpsertCredential(ctx context.Context, cred *domain.IntegrationCredential) error
	GetCredential(ctx context.Context, provider, name string) (*domain.IntegrationCredential, error)
	ListCredentials(ctx context.Context, provider string) ([]domain.IntegrationCredential, error)
}
