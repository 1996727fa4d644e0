package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/deadlydiamond/devflow/internal/domain"
	"github.com/deadlydiamond/devflow/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.LinkRepository       = (*Repository)(nil)
	_ repository.CredentialRepository = (*Repository)(nil)
)

// UpsertLink inserts a link or rewrites the ticket reference of an existing
// one. The stored status is preserved on conflict so a re-link never regresses
// known deployment state.
func (r *Repository) UpsertLink(ctx context.Context, link *domain.DeploymentLink) error {
	const query = `INSERT INTO deployment_links (job_id, ticket_id, status, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (job_id) DO UPDATE SET
			ticket_id = EXCLUDED.ticket_id,
			updated_at = EXCLUDED.updated_at`
	_, err := r.pool.Exec(ctx, query, link.JobID, link.TicketID, link.Status, link.UpdatedAt)
	return err
}

// GetLink fetches a link by job id.
func (r *Repository) GetLink(ctx context.Context, jobID string) (*domain.DeploymentLink, error) {
	const query = `SELECT job_id, ticket_id, status, updated_at FROM deployment_links WHERE job_id = $1`
	row := r.pool.QueryRow(ctx, query, jobID)
	var l domain.DeploymentLink
	if err := row.Scan(&l.JobID, &l.TicketID, &l.Status, &l.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &l, nil
}

// ListLinks returns all links, most recently updated first.
func (r *Repository) ListLinks(ctx context.Context) ([]domain.DeploymentLink, error) {
	const query = `SELECT job_id, ticket_id, status, updated_at FROM deployment_links ORDER BY updated_at DESC`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []domain.DeploymentLink
	for rows.Next() {
		var l domain.DeploymentLink
		if err := rows.Scan(&l.JobID, &l.TicketID, &l.Status, &l.UpdatedAt); err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// UpdateLinkStatus overwrites the cached deployment status for a linked job.
// Updating a job without a link is a no-op.
func (r *Repository) UpdateLinkStatus(ctx context.Context, jobID string, status domain.DeploymentStatus) error {
	const query = `UPDATE deployment_links SET status = $2, updated_at = NOW() WHERE job_id = $1`
	_, err := r.pool.Exec(ctx, query, jobID, status)
	return err
}

// DeleteLink removes a link by job id.
func (r *Repository) DeleteLink(ctx context.Context, jobID string) error {
	const query = `DELETE FROM deployment_links WHERE job_id = $1`
	tag, err := r.pool.Exec(ctx, query, jobID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteAllLinks clears the registry.
func (r *Repository) DeleteAllLinks(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM deployment_links`)
	return err
}

// UpsertCredential stores an encrypted integration setting.
func (r *Repository) UpsertCredential(ctx context.Context, cred *domain.IntegrationCredential) error {
	const query = `INSERT INTO integration_credentials (id, provider, name, value, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (provider, name) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = EXCLUDED.updated_at`
	_, err := r.pool.Exec(ctx, query, cred.ID, cred.Provider, cred.Name, cred.Value, cred.UpdatedAt)
	return err
}

// GetCredential fetches one credential by provider and name.
func (r *Repository) GetCredential(ctx context.Context, provider, name string) (*domain.IntegrationCredential, error) {
	const query = `SELECT id, provider, name, value, updated_at FROM integration_credentials
		WHERE provider = $1 AND name = $2`
	row := r.pool.QueryRow(ctx, query, provider, name)
	var c domain.IntegrationCredential
	if err := row.Scan(&c.ID, &c.Provider, &c.Name, &c.Value, &c.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// ListCredentials returns all credentials for a provider.
func (r *Repository) ListCredentials(ctx context.Context, provider string) ([]domain.IntegrationCredential, error) {
	const query = `SELECT id, provider, name, value, updated_at FROM integration_credentials
		WHERE provider = $1 ORDER BY name`
	rows, err := r.pool.Query(ctx, query, provider)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var creds []domain.IntegrationCredential
	for rows.Next() {
		var c domain.IntegrationCredential
		if err := rows.Scan(&c.ID, &c.Provider, &c.Name, &c.Value, &c.UpdatedAt); err != nil {
			return nil, err
		}
		creds = append(creds, c)
	}
	return creds, rows.Err()
}
