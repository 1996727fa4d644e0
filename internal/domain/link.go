package domain

import "time"

// DeploymentLink is a durable correlation between a deployment job and a Jira
// issue. At most one link exists per job id.
type DeploymentLink struct {
	JobID     string           `json:"job_id"`
	TicketID  string           `json:"ticket_id"`
	Status    DeploymentStatus `json:"status"`
	UpdatedAt time.Time        `json:"updated_at"`
}
