package domain

import "time"

// DeploymentStatus is the lifecycle state extracted from a deployment message.
type DeploymentStatus string

const (
	StatusStarted    DeploymentStatus = "STARTED"
	StatusSuccessful DeploymentStatus = "SUCCESSFUL"
	StatusFailed     DeploymentStatus = "FAILED"
	StatusUnknown    DeploymentStatus = "UNKNOWN"
)

// Valid reports whether the status is one of the enumerated values.
func (s DeploymentStatus) Valid() bool {
	switch s {
	case StatusStarted, StatusSuccessful, StatusFailed, StatusUnknown:
		return true
	}
	return false
}

// DeploymentEvent is one recognized deployment message from the chat channel.
// Events are immutable once created; newer events for the same job supersede
// older ones but never mutate them.
type DeploymentEvent struct {
	ID            string           `json:"id"`
	RawText       string           `json:"raw_text"`
	JobName       string           `json:"job_name"`
	JobID         string           `json:"job_id"`
	Status        DeploymentStatus `json:"status"`
	DeploymentURL string           `json:"deployment_url,omitempty"`
	Channel       string           `json:"channel"`
	User          string           `json:"user"`
	Timestamp     time.Time        `json:"timestamp"`
}
