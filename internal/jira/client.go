package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"log/slog"
)

// Typed upstream failures, mapped from HTTP status codes the way the
// dashboard surfaces them to the user.
var (
	ErrUnauthorized = errors.New("jira: invalid credentials")
	ErrForbidden    = errors.New("jira: insufficient permissions")
	ErrNotFound     = errors.New("jira: issue not found")
)

// APIError carries an unexpected Jira response status.
type APIError struct {
	Status  int
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("jira request failed with status %d", e.Status)
	}
	return fmt.Sprintf("jira request failed (%d): %s", e.Status, e.Message)
}

// Credentials supplies the Jira base URL and basic-auth pair at call time.
type Credentials func() (baseURL, email, apiToken string)

// Issue is the subset of an issue the tracker reads.
type Issue struct {
	Key     string
	Summary string
	Status  string
}

// Transition is one workflow operation currently available on an issue.
type Transition struct {
	ID               string
	Name             string
	TargetStatusName string
}

// Client calls the Jira REST API v2.
type Client struct {
	creds      Credentials
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient constructs a Jira client.
func NewClient(creds Credentials, logger *slog.Logger) *Client {
	return &Client{
		creds:      creds,
		httpClient: &http.Client{Timeout: 20 * time.Second},
		logger:     logger,
	}
}

// AuthTest verifies the configured credentials against /myself.
func (c *Client) AuthTest(ctx context.Context) (string, error) {
	var payload struct {
		DisplayName  string `json:"displayName"`
		EmailAddress string `json:"emailAddress"`
	}
	if err := c.do(ctx, http.MethodGet, "/rest/api/2/myself", nil, &payload); err != nil {
		return "", err
	}
	if payload.DisplayName != "" {
		return payload.DisplayName, nil
	}
	return payload.EmailAddress, nil
}

// GetIssue fetches an issue's summary and current workflow status name.
func (c *Client) GetIssue(ctx context.Context, issueKey string) (*Issue, error) {
	var payload struct {
		Key    string `json:"key"`
		Fields struct {
			Summary string `json:"summary"`
			Status  struct {
				Name string `json:"name"`
			} `json:"status"`
		} `json:"fields"`
	}
	path := fmt.Sprintf("/rest/api/2/issue/%s?fields=summary,status", strings.TrimSpace(issueKey))
	if err := c.do(ctx, http.MethodGet, path, nil, &payload); err != nil {
		return nil, err
	}
	return &Issue{
		Key:     payload.Key,
		Summary: payload.Fields.Summary,
		Status:  payload.Fields.Status.Name,
	}, nil
}

// ListTransitions returns the workflow transitions available on the issue, in
// the order Jira reports them. That order matters: the sync engine picks the
// first keyword match.
func (c *Client) ListTransitions(ctx context.Context, issueKey string) ([]Transition, error) {
	var payload struct {
		Transitions []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
			To   struct {
				Name string `json:"name"`
			} `json:"to"`
		} `json:"transitions"`
	}
	path := fmt.Sprintf("/rest/api/2/issue/%s/transitions", strings.TrimSpace(issueKey))
	if err := c.do(ctx, http.MethodGet, path, nil, &payload); err != nil {
		return nil, err
	}
	transitions := make([]Transition, 0, len(payload.Transitions))
	for _, t := range payload.Transitions {
		transitions = append(transitions, Transition{
			ID:               t.ID,
			Name:             t.Name,
			TargetStatusName: t.To.Name,
		})
	}
	return transitions, nil
}

// ApplyTransition executes a workflow transition on the issue.
func (c *Client) ApplyTransition(ctx context.Context, issueKey, transitionID string) error {
	body := map[string]any{
		"transition": map[string]string{"id": transitionID},
	}
	path := fmt.Sprintf("/rest/api/2/issue/%s/transitions", strings.TrimSpace(issueKey))
	return c.do(ctx, http.MethodPost, path, body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	baseURL, email, token := c.creds()
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" || token == "" {
		return fmt.Errorf("%w: jira not configured", ErrUnauthorized)
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(email, token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusForbidden:
		return ErrForbidden
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= http.StatusBadRequest:
		return APIError{Status: resp.StatusCode, Message: extractError(resp.Body)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(body io.Reader) string {
	if body == nil {
		return ""
	}
	var payload struct {
		ErrorMessages []string `json:"errorMessages"`
	}
	if err := json.NewDecoder(io.LimitReader(body, 64<<10)).Decode(&payload); err != nil {
		return ""
	}
	return strings.Join(payload.ErrorMessages, "; ")
}
