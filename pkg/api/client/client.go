package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client provides typed access to the devflow API for interactive tools.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = "http://localhost:4100"
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the API.
type APIError struct {
	Status  int
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body any, token string, v any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	endpoint := c.baseURL + path
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		msg := extractError(resp.Body)
		return APIError{Status: resp.StatusCode, Message: msg}
	}

	if v == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(body io.Reader) string {
	if body == nil {
		return ""
	}
	var payload struct {
		Error string `json:"error"`
	}
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return ""
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return strings.TrimSpace(string(data))
	}
	return strings.TrimSpace(payload.Error)
}

// LoginResponse captures the session payload emitted by the API.
type LoginResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
}

// Login exchanges the operator password for a session token.
func (c *Client) Login(ctx context.Context, password string) (LoginResponse, error) {
	body := map[string]string{"password": password}
	var resp LoginResponse
	if err := c.do(ctx, http.MethodPost, "/v1/auth/login", body, "", &resp); err != nil {
		return LoginResponse{}, err
	}
	return resp, nil
}

// DeploymentEvent mirrors the event feed payload.
type DeploymentEvent struct {
	ID            string    `json:"id"`
	RawText       string    `json:"raw_text"`
	JobName       string    `json:"job_name"`
	JobID         string    `json:"job_id"`
	Status        string    `json:"status"`
	DeploymentURL string    `json:"deployment_url,omitempty"`
	Channel       string    `json:"channel"`
	User          string    `json:"user"`
	Timestamp     time.Time `json:"timestamp"`
}

// ListEvents returns the recent deployment event feed, newest first.
func (c *Client) ListEvents(ctx context.Context, token string, limit int) ([]DeploymentEvent, error) {
	path := "/v1/events"
	if limit > 0 {
		path = fmt.Sprintf("%s?limit=%d", path, limit)
	}
	var events []DeploymentEvent
	if err := c.do(ctx, http.MethodGet, path, nil, token, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// DeploymentLink ties a job to an issue.
type DeploymentLink struct {
	JobID     string    `json:"job_id"`
	TicketID  string    `json:"ticket_id"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListLinks returns all deployment links.
func (c *Client) ListLinks(ctx context.Context, token string) ([]DeploymentLink, error) {
	var links []DeploymentLink
	if err := c.do(ctx, http.MethodGet, "/v1/links", nil, token, &links); err != nil {
		return nil, err
	}
	return links, nil
}

// AddLink links a job to an issue.
func (c *Client) AddLink(ctx context.Context, token, jobID, ticketID string) (DeploymentLink, error) {
	body := map[string]string{
		"job_id":    jobID,
		"ticket_id": ticketID,
	}
	var link DeploymentLink
	if err := c.do(ctx, http.MethodPost, "/v1/links", body, token, &link); err != nil {
		return DeploymentLink{}, err
	}
	return link, nil
}

// RemoveLink deletes the link for a job.
func (c *Client) RemoveLink(ctx context.Context, token, jobID string) error {
	path := fmt.Sprintf("/v1/links/%s", url.PathEscape(jobID))
	return c.do(ctx, http.MethodDelete, path, nil, token, nil)
}

// SyncResult reports the outcome of a manual sync.
type SyncResult struct {
	Updated           bool   `json:"updated"`
	TransitionApplied string `json:"transition_applied,omitempty"`
	IssueStatus       string `json:"issue_status,omitempty"`
	Reason            string `json:"reason,omitempty"`
}

// SyncLink replays the stored status of a link into the issue tracker.
func (c *Client) SyncLink(ctx context.Context, token, jobID string) (SyncResult, error) {
	path := fmt.Sprintf("/v1/links/%s/sync", url.PathEscape(jobID))
	var result SyncResult
	if err := c.do(ctx, http.MethodPost, path, nil, token, &result); err != nil {
		return SyncResult{}, err
	}
	return result, nil
}

// SlackStatus reports the Slack integration state.
type SlackStatus struct {
	ChannelID         string `json:"channel_id"`
	TokenConfigured   bool   `json:"token_configured"`
	CooldownActive    bool   `json:"cooldown_active"`
	CooldownRemaining int    `json:"cooldown_remaining"`
}

// GetSlackStatus fetches the Slack integration state.
func (c *Client) GetSlackStatus(ctx context.Context, token string) (SlackStatus, error) {
	var status SlackStatus
	if err := c.do(ctx, http.MethodGet, "/v1/integrations/slack", nil, token, &status); err != nil {
		return SlackStatus{}, err
	}
	return status, nil
}

// SetSlackSettings updates the Slack bot token and polled channel.
func (c *Client) SetSlackSettings(ctx context.Context, token, botToken, channelID string) error {
	body := map[string]string{}
	if strings.TrimSpace(botToken) != "" {
		body["token"] = botToken
	}
	if strings.TrimSpace(channelID) != "" {
		body["channel_id"] = channelID
	}
	return c.do(ctx, http.MethodPut, "/v1/integrations/slack", body, token, nil)
}

// SetJiraSettings updates the Jira connection settings.
func (c *Client) SetJiraSettings(ctx context.Context, token, baseURL, email, apiToken string) error {
	body := map[string]string{}
	if strings.TrimSpace(baseURL) != "" {
		body["base_url"] = baseURL
	}
	if strings.TrimSpace(email) != "" {
		body["email"] = email
	}
	if strings.TrimSpace(apiToken) != "" {
		body["api_token"] = apiToken
	}
	return c.do(ctx, http.MethodPut, "/v1/integrations/jira", body, token, nil)
}
