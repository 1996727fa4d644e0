package slack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"log/slog"
)

// Typed upstream failures.
var (
	ErrRateLimited  = errors.New("slack: rate limited")
	ErrUnauthorized = errors.New("slack: invalid credentials")
)

// APIError carries a non-ok Slack API error code.
type APIError struct {
	Code string
}

func (e APIError) Error() string {
	return fmt.Sprintf("slack api error: %s", e.Code)
}

// TokenSource supplies the bot token at call time so settings updates take
// effect without a restart.
type TokenSource func() string

// Client calls the Slack Web API. Every request passes through the cooldown
// guard first; a ratelimited response trips the guard.
type Client struct {
	baseURL    string
	token      TokenSource
	guard      *CooldownGuard
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient constructs a Slack client.
func NewClient(baseURL string, token TokenSource, guard *CooldownGuard, logger *slog.Logger) *Client {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		trimmed = "https://slack.com/api"
	}
	if guard == nil {
		guard = NewCooldownGuard(time.Minute)
	}
	return &Client{
		baseURL:    trimmed,
		token:      token,
		guard:      guard,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
	}
}

// Guard exposes the cooldown guard for status reads.
func (c *Client) Guard() *CooldownGuard {
	return c.guard
}

// AuthTest verifies the configured token.
func (c *Client) AuthTest(ctx context.Context) (*Identity, error) {
	var payload Identity
	if err := c.get(ctx, "auth.test", nil, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// ListChannels returns public and private channels visible to the bot.
func (c *Client) ListChannels(ctx context.Context) ([]Channel, error) {
	params := url.Values{"types": {"public_channel,private_channel"}}
	var payload struct {
		Channels []Channel `json:"channels"`
	}
	if err := c.get(ctx, "conversations.list", params, &payload); err != nil {
		return nil, err
	}
	return payload.Channels, nil
}

// FetchHistory returns channel messages newer than oldest (a Slack ts string,
// empty for the most recent page). Slack returns newest first.
func (c *Client) FetchHistory(ctx context.Context, channelID, oldest string, limit int) ([]Message, error) {
	if strings.TrimSpace(channelID) == "" {
		return nil, errors.New("slack: channel id not configured")
	}
	if limit <= 0 {
		limit = 100
	}
	params := url.Values{
		"channel": {channelID},
		"limit":   {strconv.Itoa(limit)},
	}
	if oldest != "" {
		params.Set("oldest", oldest)
	}
	var payload struct {
		Messages []Message `json:"messages"`
	}
	if err := c.get(ctx, "conversations.history", params, &payload); err != nil {
		return nil, err
	}
	return payload.Messages, nil
}

type apiEnvelope struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// get performs one Web API call. The cooldown guard is consulted before any
// network traffic; rate-limit signals trip it.
func (c *Client) get(ctx context.Context, method string, params url.Values, out any) error {
	if err := c.guard.Allow(); err != nil {
		return err
	}
	token := ""
	if c.token != nil {
		token = strings.TrimSpace(c.token())
	}
	if token == "" {
		return fmt.Errorf("%w: token not configured", ErrUnauthorized)
	}

	endpoint := c.baseURL + "/" + method
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		c.tripGuard(method)
		return ErrRateLimited
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !envelope.OK {
		switch envelope.Error {
		case "ratelimited", "rate_limited":
			c.tripGuard(method)
			return ErrRateLimited
		case "invalid_auth", "not_authed", "token_revoked", "account_inactive":
			return fmt.Errorf("%w: %s", ErrUnauthorized, envelope.Error)
		default:
			return APIError{Code: envelope.Error}
		}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) tripGuard(method string) {
	c.guard.Trip()
	if c.logger != nil {
		c.logger.Warn("slack rate limit hit, cooldown started", "method", method)
	}
}
