package config

import "time"

// Config holds runtime configuration for the devflow tracker service.
type Config struct {
	Environment       string
	Addr              string
	DatabaseURL       string
	MigrationsDir     string
	JWTSecret         string
	SessionTTL        time.Duration
	AdminPasswordHash string
	CredentialKey     string

	SlackAPIBase    string
	SlackToken      string
	SlackChannelID  string
	SlackPollEvery  time.Duration
	SlackCooldown   time.Duration
	SlackHistoryMax int

	JiraBaseURL  string
	JiraEmail    string
	JiraAPIToken string

	EventFeedLimit int
	EventRedisAddr string
	EventRedisPass string
	EventRedisDB   int
}

// Load constructs a Config from environment variables.
func Load() Config {
	return Config{
		Environment:       GetString("APP_ENV", "development"),
		Addr:              GetString("API_ADDR", ":4100"),
		DatabaseURL:       GetString("DATABASE_URL", "postgres://devflow:devflow@db:5432/devflow?sslmode=disable"),
		MigrationsDir:     GetString("DB_MIGRATIONS_DIR", "db/migrations"),
		JWTSecret:         GetString("JWT_SECRET", "supersecuresecret"),
		SessionTTL:        time.Duration(GetInt("SESSION_TTL_HOURS", 12)) * time.Hour,
		AdminPasswordHash: GetString("ADMIN_PASSWORD_HASH", ""),
		CredentialKey:     GetString("CREDENTIAL_ENCRYPTION_KEY", "supersecuresecret"),

		SlackAPIBase:    GetString("SLACK_API_BASE", "https://slack.com/api"),
		SlackToken:      GetString("SLACK_BOT_TOKEN", ""),
		SlackChannelID:  GetString("SLACK_CHANNEL_ID", ""),
		SlackPollEvery:  GetSeconds("SLACK_POLL_SECONDS", 30*time.Second),
		SlackCooldown:   GetSeconds("SLACK_COOLDOWN_SECONDS", 60*time.Second),
		SlackHistoryMax: GetInt("SLACK_HISTORY_LIMIT", 100),

		JiraBaseURL:  GetString("JIRA_BASE_URL", ""),
		JiraEmail:    GetString("JIRA_EMAIL", ""),
		JiraAPIToken: GetString("JIRA_API_TOKEN", ""),

		EventFeedLimit: GetInt("EVENT_FEED_LIMIT", 50),
		EventRedisAddr: GetString("EVENT_REDIS_ADDR", ""),
		EventRedisPass: GetString("EVENT_REDIS_PASSWORD", ""),
		EventRedisDB:   GetInt("EVENT_REDIS_DB", 0),
	}
}
