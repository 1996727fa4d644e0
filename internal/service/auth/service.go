package auth

import (
	"errors"
	"strings"
	"time"

	"log/slog"

	"github.com/deadlydiamond/devflow/pkg/crypto"
	jwtpkg "github.com/deadlydiamond/devflow/pkg/jwt"
)

// ErrInvalidCredentials is returned for a wrong or missing password.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Service authenticates the single dashboard operator. There is no user
// table; the admin password hash comes from configuration.
type Service struct {
	passwordHash string
	jwtSecret    string
	sessionTTL   time.Duration
	logger       *slog.Logger
}

// Session is a successful login result.
type Session struct {
	Token     string        `json:"token"`
	ExpiresIn time.Duration `json:"expires_in"`
}

// New constructs the auth service.
func New(passwordHash, jwtSecret string, sessionTTL time.Duration, logger *slog.Logger) Service {
	return Service{
		passwordHash: passwordHash,
		jwtSecret:    jwtSecret,
		sessionTTL:   sessionTTL,
		logger:       logger,
	}
}

// Login verifies the admin password and issues a session token.
func (s Service) Login(password string) (Session, error) {
	if s.passwordHash == "" {
		return Session{}, errors.New("admin password not configured")
	}
	if err := crypto.ComparePassword([]byte(s.passwordHash), password); err != nil {
		s.logger.Warn("login rejected")
		return Session{}, ErrInvalidCredentials
	}
	token, err := jwtpkg.GenerateToken("admin", "admin", s.jwtSecret, s.sessionTTL)
	if err != nil {
		return Session{}, err
	}
	s.logger.Info("operator logged in")
	return Session{Token: token, ExpiresIn: s.sessionTTL}, nil
}

// Authorize validates a bearer token and returns its claims.
func (s Service) Authorize(token string) (*jwtpkg.Claims, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return nil, errors.New("token required")
	}
	return jwtpkg.Parse(trimmed, s.jwtSecret)
}
