package slack

import (
	"errors"
	"sync"
	"time"
)

// ErrCooldownActive is returned for calls attempted while the rate-limit
// cooldown window is open. No network request is made in that case.
var ErrCooldownActive = errors.New("slack: rate limit cooldown active")

// CooldownGuard suppresses Slack API calls for a fixed window after the
// upstream API signals rate limiting. The transition back to idle is lazy:
// the window is checked on each call, no background timer runs.
type CooldownGuard struct {
	mu        sync.Mutex
	window    time.Duration
	trippedAt time.Time
	cooling   bool
	now       func() time.Time
}

// NewCooldownGuard returns a guard with the given cooldown window.
func NewCooldownGuard(window time.Duration) *CooldownGuard {
	if window <= 0 {
		window = time.Minute
	}
	return &CooldownGuard{window: window, now: time.Now}
}

// Allow reports whether a call may proceed. While cooling it returns
// ErrCooldownActive; the first call at or after window expiry is let through.
func (g *CooldownGuard) Allow() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.cooling {
		return nil
	}
	if g.now().Sub(g.trippedAt) >= g.window {
		g.cooling = false
		return nil
	}
	return ErrCooldownActive
}

// Trip opens (or restarts) the cooldown window.
func (g *CooldownGuard) Trip() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cooling = true
	g.trippedAt = g.now()
}

// Status returns whether the guard is cooling and the remaining window.
func (g *CooldownGuard) Status() (bool, time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.cooling {
		return false, 0
	}
	remaining := g.window - g.now().Sub(g.trippedAt)
	if remaining <= 0 {
		g.cooling = false
		return false, 0
	}
	return true, remaining
}
