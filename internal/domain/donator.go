package domain

import (
	"fmt"
	"regexp"
	"time"
)

// Donator is a player granted a privilege tier
type Donator struct {
	Handle    string    `json:"handle"`
	Tier      string    `json:"tier"`
	IsAdmin   bool      `json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`
}

// Cooldown records the last accepted command for a player
// A cooldown whose expiry has passed is treated as absent
type Cooldown struct {
	Handle    string    `json:"handle"`
	Command   string    `json:"command"`
	LastUsed  time.Time `json:"last_used"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Remaining returns the time left until the cooldown expires, zero if expired
func (c *Cooldown) Remaining(now time.Time) time.Duration {
	if c == nil || !now.Before(c.ExpiresAt) {
		return 0
	}
	return c.ExpiresAt.Sub(now)
}

// AuditEntry is a single append-only audit log record
type AuditEntry struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Handle    string    `json:"handle"`
	Command   string    `json:"command"`
	Accepted  bool      `json:"accepted"`
	Reason    string    `json:"reason"`
}

// Counters holds the running aggregate totals
type Counters struct {
	Accepted int64 `json:"accepted_commands"`
	Granted  int64 `json:"granted_privileges"`
	Blocked  int64 `json:"blocked_attempts"`
}

const (
	// MinHandleLen and MaxHandleLen bound valid player handles
	MinHandleLen = 2
	MaxHandleLen = 16
)

var handleRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// ValidateHandle checks that a player handle has the accepted length and charset
func ValidateHandle(handle string) error {
	if len(handle) < MinHandleLen || len(handle) > MaxHandleLen {
		return fmt.Errorf("handle %q must be %d-%d characters", handle, MinHandleLen, MaxHandleLen)
	}
	if !handleRe.MatchString(handle) {
		return fmt.Errorf("handle %q contains invalid characters", handle)
	}
	return nil
}
