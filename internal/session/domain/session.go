// Package domain defines the session entity consumed by session-secret
// rotation. Token issuance and authentication live outside this core; the
// only operation this subsystem performs is bulk invalidation.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Session is one authenticated session. TokenHash is a one-way hash of the
// session token; the token itself is never stored.
type Session struct {
	ID            uuid.UUID
	TokenHash     string
	ActorID       uuid.UUID
	CreatedAt     time.Time
	ExpiresAt     time.Time
	InvalidatedAt *time.Time
}

// Valid reports whether the session is usable at the given instant.
func (s *Session) Valid(now time.Time) bool {
	return s.InvalidatedAt == nil && now.Before(s.ExpiresAt)
}
