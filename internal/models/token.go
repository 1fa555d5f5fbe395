package models

import (
	"time"

	"github.com/google/uuid"
)

// AccessToken is the server-side record behind one issued playback
// credential. The signed JWT carries the same token id; the row is
// authoritative for revocation and IP binding.
type AccessToken struct {
	ID             uuid.UUID  `json:"id"`
	VideoID        uuid.UUID  `json:"video_id"`
	UserID         uuid.UUID  `json:"user_id"`
	IPAddress      string     `json:"ip_address"`
	ExpiresAt      time.Time  `json:"expires_at"`
	IsRevoked      bool       `json:"is_revoked"`
	AccessCount    int        `json:"access_count"`
	LastAccessedAt *time.Time `json:"last_accessed_at"`
	CreatedAt      time.Time  `json:"created_at"`
}

// TokenFailureReason is the typed verdict for a rejected playback credential.
type TokenFailureReason string

const (
	TokenInvalid    TokenFailureReason = "invalid"
	TokenRevoked    TokenFailureReason = "revoked"
	TokenExpired    TokenFailureReason = "expired"
	TokenIPMismatch TokenFailureReason = "ip_mismatch"
)

// TokenVerdict is returned by validation. Failures are values, never errors:
// the stream endpoint is a hot path that must not crash on hostile input.
type TokenVerdict struct {
	OK      bool               `json:"ok"`
	Reason  TokenFailureReason `json:"reason,omitempty"`
	VideoID uuid.UUID          `json:"video_id,omitempty"`
	UserID  uuid.UUID          `json:"user_id,omitempty"`
}
