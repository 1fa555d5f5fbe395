package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"coursestream-backend/internal/models"
	"coursestream-backend/internal/repository"
)

// KeyRotationPeriod is how long a segment-encryption key stays valid before
// the scheduled rotation replaces it.
const KeyRotationPeriod = 7 * 24 * time.Hour

var (
	ErrEntitlementDenied = errors.New("no entitlement for this course")
	ErrTokenMalformed    = errors.New("malformed playback credential")
)

// TokenStore is the persistence the token service needs; implemented by
// repository.TokenRepo.
type TokenStore interface {
	Create(ctx context.Context, t *models.AccessToken) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.AccessToken, error)
	RecordAccess(ctx context.Context, id uuid.UUID) error
	Revoke(ctx context.Context, id uuid.UUID) error
	RevokeAllForVideo(ctx context.Context, videoID uuid.UUID) (int64, error)
	RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// VideoKeyStore is the slice of the video repository that owns encryption
// key material; implemented by repository.VideoRepo.
type VideoKeyStore interface {
	UpdateEncryptionKey(ctx context.Context, id uuid.UUID, key, iv []byte, rotationAt time.Time) error
	ListDueForKeyRotation(ctx context.Context, now time.Time) ([]uuid.UUID, error)
}

// EntitlementChecker answers whether a user may watch a course's content.
// Owned by the course/purchase subsystem; consumed here at issuance only.
type EntitlementChecker interface {
	HasAccess(ctx context.Context, userID, courseID uuid.UUID) (bool, error)
	IsChapterFree(ctx context.Context, chapterID uuid.UUID) (bool, error)
}

// IssuedToken is handed back to the caller after a successful issuance.
type IssuedToken struct {
	TokenID     uuid.UUID `json:"token_id"`
	SignedToken string    `json:"token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// TokenService gates playback behind short-lived, IP-bound credentials and
// owns the segment-encryption key lifecycle. The signed JWT is a cheap
// pre-filter; the persisted row stays authoritative for revocation and IP
// binding.
type TokenService struct {
	tokens       TokenStore
	videos       VideoKeyStore
	entitlements EntitlementChecker
	secret       []byte
	ttl          time.Duration
	clock        func() time.Time
}

func NewTokenService(tokens TokenStore, videos VideoKeyStore, entitlements EntitlementChecker, secret string, ttl time.Duration) *TokenService {
	return &TokenService{
		tokens:       tokens,
		videos:       videos,
		entitlements: entitlements,
		secret:       []byte(secret),
		ttl:          ttl,
		clock:        time.Now,
	}
}

// Issue checks entitlement once, then mints an opaque token id, wraps it in
// a signed time-limited credential and persists the row binding it to the
// requester's IP.
func (s *TokenService) Issue(ctx context.Context, videoID, userID, chapterID, courseID uuid.UUID, ipAddress string) (*IssuedToken, error) {
	free, err := s.entitlements.IsChapterFree(ctx, chapterID)
	if err != nil {
		return nil, fmt.Errorf("entitlement lookup failed: %w", err)
	}
	if !free {
		ok, err := s.entitlements.HasAccess(ctx, userID, courseID)
		if err != nil {
			return nil, fmt.Errorf("entitlement lookup failed: %w", err)
		}
		if !ok {
			return nil, ErrEntitlementDenied
		}
	}

	now := s.clock()
	tokenID := uuid.New()
	expiresAt := now.Add(s.ttl)

	claims := jwt.MapClaims{
		"token_id":   tokenID.String(),
		"video_id":   videoID.String(),
		"user_id":    userID.String(),
		"chapter_id": chapterID.String(),
		"course_id":  courseID.String(),
		"ip":         ipAddress,
		"iat":        now.Unix(),
		"exp":        expiresAt.Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign credential: %w", err)
	}

	row := &models.AccessToken{
		ID:        tokenID,
		VideoID:   videoID,
		UserID:    userID,
		IPAddress: ipAddress,
		ExpiresAt: expiresAt,
	}
	if err := s.tokens.Create(ctx, row); err != nil {
		return nil, fmt.Errorf("failed to persist access token: %w", err)
	}

	return &IssuedToken{TokenID: tokenID, SignedToken: signed, ExpiresAt: expiresAt}, nil
}

// Validate returns a verdict, never an error, for anything past basic
// parsing: the stream path must not blow up on hostile input. The signature
// check runs first so tampered credentials never reach the database.
func (s *TokenService) Validate(ctx context.Context, signedToken, requestIP string) models.TokenVerdict {
	tokenID, reason := s.parseTokenID(signedToken)
	if reason != "" {
		return models.TokenVerdict{Reason: reason}
	}

	row, err := s.tokens.GetByID(ctx, tokenID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			log.Printf("Token lookup failed for %s: %v", tokenID, err)
		}
		return models.TokenVerdict{Reason: models.TokenInvalid}
	}

	switch {
	case row.IsRevoked:
		return models.TokenVerdict{Reason: models.TokenRevoked}
	case !s.clock().Before(row.ExpiresAt):
		return models.TokenVerdict{Reason: models.TokenExpired}
	case row.IPAddress != requestIP:
		return models.TokenVerdict{Reason: models.TokenIPMismatch}
	}

	if err := s.tokens.RecordAccess(ctx, row.ID); err != nil {
		// Counter drift is tolerable; the validation itself stands.
		log.Printf("Failed to record access for token %s: %v", row.ID, err)
	}

	return models.TokenVerdict{OK: true, VideoID: row.VideoID, UserID: row.UserID}
}

// parseTokenID verifies the wrapper signature and expiry and extracts the
// opaque token id. An empty reason means the wrapper is sound; anything else
// is the hard reject before any DB access.
func (s *TokenService) parseTokenID(signedToken string) (uuid.UUID, models.TokenFailureReason) {
	token, err := jwt.Parse(signedToken, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return s.clock() }))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return uuid.Nil, models.TokenExpired
		}
		return uuid.Nil, models.TokenInvalid
	}
	if !token.Valid {
		return uuid.Nil, models.TokenInvalid
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return uuid.Nil, models.TokenInvalid
	}
	idStr, ok := claims["token_id"].(string)
	if !ok {
		return uuid.Nil, models.TokenInvalid
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.Nil, models.TokenInvalid
	}
	return id, ""
}

// Revoke terminates the single credential. Malformed input is the only error.
func (s *TokenService) Revoke(ctx context.Context, signedToken string) error {
	tokenID, reason := s.parseTokenID(signedToken)
	if reason != "" {
		return ErrTokenMalformed
	}
	return s.tokens.Revoke(ctx, tokenID)
}

func (s *TokenService) RevokeAllForVideo(ctx context.Context, videoID uuid.UUID) (int64, error) {
	return s.tokens.RevokeAllForVideo(ctx, videoID)
}

func (s *TokenService) RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.tokens.RevokeAllForUser(ctx, userID)
}

// RotateEncryptionKey replaces the video's key/IV and revokes every existing
// token so stale credentials cannot be replayed against the new segments.
func (s *TokenService) RotateEncryptionKey(ctx context.Context, videoID uuid.UUID) error {
	key, iv, err := GenerateKeyIV()
	if err != nil {
		return err
	}
	rotationAt := s.clock().Add(KeyRotationPeriod)
	if err := s.videos.UpdateEncryptionKey(ctx, videoID, key, iv, rotationAt); err != nil {
		return fmt.Errorf("failed to persist rotated key: %w", err)
	}

	revoked, err := s.tokens.RevokeAllForVideo(ctx, videoID)
	if err != nil {
		return fmt.Errorf("failed to revoke tokens after rotation: %w", err)
	}
	log.Printf("Rotated encryption key for video %s, revoked %d tokens", videoID, revoked)
	return nil
}

// RotateDueKeys rotates every video whose scheduled rotation time passed.
// Run from cron.
func (s *TokenService) RotateDueKeys(ctx context.Context) error {
	due, err := s.videos.ListDueForKeyRotation(ctx, s.clock())
	if err != nil {
		return err
	}
	for _, videoID := range due {
		if err := s.RotateEncryptionKey(ctx, videoID); err != nil {
			log.Printf("Key rotation failed for video %s: %v", videoID, err)
		}
	}
	return nil
}

// SweepExpired deletes rows past expiry. Hygiene only — expired rows already
// fail validation.
func (s *TokenService) SweepExpired(ctx context.Context) (int64, error) {
	return s.tokens.DeleteExpired(ctx, s.clock())
}

// GenerateKeyIV produces a fresh AES-128 key and IV pair.
func GenerateKeyIV() (key, iv []byte, err error) {
	key = make([]byte, 16)
	iv = make([]byte, 16)
	if _, err := rand.Read(key); err != nil {
		return nil, nil, fmt.Errorf("failed to generate encryption key: %w", err)
	}
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, fmt.Errorf("failed to generate IV: %w", err)
	}
	return key, iv, nil
}
