package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"coursestream-backend/internal/models"
)

type TokenRepo struct {
	pool *pgxpool.Pool
}

func NewTokenRepo(pool *pgxpool.Pool) *TokenRepo {
	return &TokenRepo{pool: pool}
}

func (r *TokenRepo) Create(ctx context.Context, t *models.AccessToken) error {
	query := `INSERT INTO access_tokens (id, video_id, user_id, ip_address, expires_at)
		VALUES ($1, $2, $3, $4, $5) RETURNING created_at`

	return r.pool.QueryRow(ctx, query,
		t.ID, t.VideoID, t.UserID, t.IPAddress, t.ExpiresAt,
	).Scan(&t.CreatedAt)
}

func (r *TokenRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.AccessToken, error) {
	t := &models.AccessToken{}
	query := `SELECT id, video_id, user_id, ip_address, expires_at, is_revoked, access_count, last_accessed_at, created_at
		FROM access_tokens WHERE id = $1`

	err := r.pool.QueryRow(ctx, query, id).Scan(
		&t.ID, &t.VideoID, &t.UserID, &t.IPAddress, &t.ExpiresAt,
		&t.IsRevoked, &t.AccessCount, &t.LastAccessedAt, &t.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// RecordAccess bumps the usage counters. Last-writer-wins is fine here;
// count drift under concurrent validations is tolerable.
func (r *TokenRepo) RecordAccess(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		"UPDATE access_tokens SET access_count = access_count + 1, last_accessed_at = $1 WHERE id = $2",
		time.Now(), id)
	return err
}

func (r *TokenRepo) Revoke(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, "UPDATE access_tokens SET is_revoked = TRUE WHERE id = $1", id)
	return err
}

func (r *TokenRepo) RevokeAllForVideo(ctx context.Context, videoID uuid.UUID) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		"UPDATE access_tokens SET is_revoked = TRUE WHERE video_id = $1 AND NOT is_revoked", videoID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *TokenRepo) RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		"UPDATE access_tokens SET is_revoked = TRUE WHERE user_id = $1 AND NOT is_revoked", userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DeleteExpired is storage hygiene; expired rows already fail validation.
func (r *TokenRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, "DELETE FROM access_tokens WHERE expires_at < $1", now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
