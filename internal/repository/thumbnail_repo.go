package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"coursestream-backend/internal/models"
)

type ThumbnailRepo struct {
	pool *pgxpool.Pool
}

func NewThumbnailRepo(pool *pgxpool.Pool) *ThumbnailRepo {
	return &ThumbnailRepo{pool: pool}
}

func (r *ThumbnailRepo) Create(ctx context.Context, t *models.Thumbnail) error {
	t.ID = uuid.New()

	query := `INSERT INTO thumbnails (id, video_id, storage_key, url, time_offset, width, height)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING created_at`

	return r.pool.QueryRow(ctx, query,
		t.ID, t.VideoID, t.StorageKey, t.URL, t.TimeOffset, t.Width, t.Height,
	).Scan(&t.CreatedAt)
}

func (r *ThumbnailRepo) ListByVideo(ctx context.Context, videoID uuid.UUID) ([]models.Thumbnail, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, video_id, storage_key, url, time_offset, width, height, created_at
		 FROM thumbnails WHERE video_id = $1 ORDER BY time_offset`, videoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var thumbs []models.Thumbnail
	for rows.Next() {
		var t models.Thumbnail
		if err := rows.Scan(&t.ID, &t.VideoID, &t.StorageKey, &t.URL, &t.TimeOffset, &t.Width, &t.Height, &t.CreatedAt); err != nil {
			return nil, err
		}
		thumbs = append(thumbs, t)
	}
	return thumbs, rows.Err()
}

// DeleteByVideo clears all rows for a video. The thumbnail job calls this
// before inserting so a retried job never leaves duplicates.
func (r *ThumbnailRepo) DeleteByVideo(ctx context.Context, videoID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, "DELETE FROM thumbnails WHERE video_id = $1", videoID)
	return err
}
