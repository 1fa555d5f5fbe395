package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"coursestream-backend/internal/models"
)

var ErrNotFound = errors.New("record not found")

type VideoRepo struct {
	pool *pgxpool.Pool
}

func NewVideoRepo(pool *pgxpool.Pool) *VideoRepo {
	return &VideoRepo{pool: pool}
}

func (r *VideoRepo) Create(ctx context.Context, v *models.VideoAsset) error {
	v.ID = uuid.New()
	v.Status = models.StatusPending
	v.Progress = 0

	query := `INSERT INTO videos (id, chapter_id, course_id, original_filename, file_size, mime_type, storage_key, bucket, status, progress)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING created_at`

	return r.pool.QueryRow(ctx, query,
		v.ID, v.ChapterID, v.CourseID, v.OriginalFilename, v.FileSize,
		v.MimeType, v.StorageKey, v.Bucket, v.Status, v.Progress,
	).Scan(&v.CreatedAt)
}

func (r *VideoRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.VideoAsset, error) {
	v := &models.VideoAsset{}
	query := `SELECT id, chapter_id, course_id, original_filename, file_size, mime_type, storage_key, bucket,
			status, progress, processing_error, hls_master_url, hls_480p_url, hls_720p_url, hls_1080p_url,
			duration_seconds, width, height, codec, frame_rate, bitrate,
			encryption_key, encryption_iv, key_rotation_at, created_at, completed_at
		FROM videos WHERE id = $1`

	err := r.pool.QueryRow(ctx, query, id).Scan(
		&v.ID, &v.ChapterID, &v.CourseID, &v.OriginalFilename, &v.FileSize, &v.MimeType, &v.StorageKey, &v.Bucket,
		&v.Status, &v.Progress, &v.ProcessingError, &v.HLSMasterURL, &v.HLS480pURL, &v.HLS720pURL, &v.HLS1080pURL,
		&v.DurationSeconds, &v.Width, &v.Height, &v.Codec, &v.FrameRate, &v.Bitrate,
		&v.EncryptionKey, &v.EncryptionIV, &v.KeyRotationAt, &v.CreatedAt, &v.CompletedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// MarkProcessing moves a pending video (or a processing one on retry) into
// processing with progress reset. The Mark* methods guard their transitions in
// the WHERE clause so the lifecycle stays monotonic even if two writers race.
func (r *VideoRepo) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE videos SET status = 'processing', progress = 0, processing_error = NULL
		 WHERE id = $1 AND status IN ('pending', 'processing')`, id)
	return err
}

// UpdateProgress is best-effort and monotonic; GREATEST keeps late callbacks
// from walking progress backwards.
func (r *VideoRepo) UpdateProgress(ctx context.Context, id uuid.UUID, pct int) error {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	_, err := r.pool.Exec(ctx,
		"UPDATE videos SET progress = GREATEST(progress, $1) WHERE id = $2", pct, id)
	return err
}

func (r *VideoRepo) MarkCompleted(ctx context.Context, id uuid.UUID, urls map[models.Quality]string, masterURL string) error {
	get := func(q models.Quality) *string {
		if u, ok := urls[q]; ok {
			return &u
		}
		return nil
	}

	_, err := r.pool.Exec(ctx,
		`UPDATE videos SET status = 'completed', progress = 100, processing_error = NULL,
			hls_master_url = $1, hls_480p_url = $2, hls_720p_url = $3, hls_1080p_url = $4,
			completed_at = $5
		 WHERE id = $6 AND status = 'processing'`,
		masterURL, get(models.Quality480p), get(models.Quality720p), get(models.Quality1080p),
		time.Now(), id,
	)
	return err
}

func (r *VideoRepo) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE videos SET status = 'failed', processing_error = $1
		 WHERE id = $2 AND status IN ('pending', 'processing')`, errMsg, id)
	return err
}

func (r *VideoRepo) UpdateEncryptionKey(ctx context.Context, id uuid.UUID, key, iv []byte, rotationAt time.Time) error {
	_, err := r.pool.Exec(ctx,
		"UPDATE videos SET encryption_key = $1, encryption_iv = $2, key_rotation_at = $3 WHERE id = $4",
		key, iv, rotationAt, id)
	return err
}

func (r *VideoRepo) UpdateMediaInfo(ctx context.Context, id uuid.UUID, duration float64, width, height int, codec string, frameRate float64, bitrate int) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE videos SET duration_seconds = $1, width = $2, height = $3, codec = $4, frame_rate = $5, bitrate = $6
		 WHERE id = $7`,
		duration, width, height, codec, frameRate, bitrate, id)
	return err
}

// ReplaceSource atomically swaps the storage key for a re-upload and resets
// the processing lifecycle. The unique index on storage_key enforces single
// ownership of a key.
func (r *VideoRepo) ReplaceSource(ctx context.Context, id uuid.UUID, storageKey, filename, mimeType string, fileSize int64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE videos SET storage_key = $1, original_filename = $2, mime_type = $3, file_size = $4,
			status = 'pending', progress = 0, processing_error = NULL,
			hls_master_url = NULL, hls_480p_url = NULL, hls_720p_url = NULL, hls_1080p_url = NULL,
			completed_at = NULL
		 WHERE id = $5`,
		storageKey, filename, mimeType, fileSize, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListDueForKeyRotation returns videos whose scheduled rotation time passed.
func (r *VideoRepo) ListDueForKeyRotation(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		"SELECT id FROM videos WHERE key_rotation_at IS NOT NULL AND key_rotation_at <= $1 AND status = 'completed'", now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Delete removes the row; thumbnails and access tokens cascade.
func (r *VideoRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, "DELETE FROM videos WHERE id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
