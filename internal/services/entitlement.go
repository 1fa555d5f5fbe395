package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresEntitlements reads the course/purchase subsystem's tables. Those
// tables are owned elsewhere; this service only ever queries them.
type PostgresEntitlements struct {
	pool *pgxpool.Pool
}

func NewPostgresEntitlements(pool *pgxpool.Pool) *PostgresEntitlements {
	return &PostgresEntitlements{pool: pool}
}

// HasAccess holds for administrators, completed course purchases and active
// version-access grants.
func (e *PostgresEntitlements) HasAccess(ctx context.Context, userID, courseID uuid.UUID) (bool, error) {
	var ok bool
	err := e.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM users WHERE id = $1 AND role = 'admin')
			OR EXISTS(SELECT 1 FROM purchases WHERE user_id = $1 AND course_id = $2 AND status = 'completed')
			OR EXISTS(SELECT 1 FROM version_access WHERE user_id = $1 AND course_id = $2 AND is_active)
	`, userID, courseID).Scan(&ok)
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (e *PostgresEntitlements) IsChapterFree(ctx context.Context, chapterID uuid.UUID) (bool, error) {
	var free bool
	err := e.pool.QueryRow(ctx,
		"SELECT COALESCE((SELECT is_free FROM chapters WHERE id = $1), FALSE)", chapterID,
	).Scan(&free)
	if err != nil {
		return false, err
	}
	return free, nil
}
