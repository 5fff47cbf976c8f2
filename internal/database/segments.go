package database

import (
	"context"

	"videorag/internal/apperr"
	"videorag/internal/models"
)

// SegmentRepository persists the ordered timed transcript utterances
// produced by the Transcribe stage.
type SegmentRepository struct {
	db *DB
}

func NewSegmentRepository(db *DB) *SegmentRepository {
	return &SegmentRepository{db: db}
}

// ReplaceForVideo writes segments and flips transcribed=true in one
// transaction, per spec.md §4.5.
func (r *SegmentRepository) ReplaceForVideo(ctx context.Context, videoID string, segments []models.Segment) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperr.Wrap(apperr.KindCritical, "failed to begin transcribe transaction", err)
	}
	defer func() { finishTx(tx, &err) }()

	if _, err = tx.ExecContext(ctx, `DELETE FROM segments WHERE video_id = $1`, videoID); err != nil {
		return apperr.Wrap(apperr.KindCritical, "failed to clear existing segments", err)
	}

	const insertQ = `INSERT INTO segments (video_id, start_time, end_time, text) VALUES ($1, $2, $3, $4)`
	for _, seg := range segments {
		if _, err = tx.ExecContext(ctx, insertQ, videoID, seg.StartTime, seg.EndTime, seg.Text); err != nil {
			return apperr.Wrap(apperr.KindCritical, "failed to insert segment", err)
		}
	}

	if _, err = tx.ExecContext(ctx, `UPDATE videos SET transcribed = true WHERE video_id = $1`, videoID); err != nil {
		return apperr.Wrap(apperr.KindCritical, "failed to mark video transcribed", err)
	}

	return nil
}

// ListForVideo returns a video's segments ordered by start_time.
func (r *SegmentRepository) ListForVideo(ctx context.Context, videoID string) ([]models.Segment, error) {
	var out []models.Segment
	const q = `SELECT id, video_id, start_time, end_time, text FROM segments WHERE video_id = $1 ORDER BY start_time ASC`
	if err := r.db.SelectContext(ctx, &out, q, videoID); err != nil {
		return nil, apperr.Wrap(apperr.KindCritical, "failed to list segments", err)
	}
	return out, nil
}
