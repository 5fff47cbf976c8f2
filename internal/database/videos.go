package database

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"videorag/internal/apperr"
	"videorag/internal/models"
)

// VideoRepository persists Video rows. Ingest is the only writer of
// audio_path/downloaded; Transcribe is the only writer of transcribed.
type VideoRepository struct {
	db *DB
}

func NewVideoRepository(db *DB) *VideoRepository {
	return &VideoRepository{db: db}
}

// Exists reports whether a video_id is already known, used by Ingest to
// skip videos it has already registered.
func (r *VideoRepository) Exists(ctx context.Context, videoID string) (bool, error) {
	var exists bool
	const q = `SELECT EXISTS(SELECT 1 FROM videos WHERE video_id = $1)`
	if err := r.db.GetContext(ctx, &exists, q, videoID); err != nil {
		return false, apperr.Wrap(apperr.KindCritical, "failed to check video existence", err)
	}
	return exists, nil
}

// Create inserts a new Video row, not yet downloaded or transcribed.
func (r *VideoRepository) Create(ctx context.Context, v *models.Video) error {
	const q = `
		INSERT INTO videos (video_id, channel_id, title, description, published_at, duration, downloaded, transcribed)
		VALUES (:video_id, :channel_id, :title, :description, :published_at, :duration, false, false)`
	if _, err := r.db.NamedExecContext(ctx, q, v); err != nil {
		return apperr.Wrap(apperr.KindCritical, "failed to create video", err)
	}
	return nil
}

// SetDownloaded records the local/S3 audio path and flips downloaded=true.
func (r *VideoRepository) SetDownloaded(ctx context.Context, videoID string, audioPath string) error {
	const q = `UPDATE videos SET audio_path = $2, downloaded = true WHERE video_id = $1`
	if _, err := r.db.ExecContext(ctx, q, videoID, audioPath); err != nil {
		return apperr.Wrap(apperr.KindCritical, "failed to mark video downloaded", err)
	}
	return nil
}

// SetTranscribed flips transcribed=true. Invariant: transcribed implies
// downloaded, enforced by the caller only ever invoking this after a
// successful Transcribe stage run against a downloaded video.
func (r *VideoRepository) SetTranscribed(ctx context.Context, videoID string) error {
	const q = `UPDATE videos SET transcribed = true WHERE video_id = $1`
	if _, err := r.db.ExecContext(ctx, q, videoID); err != nil {
		return apperr.Wrap(apperr.KindCritical, "failed to mark video transcribed", err)
	}
	return nil
}

// Get fetches one video by id.
func (r *VideoRepository) Get(ctx context.Context, videoID string) (*models.Video, error) {
	var v models.Video
	const q = `
		SELECT video_id, channel_id, title, description, published_at, duration,
		       audio_path, downloaded, transcribed, created_at
		FROM videos WHERE video_id = $1`
	if err := r.db.GetContext(ctx, &v, q, videoID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("video not found")
		}
		return nil, apperr.Wrap(apperr.KindCritical, "failed to fetch video", err)
	}
	return &v, nil
}

// List returns a page of videos, optionally filtered by channel.
func (r *VideoRepository) List(ctx context.Context, channelID *int64, skip, limit int) ([]models.Video, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []models.Video
	if channelID != nil {
		const q = `
			SELECT video_id, channel_id, title, description, published_at, duration,
			       audio_path, downloaded, transcribed, created_at
			FROM videos WHERE channel_id = $1 ORDER BY published_at DESC NULLS LAST LIMIT $2 OFFSET $3`
		if err := r.db.SelectContext(ctx, &out, q, *channelID, limit, skip); err != nil {
			return nil, apperr.Wrap(apperr.KindCritical, "failed to list videos", err)
		}
		return out, nil
	}
	const q = `
		SELECT video_id, channel_id, title, description, published_at, duration,
		       audio_path, downloaded, transcribed, created_at
		FROM videos ORDER BY published_at DESC NULLS LAST LIMIT $1 OFFSET $2`
	if err := r.db.SelectContext(ctx, &out, q, limit, skip); err != nil {
		return nil, apperr.Wrap(apperr.KindCritical, "failed to list videos", err)
	}
	return out, nil
}

// Counts returns (segment_count, chunk_count) for a video's detail view.
func (r *VideoRepository) Counts(ctx context.Context, videoID string) (segments, chunks int64, err error) {
	const q = `
		SELECT
			(SELECT count(*) FROM segments WHERE video_id = $1),
			(SELECT count(*) FROM chunks WHERE video_id = $1)`
	if err := r.db.QueryRowContext(ctx, q, videoID).Scan(&segments, &chunks); err != nil {
		return 0, 0, apperr.Wrap(apperr.KindCritical, "failed to compute video counts", err)
	}
	return segments, chunks, nil
}

// ByChannelNewest returns up to limit video ids for a channel, most recently
// published first, used by the RAG Orchestrator to draw a default video_ids
// set when the caller supplies none.
func (r *VideoRepository) ByChannelNewest(ctx context.Context, channelID int64, limit int) ([]string, error) {
	var ids []string
	const q = `SELECT video_id FROM videos WHERE channel_id = $1 ORDER BY published_at DESC NULLS LAST LIMIT $2`
	if err := r.db.SelectContext(ctx, &ids, q, channelID, limit); err != nil {
		return nil, apperr.Wrap(apperr.KindCritical, "failed to list channel videos", err)
	}
	return ids, nil
}

// BelongingTo filters videoIDs down to those that belong to channelID.
func (r *VideoRepository) BelongingTo(ctx context.Context, channelID int64, videoIDs []string) ([]string, error) {
	if len(videoIDs) == 0 {
		return nil, nil
	}
	var out []string
	const q = `SELECT video_id FROM videos WHERE channel_id = $1 AND video_id = ANY($2)`
	if err := r.db.SelectContext(ctx, &out, q, channelID, pq.Array(videoIDs)); err != nil {
		return nil, apperr.Wrap(apperr.KindCritical, "failed to filter videos by channel", err)
	}
	return out, nil
}
