package database

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"videorag/internal/apperr"
	"videorag/internal/models"
)

// ChannelRepository is the straight-through CRUD repository for Channel
// rows (spec.md §6's "thin" CRUD surface).
type ChannelRepository struct {
	db *DB
}

func NewChannelRepository(db *DB) *ChannelRepository {
	return &ChannelRepository{db: db}
}

// GetOrCreate returns the existing channel for url, or inserts a new one
// named name.
func (r *ChannelRepository) GetOrCreate(ctx context.Context, name, url string) (*models.Channel, error) {
	var c models.Channel
	err := r.db.GetContext(ctx, &c, `SELECT id, name, url, created_at FROM channels WHERE url = $1`, url)
	if err == nil {
		return &c, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.Wrap(apperr.KindCritical, "failed to look up channel", err)
	}

	const q = `INSERT INTO channels (name, url) VALUES ($1, $2) RETURNING id, name, url, created_at`
	if err := r.db.GetContext(ctx, &c, q, name, url); err != nil {
		return nil, apperr.Wrap(apperr.KindCritical, "failed to create channel", err)
	}
	return &c, nil
}

// Create inserts a new channel, returning a Validation error on a duplicate
// url.
func (r *ChannelRepository) Create(ctx context.Context, name, url string) (*models.Channel, error) {
	var c models.Channel
	const q = `INSERT INTO channels (name, url) VALUES ($1, $2) RETURNING id, name, url, created_at`
	if err := r.db.GetContext(ctx, &c, q, name, url); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, apperr.Validation("a channel with this url already exists")
		}
		return nil, apperr.Wrap(apperr.KindCritical, "failed to create channel", err)
	}
	return &c, nil
}

// Get fetches one channel by id.
func (r *ChannelRepository) Get(ctx context.Context, id int64) (*models.Channel, error) {
	var c models.Channel
	if err := r.db.GetContext(ctx, &c, `SELECT id, name, url, created_at FROM channels WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("channel not found")
		}
		return nil, apperr.Wrap(apperr.KindCritical, "failed to fetch channel", err)
	}
	return &c, nil
}

// List returns a page of channels ordered by id.
func (r *ChannelRepository) List(ctx context.Context, skip, limit int) ([]models.Channel, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []models.Channel
	const q = `SELECT id, name, url, created_at FROM channels ORDER BY id LIMIT $1 OFFSET $2`
	if err := r.db.SelectContext(ctx, &out, q, limit, skip); err != nil {
		return nil, apperr.Wrap(apperr.KindCritical, "failed to list channels", err)
	}
	return out, nil
}

// Update renames a channel.
func (r *ChannelRepository) Update(ctx context.Context, id int64, name string) (*models.Channel, error) {
	var c models.Channel
	const q = `UPDATE channels SET name = $2 WHERE id = $1 RETURNING id, name, url, created_at`
	if err := r.db.GetContext(ctx, &c, q, id, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("channel not found")
		}
		return nil, apperr.Wrap(apperr.KindCritical, "failed to update channel", err)
	}
	return &c, nil
}

// Delete removes a channel; videos cascade per the FK in migrations.
func (r *ChannelRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM channels WHERE id = $1`, id)
	if err != nil {
		return apperr.Wrap(apperr.KindCritical, "failed to delete channel", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperr.NotFound("channel not found")
	}
	return nil
}

// Stats returns (video_count, transcribed_count) for a channel.
func (r *ChannelRepository) Stats(ctx context.Context, id int64) (videoCount, transcribedCount int64, err error) {
	const q = `
		SELECT count(*), count(*) FILTER (WHERE transcribed)
		FROM videos WHERE channel_id = $1`
	if err := r.db.QueryRowContext(ctx, q, id).Scan(&videoCount, &transcribedCount); err != nil {
		return 0, 0, apperr.Wrap(apperr.KindCritical, "failed to compute channel stats", err)
	}
	return videoCount, transcribedCount, nil
}
