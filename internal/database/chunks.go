package database

import (
	"context"

	"videorag/internal/apperr"
	"videorag/internal/models"
)

// ChunkRepository persists Chunk rows. The Chunk stage is idempotent by
// replacement: existing chunks for a video are deleted before the new
// sequence is inserted.
type ChunkRepository struct {
	db *DB
}

func NewChunkRepository(db *DB) *ChunkRepository {
	return &ChunkRepository{db: db}
}

// NewChunk is the pre-insert shape of a chunk produced by the Chunk stage,
// before it has an id or embeddings.
type NewChunk struct {
	ChunkIndex int
	StartTime  float64
	EndTime    float64
	Text       string
	Summary    *string
}

// ReplaceForVideo deletes all existing chunks for videoID in one statement,
// then inserts the new sequence with chunk_index starting at 0. The derived
// tsvector columns are computed in the same statement using Spanish text
// search configuration.
func (r *ChunkRepository) ReplaceForVideo(ctx context.Context, videoID string, chunks []NewChunk) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperr.Wrap(apperr.KindCritical, "failed to begin chunk replacement transaction", err)
	}
	defer func() { finishTx(tx, &err) }()

	if _, err = tx.ExecContext(ctx, `DELETE FROM chunks WHERE video_id = $1`, videoID); err != nil {
		return apperr.Wrap(apperr.KindCritical, "failed to clear existing chunks", err)
	}

	const insertQ = `
		INSERT INTO chunks (video_id, chunk_index, start_time, end_time, text, summary,
		                     search_vector, summary_search_vector)
		VALUES ($1, $2, $3, $4, $5, $6,
		        to_tsvector('spanish', $5), to_tsvector('spanish', COALESCE($6, '')))`
	for _, c := range chunks {
		if _, err = tx.ExecContext(ctx, insertQ, videoID, c.ChunkIndex, c.StartTime, c.EndTime, c.Text, c.Summary); err != nil {
			return apperr.Wrap(apperr.KindCritical, "failed to insert chunk", err)
		}
	}

	return nil
}

// NeedingEmbedding returns up to batchSize chunks with a null embedding, or
// with a null summary_embedding and a non-empty summary, optionally filtered
// to videoIDs.
func (r *ChunkRepository) NeedingEmbedding(ctx context.Context, videoIDs []string, batchSize int) ([]models.Chunk, error) {
	var out []chunkRow
	if len(videoIDs) > 0 {
		const q = `
			SELECT id, video_id, chunk_index, start_time, end_time, text, summary
			FROM chunks
			WHERE (embedding IS NULL OR (summary_embedding IS NULL AND COALESCE(summary, '') <> '')) AND video_id = ANY($1)
			ORDER BY video_id, chunk_index LIMIT $2`
		if err := r.db.SelectContext(ctx, &out, q, videoIDsArray(videoIDs), batchSize); err != nil {
			return nil, apperr.Wrap(apperr.KindCritical, "failed to list chunks needing embedding", err)
		}
	} else {
		const q = `
			SELECT id, video_id, chunk_index, start_time, end_time, text, summary
			FROM chunks
			WHERE embedding IS NULL OR (summary_embedding IS NULL AND COALESCE(summary, '') <> '')
			ORDER BY video_id, chunk_index LIMIT $1`
		if err := r.db.SelectContext(ctx, &out, q, batchSize); err != nil {
			return nil, apperr.Wrap(apperr.KindCritical, "failed to list chunks needing embedding", err)
		}
	}

	chunks := make([]models.Chunk, len(out))
	for i, row := range out {
		chunks[i] = models.Chunk{
			ID:         row.ID,
			VideoID:    row.VideoID,
			ChunkIndex: row.ChunkIndex,
			StartTime:  row.StartTime,
			EndTime:    row.EndTime,
			Text:       row.Text,
			Summary:    row.Summary,
		}
	}
	return chunks, nil
}

type chunkRow struct {
	ID         int64   `db:"id"`
	VideoID    string  `db:"video_id"`
	ChunkIndex int     `db:"chunk_index"`
	StartTime  float64 `db:"start_time"`
	EndTime    float64 `db:"end_time"`
	Text       string  `db:"text"`
	Summary    *string `db:"summary"`
}

// WriteEmbedding persists both the text and summary embeddings for one
// chunk. Summary embeddings are only ever written for chunks with a
// non-empty summary; callers pass nil otherwise.
func (r *ChunkRepository) WriteEmbedding(ctx context.Context, chunkID int64, embedding, summaryEmbedding models.Vector) error {
	embLit, err := vectorValue(embedding)
	if err != nil {
		return apperr.Wrap(apperr.KindCritical, "failed to encode embedding", err)
	}
	sumLit, err := vectorValue(summaryEmbedding)
	if err != nil {
		return apperr.Wrap(apperr.KindCritical, "failed to encode summary embedding", err)
	}

	const q = `UPDATE chunks SET embedding = $2, summary_embedding = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, q, chunkID, embLit, sumLit); err != nil {
		return apperr.Wrap(apperr.KindCritical, "failed to write chunk embedding", err)
	}
	return nil
}

// SummarizedChunk is one chunk-identity-plus-summary row returned by
// OrderedSummaries, carrying enough to cite it as a Source.
type SummarizedChunk struct {
	ChunkID   int64   `db:"id"`
	StartTime float64 `db:"start_time"`
	EndTime   float64 `db:"end_time"`
	Summary   string  `db:"summary"`
}

// OrderedSummaries returns a video's non-blank chunk summaries in
// chunk_index order, up to limit, each carrying its own start/end time so
// the CONTENT_GLOBAL path can cite the contributing chunk rather than just
// the video, for the CONTENT_GLOBAL path.
func (r *ChunkRepository) OrderedSummaries(ctx context.Context, videoID string, limit int) ([]SummarizedChunk, error) {
	var out []SummarizedChunk
	const q = `
		SELECT id, start_time, end_time, COALESCE(summary, '') AS summary
		FROM chunks
		WHERE video_id = $1 AND summary IS NOT NULL AND summary != ''
		ORDER BY chunk_index ASC LIMIT $2`
	if err := r.db.SelectContext(ctx, &out, q, videoID, limit); err != nil {
		return nil, apperr.Wrap(apperr.KindCritical, "failed to list chunk summaries", err)
	}
	return out, nil
}

func videoIDsArray(ids []string) interface{} {
	return pqArray(ids)
}
