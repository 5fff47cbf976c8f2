package database

import (
	"context"
	"fmt"
	"sort"

	"videorag/internal/apperr"
	"videorag/internal/models"
)

// TargetIndex selects which pair of (vector, lexical) columns a Retriever
// search ranks over.
type TargetIndex string

const (
	TargetChunks    TargetIndex = "chunks"
	TargetSummaries TargetIndex = "summaries"
)

func (t TargetIndex) columns() (vectorCol, textCol string) {
	if t == TargetSummaries {
		return "summary_embedding", "summary_search_vector"
	}
	return "embedding", "search_vector"
}

// RetrievalRepository runs the hybrid vector+lexical search behind the RAG
// Orchestrator's CONTENT path (spec.md §4.8).
type RetrievalRepository struct {
	db           *DB
	vectorWeight float64
	textWeight   float64
}

// NewRetrievalRepository constructs a RetrievalRepository. vectorWeight and
// textWeight combine each candidate's vector and lexical score into one
// ranking.
func NewRetrievalRepository(db *DB, vectorWeight, textWeight float64) *RetrievalRepository {
	return &RetrievalRepository{db: db, vectorWeight: vectorWeight, textWeight: textWeight}
}

// HybridResult is one ranked chunk returned by Search.
type HybridResult struct {
	ChunkID   int64
	VideoID   string
	StartTime float64
	EndTime   float64
	Text      string
	Score     float64
}

type candidateRow struct {
	ID        int64    `db:"id"`
	VideoID   string   `db:"video_id"`
	StartTime float64  `db:"start_time"`
	EndTime   float64  `db:"end_time"`
	Text      string   `db:"text"`
	Distance  *float64 `db:"distance"`
	Rank      *float64 `db:"rank"`
}

// Search ranks chunks belonging to videoIDs by a weighted combination of
// vector similarity and lexical relevance, returning at most topK results.
// videoIDs must be non-empty — an empty set returns an empty result without
// querying. A nil/empty queryEmbedding falls back to a lexical-only search,
// with the vector component contributing 0 to every score.
func (r *RetrievalRepository) Search(ctx context.Context, videoIDs []string, queryEmbedding models.Vector, queryText string, target TargetIndex, topK int) ([]HybridResult, error) {
	if len(videoIDs) == 0 {
		return nil, nil
	}
	vectorCol, textCol := target.columns()

	var rows []candidateRow
	var err error
	if len(queryEmbedding) == 0 {
		rows, err = r.textOnlyCandidates(ctx, videoIDs, queryText, textCol, topK)
	} else {
		rows, err = r.hybridCandidates(ctx, videoIDs, queryEmbedding, queryText, vectorCol, textCol, topK)
	}
	if err != nil {
		return nil, err
	}

	results := make([]HybridResult, len(rows))
	for i, row := range rows {
		vectorScore := 0.0
		if row.Distance != nil {
			vectorScore = 1 - *row.Distance
		}
		textScore := 0.0
		if row.Rank != nil {
			textScore = *row.Rank
		}
		results[i] = HybridResult{
			ChunkID:   row.ID,
			VideoID:   row.VideoID,
			StartTime: row.StartTime,
			EndTime:   row.EndTime,
			Text:      row.Text,
			Score:     r.vectorWeight*vectorScore + r.textWeight*textScore,
		}
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// hybridCandidates and textOnlyCandidates interpolate vectorCol/textCol
// directly into the query text rather than binding them as parameters:
// Postgres cannot parameterize identifiers, and both values are drawn from
// the fixed, non-user-controlled columns() mapping above, never from
// caller-supplied input.
func (r *RetrievalRepository) hybridCandidates(ctx context.Context, videoIDs []string, queryEmbedding models.Vector, queryText, vectorCol, textCol string, topK int) ([]candidateRow, error) {
	queryVec, err := vectorValue(queryEmbedding)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindCritical, "failed to encode query embedding", err)
	}

	q := fmt.Sprintf(`
		WITH vector_candidates AS (
			SELECT id, video_id, start_time, end_time, text, (%[1]s <-> $1) AS distance
			FROM chunks
			WHERE video_id = ANY($2) AND %[1]s IS NOT NULL
			ORDER BY %[1]s <-> $1
			LIMIT $3
		),
		text_candidates AS (
			SELECT id, video_id, start_time, end_time, text,
			       ts_rank(%[2]s, plainto_tsquery('spanish', $4)) AS rank
			FROM chunks
			WHERE video_id = ANY($2) AND %[2]s @@ plainto_tsquery('spanish', $4)
			ORDER BY rank DESC
			LIMIT $3
		)
		SELECT COALESCE(v.id, t.id) AS id,
		       COALESCE(v.video_id, t.video_id) AS video_id,
		       COALESCE(v.start_time, t.start_time) AS start_time,
		       COALESCE(v.end_time, t.end_time) AS end_time,
		       COALESCE(v.text, t.text) AS text,
		       v.distance AS distance,
		       t.rank AS rank
		FROM vector_candidates v
		FULL OUTER JOIN text_candidates t ON v.id = t.id`, vectorCol, textCol)

	var rows []candidateRow
	if err := r.db.SelectContext(ctx, &rows, q, queryVec, pqArray(videoIDs), topK, queryText); err != nil {
		return nil, apperr.Wrap(apperr.KindCritical, "failed to run hybrid retrieval query", err)
	}
	return rows, nil
}

func (r *RetrievalRepository) textOnlyCandidates(ctx context.Context, videoIDs []string, queryText, textCol string, topK int) ([]candidateRow, error) {
	q := fmt.Sprintf(`
		SELECT id, video_id, start_time, end_time, text,
		       NULL::float8 AS distance,
		       ts_rank(%[1]s, plainto_tsquery('spanish', $2)) AS rank
		FROM chunks
		WHERE video_id = ANY($1) AND %[1]s @@ plainto_tsquery('spanish', $2)
		ORDER BY rank DESC
		LIMIT $3`, textCol)

	var rows []candidateRow
	if err := r.db.SelectContext(ctx, &rows, q, pqArray(videoIDs), queryText, topK); err != nil {
		return nil, apperr.Wrap(apperr.KindCritical, "failed to run lexical retrieval query", err)
	}
	return rows, nil
}
