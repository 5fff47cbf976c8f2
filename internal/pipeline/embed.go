package pipeline

import (
	"context"
	"fmt"

	"videorag/internal/database"
	"videorag/internal/encoder"
	"videorag/internal/models"
)

// EmbedStage batch-encodes chunk text and summary into dual embeddings and
// writes them back L2-normalized (C7).
type EmbedStage struct {
	Chunks    *database.ChunkRepository
	Encoder   *encoder.Client
	BatchSize int
}

// Run repeatedly pulls up to BatchSize chunks still missing an embedding,
// restricted to videoIDs when non-empty, until none remain. A batch failure
// stops the stage without advancing past it: chunks in that batch are left
// unembedded so a later run retries them.
func (s *EmbedStage) Run(ctx context.Context, videoIDs []string, reporter Reporter) error {
	total := 0
	for {
		batch, err := s.Chunks.NeedingEmbedding(ctx, videoIDs, s.batchSize())
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			break
		}

		if err := s.embedBatch(ctx, batch); err != nil {
			return err
		}

		total += len(batch)
		reporter.Update(0, fmt.Sprintf("embedded %d chunks", total))
	}

	reporter.Update(100, fmt.Sprintf("embedding complete, %d chunks embedded", total))
	return nil
}

func (s *EmbedStage) embedBatch(ctx context.Context, batch []models.Chunk) error {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Text
	}
	textVecs, err := s.Encoder.EncodeBatch(ctx, texts)
	if err != nil {
		return err
	}

	summaryIdx := make([]int, 0, len(batch))
	summaries := make([]string, 0, len(batch))
	for i, c := range batch {
		if c.Summary != nil && *c.Summary != "" {
			summaryIdx = append(summaryIdx, i)
			summaries = append(summaries, *c.Summary)
		}
	}
	var summaryVecs [][]float64
	if len(summaries) > 0 {
		summaryVecs, err = s.Encoder.EncodeBatch(ctx, summaries)
		if err != nil {
			return err
		}
	}

	summaryVecByIdx := make(map[int]models.Vector, len(summaryIdx))
	for j, i := range summaryIdx {
		summaryVecByIdx[i] = database.NormalizeVector(summaryVecs[j])
	}

	for i, c := range batch {
		textVec := database.NormalizeVector(textVecs[i])
		if err := s.Chunks.WriteEmbedding(ctx, c.ID, textVec, summaryVecByIdx[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *EmbedStage) batchSize() int {
	if s.BatchSize <= 0 {
		return 32
	}
	return s.BatchSize
}

// EmbedQuestion encodes a single question string, normalizes it, and
// returns the raw vector — used by the embed_question lightweight task,
// whose Task.Result carries the serialized embedding for the RAG
// Orchestrator to poll for.
func EmbedQuestion(ctx context.Context, enc *encoder.Client, question string) (models.Vector, error) {
	raw, err := enc.Encode(ctx, question)
	if err != nil {
		return nil, err
	}
	return database.NormalizeVector(raw), nil
}
