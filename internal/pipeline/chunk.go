package pipeline

import (
	"context"
	"fmt"
	"math"
	"strings"

	"videorag/internal/database"
	"videorag/internal/llmclient"
	"videorag/internal/models"
)

// Deterministic packing parameters, per spec.md §4.6.
const (
	TargetTokens     = 512
	OverlapTokens    = 100
	AvgCharsPerToken = 4
	residualTokenMin = 50
)

// ChunkStage packs a video's segments into token-bounded overlapping
// chunks and summarizes each with the LLM (C6).
type ChunkStage struct {
	Chunks *database.ChunkRepository
	LLM    *llmclient.Client
}

// Run packs, summarizes, and idempotently replaces a video's chunks.
func (s *ChunkStage) Run(ctx context.Context, videoID string, segments []models.Segment, reporter Reporter) error {
	reporter.Update(0, "packing segments")

	packed := PackSegments(segments)

	chunks := make([]database.NewChunk, len(packed))
	for i, p := range packed {
		summary, err := s.summarize(ctx, p.Text)
		if err != nil {
			// A summary failure degrades gracefully to no summary rather than
			// aborting the whole video's chunk stage.
			summary = ""
		}
		var summaryPtr *string
		if summary != "" {
			summaryPtr = &summary
		}
		chunks[i] = database.NewChunk{
			ChunkIndex: i,
			StartTime:  p.StartTime,
			EndTime:    p.EndTime,
			Text:       p.Text,
			Summary:    summaryPtr,
		}
		reporter.Update(int(float64(i+1)/float64(len(packed))*90), fmt.Sprintf("summarized chunk %d/%d", i+1, len(packed)))
	}

	if err := s.Chunks.ReplaceForVideo(ctx, videoID, chunks); err != nil {
		return err
	}

	reporter.Update(100, "chunking complete")
	return nil
}

func (s *ChunkStage) summarize(ctx context.Context, text string) (string, error) {
	return s.LLM.Complete(ctx, []llmclient.Message{
		{Role: llmclient.RoleSystem, Content: "Summarize the following transcript excerpt in exactly one sentence."},
		{Role: llmclient.RoleUser, Content: text},
	})
}

// PackedChunk is one window emitted by PackSegments, before summarization.
type PackedChunk struct {
	StartTime float64
	EndTime   float64
	Text      string
}

// PackSegments deterministically packs segments into token-bounded,
// overlapping windows. It is a pure function so it can be tested and
// verified for idempotence without a database.
func PackSegments(segments []models.Segment) []PackedChunk {
	var out []PackedChunk
	var window []models.Segment

	emit := func() {
		if len(window) == 0 {
			return
		}
		texts := make([]string, len(window))
		for i, seg := range window {
			texts[i] = seg.Text
		}
		out = append(out, PackedChunk{
			StartTime: window[0].StartTime,
			EndTime:   window[len(window)-1].EndTime,
			Text:      strings.Join(texts, " "),
		})
	}

	slide := func() {
		for len(window) > 1 && windowCharLen(window) > OverlapTokens*AvgCharsPerToken {
			window = window[1:]
		}
	}

	for _, seg := range segments {
		if strings.TrimSpace(seg.Text) == "" {
			continue
		}
		window = append(window, seg)

		if tokenEstimate(windowCharLen(window)) >= TargetTokens {
			emit()
			slide()
		}
	}

	if len(window) > 0 && tokenEstimate(windowCharLen(window)) > residualTokenMin {
		emit()
	}

	return out
}

func windowCharLen(window []models.Segment) int {
	total := 0
	for i, seg := range window {
		total += len(seg.Text)
		if i > 0 {
			total++ // joining space
		}
	}
	return total
}

func tokenEstimate(charLen int) int {
	return int(math.Ceil(float64(charLen) / AvgCharsPerToken))
}
