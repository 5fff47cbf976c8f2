package rag

import (
	"context"
	"fmt"
	"strings"

	"videorag/internal/database"
	"videorag/internal/llmclient"
	"videorag/internal/models"
)

const intentSystemPrompt = `You classify a user's question about a video channel's content into exactly one
of three classes. Reply with only the class name, nothing else.

METADATA: asks about channel/video facts — titles, publish dates, counts, durations.
CONTENT_GLOBAL: asks to summarize, compare, or reason about entire videos as a whole.
CONTENT: asks about specific facts, quotes, or details said within the videos.`

// classifyIntent asks the LLM to bucket a question, defaulting to CONTENT
// when the reply doesn't match a known class — the out-of-set case spec.md
// §4.9 calls out explicitly.
func classifyIntent(ctx context.Context, llm *llmclient.Client, question string) (models.IntentClass, error) {
	reply, err := llm.Complete(ctx, []llmclient.Message{
		{Role: llmclient.RoleSystem, Content: intentSystemPrompt},
		{Role: llmclient.RoleUser, Content: question},
	})
	if err != nil {
		return "", err
	}

	switch strings.ToUpper(strings.TrimSpace(reply)) {
	case string(models.IntentMetadata):
		return models.IntentMetadata, nil
	case string(models.IntentContentGlobal):
		return models.IntentContentGlobal, nil
	case string(models.IntentContent):
		return models.IntentContent, nil
	default:
		return models.IntentContent, nil
	}
}

func contentSystemPrompt(results []database.HybridResult) string {
	var b strings.Builder
	b.WriteString("Answer the user's question using only the transcript excerpts below. ")
	b.WriteString("Cite timestamps where relevant. If the excerpts don't contain the answer, say so.\n\n")
	for i, r := range results {
		fmt.Fprintf(&b, "[%d] video=%s %.0fs-%.0fs: %s\n", i+1, r.VideoID, r.StartTime, r.EndTime, r.Text)
	}
	return b.String()
}

func contentGlobalSystemPrompt(videoIDs []string, videoSummaries map[string][]database.SummarizedChunk) string {
	var b strings.Builder
	b.WriteString("Answer the user's question using only the per-video summaries below, ")
	b.WriteString("ordered chronologically within each video.\n\n")
	for _, videoID := range videoIDs {
		fmt.Fprintf(&b, "video=%s:\n", videoID)
		for _, c := range videoSummaries[videoID] {
			fmt.Fprintf(&b, "  - [%.0fs-%.0fs] %s\n", c.StartTime, c.EndTime, c.Summary)
		}
	}
	return b.String()
}
