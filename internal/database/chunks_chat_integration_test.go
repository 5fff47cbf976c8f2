package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"videorag/internal/models"
)

func seedChannelAndVideo(t *testing.T, db *DB, videoID string) (*models.Channel, *models.Video) {
	t.Helper()
	channels := NewChannelRepository(db)
	videos := NewVideoRepository(db)

	channel, err := channels.Create(context.Background(), "test channel", "https://www.youtube.com/@"+videoID)
	require.NoError(t, err)

	video := &models.Video{VideoID: videoID, ChannelID: channel.ID, Title: "title"}
	require.NoError(t, videos.Create(context.Background(), video))

	return channel, video
}

// TestChunkRepository_NeedingEmbeddingOrdersByChunkIndex covers the
// retriever-adjacent invariant that chunk_index ordering tracks start_time
// ordering: chunks come back for embedding in the same order they were
// packed, not insertion or id order.
func TestChunkRepository_NeedingEmbeddingOrdersByChunkIndex(t *testing.T) {
	db := setupTestDB(t)
	truncateAll(t, db)

	_, video := seedChannelAndVideo(t, db, "vid1")
	chunks := NewChunkRepository(db)

	err := chunks.ReplaceForVideo(context.Background(), video.VideoID, []NewChunk{
		{ChunkIndex: 2, StartTime: 20, EndTime: 30, Text: "third chunk"},
		{ChunkIndex: 0, StartTime: 0, EndTime: 10, Text: "first chunk"},
		{ChunkIndex: 1, StartTime: 10, EndTime: 20, Text: "second chunk"},
	})
	require.NoError(t, err)

	pending, err := chunks.NeedingEmbedding(context.Background(), []string{video.VideoID}, 10)
	require.NoError(t, err)
	require.Len(t, pending, 3)

	for i, c := range pending {
		require.Equal(t, i, c.ChunkIndex)
	}
	require.True(t, pending[0].StartTime < pending[1].StartTime)
	require.True(t, pending[1].StartTime < pending[2].StartTime)
}

// TestChunkRepository_WriteEmbeddingRemovesFromNeedingEmbedding covers
// idempotence of the embed stage's batch selection: once a chunk's
// embeddings are written, it no longer appears in the needing-embedding set.
func TestChunkRepository_WriteEmbeddingRemovesFromNeedingEmbedding(t *testing.T) {
	db := setupTestDB(t)
	truncateAll(t, db)

	_, video := seedChannelAndVideo(t, db, "vid2")
	chunks := NewChunkRepository(db)

	require.NoError(t, chunks.ReplaceForVideo(context.Background(), video.VideoID, []NewChunk{
		{ChunkIndex: 0, StartTime: 0, EndTime: 10, Text: "only chunk"},
	}))

	pending, err := chunks.NeedingEmbedding(context.Background(), []string{video.VideoID}, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	vec := make(models.Vector, 384)
	for i := range vec {
		vec[i] = 0.01
	}
	require.NoError(t, chunks.WriteEmbedding(context.Background(), pending[0].ID, vec, vec))

	remaining, err := chunks.NeedingEmbedding(context.Background(), []string{video.VideoID}, 10)
	require.NoError(t, err)
	require.Empty(t, remaining)
}

// TestChunkRepository_ReplaceForVideoIsIdempotent exercises the chunker's
// idempotence invariant at the storage layer: replacing a video's chunks
// twice with the same input leaves exactly that input's chunk count, not an
// accumulation across runs.
func TestChunkRepository_ReplaceForVideoIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	truncateAll(t, db)

	_, video := seedChannelAndVideo(t, db, "vid3")
	chunks := NewChunkRepository(db)

	input := []NewChunk{
		{ChunkIndex: 0, StartTime: 0, EndTime: 10, Text: "a"},
		{ChunkIndex: 1, StartTime: 10, EndTime: 20, Text: "b"},
	}
	require.NoError(t, chunks.ReplaceForVideo(context.Background(), video.VideoID, input))
	require.NoError(t, chunks.ReplaceForVideo(context.Background(), video.VideoID, input))

	pending, err := chunks.NeedingEmbedding(context.Background(), []string{video.VideoID}, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
}

// TestChatRepository_RecentMessagesReturnsAscendingOrder covers the
// ask_stream invariant that chat context is built oldest-first even though
// the underlying query selects newest-first to apply the limit.
func TestChatRepository_RecentMessagesReturnsAscendingOrder(t *testing.T) {
	db := setupTestDB(t)
	truncateAll(t, db)
	chat := NewChatRepository(db)

	session, err := chat.UpsertSession(context.Background(), nil, "first question", nil)
	require.NoError(t, err)

	require.NoError(t, chat.AppendTurn(context.Background(), session.ID, "q1", "a1", nil))
	require.NoError(t, chat.AppendTurn(context.Background(), session.ID, "q2", "a2", nil))
	require.NoError(t, chat.AppendTurn(context.Background(), session.ID, "q3", "a3", nil))

	recent, err := chat.RecentMessages(context.Background(), session.ID, 4)
	require.NoError(t, err)
	require.Len(t, recent, 4)

	// 3 turns = 6 messages; limit 4 keeps the most recent 4, oldest first.
	require.Equal(t, "q2", recent[0].Content)
	require.Equal(t, "a2", recent[1].Content)
	require.Equal(t, "q3", recent[2].Content)
	require.Equal(t, "a3", recent[3].Content)

	for i := 1; i < len(recent); i++ {
		require.True(t, recent[i-1].CreatedAt.Before(recent[i].CreatedAt) ||
			recent[i-1].CreatedAt.Equal(recent[i].CreatedAt))
	}
}
