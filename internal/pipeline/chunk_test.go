package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"videorag/internal/models"
)

func segmentsOfLength(n int, wordsPerSegment int) []models.Segment {
	segs := make([]models.Segment, n)
	for i := range segs {
		words := make([]string, wordsPerSegment)
		for j := range words {
			words[j] = "word"
		}
		segs[i] = models.Segment{
			StartTime: float64(i),
			EndTime:   float64(i + 1),
			Text:      strings.Join(words, " "),
		}
	}
	return segs
}

func TestPackSegments_Empty(t *testing.T) {
	assert.Empty(t, PackSegments(nil))
}

func TestPackSegments_BlankSegmentsAreSkipped(t *testing.T) {
	segs := []models.Segment{
		{StartTime: 0, EndTime: 1, Text: "   "},
		{StartTime: 1, EndTime: 2, Text: ""},
	}
	assert.Empty(t, PackSegments(segs))
}

func TestPackSegments_BelowResidualThresholdYieldsNothing(t *testing.T) {
	// A single short segment never reaches residualTokenMin tokens.
	segs := []models.Segment{{StartTime: 0, EndTime: 1, Text: "hi"}}
	assert.Empty(t, PackSegments(segs))
}

func TestPackSegments_ShortTranscriptYieldsOneResidualChunk(t *testing.T) {
	// Enough text to clear residualTokenMin but never reach TargetTokens.
	segs := segmentsOfLength(20, 5)
	packed := PackSegments(segs)
	require.Len(t, packed, 1)
	assert.Equal(t, 0.0, packed[0].StartTime)
	assert.Equal(t, segs[len(segs)-1].EndTime, packed[0].EndTime)
}

func TestPackSegments_LongTranscriptProducesOverlappingWindows(t *testing.T) {
	// Enough segments to force at least two emitted windows.
	segs := segmentsOfLength(400, 5)
	packed := PackSegments(segs)
	require.GreaterOrEqual(t, len(packed), 2)

	for _, p := range packed {
		assert.LessOrEqual(t, p.StartTime, p.EndTime)
		assert.NotEmpty(t, p.Text)
	}

	// Consecutive windows overlap: the next window's start isn't past the
	// previous window's end (the sliding-window trims from the front, not
	// from the back).
	for i := 1; i < len(packed); i++ {
		assert.LessOrEqual(t, packed[i].StartTime, packed[i-1].EndTime)
	}
}

func TestPackSegments_IsDeterministic(t *testing.T) {
	segs := segmentsOfLength(200, 5)
	first := PackSegments(segs)
	second := PackSegments(segs)
	assert.Equal(t, first, second)
}

func TestTokenEstimate(t *testing.T) {
	assert.Equal(t, 0, tokenEstimate(0))
	assert.Equal(t, 1, tokenEstimate(1))
	assert.Equal(t, 1, tokenEstimate(AvgCharsPerToken))
	assert.Equal(t, 2, tokenEstimate(AvgCharsPerToken+1))
}

func TestWindowCharLen_JoinsWithSpaces(t *testing.T) {
	window := []models.Segment{{Text: "ab"}, {Text: "cde"}}
	// "ab" + " " + "cde" = 6 chars
	assert.Equal(t, 6, windowCharLen(window))
}
