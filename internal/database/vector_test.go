package database

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"videorag/internal/models"
)

func TestToVectorLiteral(t *testing.T) {
	got := toVectorLiteral([]float64{0.1, 0.2, -0.3})
	assert.Equal(t, "[0.1,0.2,-0.3]", got)
}

func TestToVectorLiteral_Empty(t *testing.T) {
	assert.Equal(t, "[]", toVectorLiteral(nil))
}

func TestParseVectorLiteral_RoundTrip(t *testing.T) {
	original := []float64{0.5, -1.25, 3}
	literal := toVectorLiteral(original)

	parsed, err := parseVectorLiteral(literal)
	require.NoError(t, err)
	require.Len(t, parsed, len(original))
	for i, v := range original {
		assert.InDelta(t, v, parsed[i], 1e-9)
	}
}

func TestParseVectorLiteral_Empty(t *testing.T) {
	parsed, err := parseVectorLiteral("[]")
	require.NoError(t, err)
	assert.Empty(t, parsed)
}

func TestParseVectorLiteral_Malformed(t *testing.T) {
	_, err := parseVectorLiteral("[0.1,not-a-number]")
	assert.Error(t, err)
}

func TestNormalizeVec_UnitLength(t *testing.T) {
	out := normalizeVec([]float64{3, 4}, 2)

	var sumSq float64
	for _, v := range out {
		sumSq += v * v
	}
	assert.InDelta(t, 1.0, math.Sqrt(sumSq), 1e-9)
	assert.InDelta(t, 0.6, out[0], 1e-9)
	assert.InDelta(t, 0.8, out[1], 1e-9)
}

func TestNormalizeVec_PadsToDim(t *testing.T) {
	out := normalizeVec([]float64{1}, 4)
	assert.Len(t, out, 4)
}

func TestNormalizeVec_ZeroVectorStaysZero(t *testing.T) {
	out := normalizeVec([]float64{0, 0, 0}, 3)
	assert.Equal(t, []float64{0, 0, 0}, out)
}

func TestNormalizeVector_ExportedWrapsDim(t *testing.T) {
	out := NormalizeVector([]float64{1, 1})
	assert.Len(t, out, Dim)
	assert.IsType(t, models.Vector{}, out)
}

func TestVectorValue_NilPassesThrough(t *testing.T) {
	v, err := vectorValue(nil)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestVectorValue_FormatsLiteral(t *testing.T) {
	v, err := vectorValue(models.Vector{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, "[1,2,3]", v)
}
