package database

import (
	"database/sql/driver"
	"fmt"
	"math"
	"strconv"
	"strings"

	"videorag/internal/models"
)

// Dim is the fixed dimensionality of every stored embedding (vec384 per the
// data model).
const Dim = 384

// toVectorLiteral formats a float slice as a pgvector text literal, e.g.
// "[0.1,0.2,0.3]". Grounded on the Go teacher's own helper of the same name
// in its retrieval engine.
func toVectorLiteral(vec []float64) string {
	parts := make([]string, len(vec))
	for i, v := range vec {
		parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// normalizeVec L2-normalizes vec, padding or truncating to dim. Grounded on
// the Go teacher's own helper of the same name.
func normalizeVec(vec []float64, dim int) []float64 {
	out := make([]float64, dim)
	copy(out, vec)

	var sumSq float64
	for _, v := range out {
		sumSq += v * v
	}
	if sumSq == 0 {
		return out
	}
	norm := math.Sqrt(sumSq)
	for i := range out {
		out[i] /= norm
	}
	return out
}

// NormalizeVector is the exported form of normalizeVec for use outside the
// package (encoder clients normalizing before persistence).
func NormalizeVector(vec []float64) models.Vector {
	return models.Vector(normalizeVec(vec, Dim))
}

// vectorValue converts a models.Vector into a driver.Value (a pgvector text
// literal, or nil for a nil vector) for binding against a pgvector column.
func vectorValue(v models.Vector) (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	return toVectorLiteral([]float64(v)), nil
}

// parseVectorLiteral parses a pgvector text literal like "[0.1,0.2]" back
// into a models.Vector.
func parseVectorLiteral(s string) (models.Vector, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		return models.Vector{}, nil
	}
	parts := strings.Split(s, ",")
	out := make(models.Vector, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("parse vector component %q: %w", p, err)
		}
		out[i] = f
	}
	return out, nil
}
