package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"videorag/internal/pipeline"
)

func TestClamp(t *testing.T) {
	assert.Equal(t, 0, clamp(-5))
	assert.Equal(t, 0, clamp(0))
	assert.Equal(t, 50, clamp(50))
	assert.Equal(t, 100, clamp(100))
	assert.Equal(t, 100, clamp(150))
}

// recordingReporter captures every Update call it receives, so subReporter's
// rescaling can be asserted without a database.
type recordingReporter struct {
	calls []int
}

func (r *recordingReporter) Update(pct int, note string) {
	r.calls = append(r.calls, pct)
}

func TestSubReporter_RescalesIntoParentWindow(t *testing.T) {
	parent := &recordingReporter{}
	sub := subReporter{parent: parent, lo: 40, hi: 70}

	sub.Update(0, "start")
	sub.Update(50, "halfway")
	sub.Update(100, "done")

	assert.Equal(t, []int{40, 55, 70}, parent.calls)
}

func TestSubReporter_ClampsOutOfRangeInput(t *testing.T) {
	parent := &recordingReporter{}
	sub := subReporter{parent: parent, lo: 0, hi: 40}

	sub.Update(-10, "below zero")
	sub.Update(200, "above max")

	assert.Equal(t, []int{0, 40}, parent.calls)
}

func TestSubReporter_NestedChaining(t *testing.T) {
	parent := &recordingReporter{}
	outer := subReporter{parent: parent, lo: 0, hi: 100}
	inner := subReporter{parent: outer, lo: 70, hi: 100}

	inner.Update(0, "embed start")
	inner.Update(100, "embed done")

	assert.Equal(t, []int{70, 100}, parent.calls)
}

var _ pipeline.Reporter = (*recordingReporter)(nil)
