package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWindow(t *testing.T) {
	var w window
	assert.Zero(t, w.mean(3))
	assert.Empty(t, w.recent(3))

	w.push(4)
	w.push(8)
	assert.Equal(t, int64(8), w.at(0))
	assert.Equal(t, int64(4), w.at(1))
	assert.InDelta(t, 6.0, w.mean(10), 0)
	assert.InDelta(t, 8.0, w.mean(1), 0)
	assert.Equal(t, []float64{4, 8}, w.recent(2))
	assert.Empty(t, w.recent(-1))
}

func TestWindowWraps(t *testing.T) {
	var w window
	for i := range 2 * windowSize {
		w.push(int64(i))
	}
	assert.Equal(t, windowSize, w.n)
	assert.Equal(t, int64(2*windowSize-1), w.at(0))
	assert.Equal(t, int64(windowSize), w.at(windowSize-1))
	got := w.recent(3)
	assert.Equal(t, []float64{float64(2*windowSize - 3), float64(2*windowSize - 2), float64(2*windowSize - 1)}, got)
}
