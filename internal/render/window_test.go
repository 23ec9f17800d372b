package render

import (
	"testing"
	"time"

	"github.com/ssaamm/rss2/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowsDaily(t *testing.T) {
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	day := 24 * time.Hour

	windows, err := Windows(start, model.CadenceDaily, 3, start.Add(26*day+time.Hour))
	require.NoError(t, err)
	require.Len(t, windows, 3)
	assert.Equal(t, Window{start.Add(23 * day), start.Add(24 * day)}, windows[0])
	assert.Equal(t, Window{start.Add(24 * day), start.Add(25 * day)}, windows[1])
	assert.Equal(t, Window{start.Add(25 * day), start.Add(26 * day)}, windows[2])

	for i := 1; i < len(windows); i++ {
		assert.Equal(t, windows[i-1].End, windows[i].Start, "windows must be contiguous")
		assert.Equal(t, day, windows[i].End.Sub(windows[i].Start))
	}
}

func TestWindowsBoundary(t *testing.T) {
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	// Exactly on a boundary the window ending now is complete.
	windows, err := Windows(start, model.CadenceHourly, 1, start.Add(5*time.Hour))
	require.NoError(t, err)
	require.Len(t, windows, 1)
	assert.Equal(t, start.Add(4*time.Hour), windows[0].Start)

	assert.True(t, windows[0].Contains(start.Add(4*time.Hour)))
	assert.False(t, windows[0].Contains(start.Add(5*time.Hour)))
}

func TestWindowsBeforeEnoughHistory(t *testing.T) {
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	week := 7 * 24 * time.Hour

	windows, err := Windows(start, model.CadenceWeekly, 5, start.Add(2*week+time.Hour))
	require.NoError(t, err)
	require.Len(t, windows, 2)
	assert.Equal(t, start, windows[0].Start)
	assert.Equal(t, start.Add(2*week), windows[1].End)

	windows, err = Windows(start, model.CadenceWeekly, 5, start.Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, windows)

	windows, err = Windows(start, model.CadenceDaily, 3, start.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, windows)
}

func TestWindowsOnlyBuildsExistingWindows(t *testing.T) {
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	windows, err := Windows(start, model.CadenceHourly, 1<<40, start.Add(3*time.Hour))
	require.NoError(t, err)
	require.Len(t, windows, 3)
	assert.Equal(t, 3, cap(windows))
	assert.Equal(t, start, windows[0].Start)
	assert.Equal(t, start.Add(3*time.Hour), windows[2].End)
}

func TestWindowsUnknownCadence(t *testing.T) {
	_, err := Windows(time.Now(), model.Cadence("monthly"), 3, time.Now())
	assert.ErrorIs(t, err, model.ErrInvalidConfig)
}

func TestFloorDiv(t *testing.T) {
	assert.Equal(t, int64(2), floorDiv(5, 2))
	assert.Equal(t, int64(-3), floorDiv(-5, 2))
	assert.Equal(t, int64(-1), floorDiv(-1, 2))
	assert.Equal(t, int64(0), floorDiv(0, 2))
}
