package render

import (
	"fmt"
	"time"

	"github.com/ssaamm/rss2/internal/model"
)

// Window is the half-open interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls in w.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Windows returns the length most recent completed windows of cadence counted
// from start, oldest first. Windows that would begin before start are
// dropped, so fewer than length windows are returned early on and none
// before start.
func Windows(start time.Time, cadence model.Cadence, length int, now time.Time) ([]Window, error) {
	size, ok := cadence.Duration()
	if !ok {
		return nil, fmt.Errorf("%w: unknown cadence %q", model.ErrInvalidConfig, cadence)
	}
	completed := floorDiv(int64(now.Sub(start)), int64(size))

	first := completed - int64(length)
	if first < 0 {
		first = 0
	}
	if completed <= first {
		return nil, nil
	}
	windows := make([]Window, 0, completed-first)
	for idx := first; idx < completed; idx++ {
		ws := start.Add(time.Duration(idx) * size)
		windows = append(windows, Window{Start: ws, End: ws.Add(size)})
	}
	return windows, nil
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
