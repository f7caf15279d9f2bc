// Package chunk plans how an audio stream is cut into fixed-length windows
// that share a trailing overlap with their predecessor.
package chunk

import (
	"errors"
	"fmt"
	"math"
)

// Static errors for window planning.
var (
	// ErrInvalidDuration is returned when the total duration is not a positive, finite number.
	ErrInvalidDuration = errors.New("chunk: total duration must be positive and finite")
	// ErrInvalidLength is returned when the chunk length is not a positive, finite number.
	ErrInvalidLength = errors.New("chunk: chunk length must be positive and finite")
	// ErrInvalidOverlap is returned when the overlap is negative or not shorter than the chunk length.
	ErrInvalidOverlap = errors.New("chunk: overlap must be in [0, chunk length)")
	// ErrTooManyWindows is returned when the inputs would produce more than MaxWindows windows
	// or the step between windows is too small to advance.
	ErrTooManyWindows = errors.New("chunk: too many windows")
)

// DefaultOverlapSec is the default overlap between consecutive windows, in seconds.
const DefaultOverlapSec = 2.0

// MaxWindows bounds the number of windows a single plan may produce.
const MaxWindows = 100_000

// Window is one time-bounded segment of the source audio.
type Window struct {
	// Index is the 1-based position of the window.
	Index int
	// StartSec is the offset of the first sample, in seconds.
	StartSec float64
	// EndSec is the offset just past the last sample, in seconds.
	EndSec float64
}

// Duration returns EndSec - StartSec.
func (w Window) Duration() float64 {
	return w.EndSec - w.StartSec
}

// Plan partitions totalSec into windows of at most chunkSec seconds. Every
// window after the first starts overlapSec before the end of the previous
// one. The last window always ends exactly at totalSec, however short it is,
// and a total shorter than chunkSec yields a single window [0, totalSec].
func Plan(totalSec, chunkSec, overlapSec float64) ([]Window, error) {
	if !isPositiveFinite(totalSec) {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidDuration, totalSec)
	}
	if !isPositiveFinite(chunkSec) {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidLength, chunkSec)
	}
	if math.IsNaN(overlapSec) || overlapSec < 0 || overlapSec >= chunkSec {
		return nil, fmt.Errorf("%w: got %v with chunk length %v", ErrInvalidOverlap, overlapSec, chunkSec)
	}

	count := estimateCount(totalSec, chunkSec, overlapSec)
	if count > MaxWindows {
		return nil, fmt.Errorf("%w: %d windows for %vs at %vs", ErrTooManyWindows, count, totalSec, chunkSec)
	}

	windows := make([]Window, 0, count)
	start := 0.0
	for index := 1; ; index++ {
		end := math.Min(start+chunkSec, totalSec)
		windows = append(windows, Window{Index: index, StartSec: start, EndSec: end})
		if end >= totalSec {
			break
		}
		next := math.Max(end-overlapSec, 0)
		// Float rounding can swallow a tiny step at large offsets.
		if next <= start || index >= MaxWindows {
			return nil, fmt.Errorf("%w: no progress at %vs", ErrTooManyWindows, start)
		}
		start = next
	}

	return windows, nil
}

// estimateCount sizes the result slice up front.
func estimateCount(totalSec, chunkSec, overlapSec float64) int {
	if totalSec <= chunkSec {
		return 1
	}
	step := chunkSec - overlapSec
	n := 1 + math.Ceil((totalSec-chunkSec)/step)
	if n > MaxWindows {
		return MaxWindows + 1
	}
	return int(n)
}

func isPositiveFinite(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
