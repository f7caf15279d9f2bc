package chunk

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlan_SeventeenMinutesInFiveMinuteChunks(t *testing.T) {
	windows, err := Plan(17*60, 5*60, DefaultOverlapSec)
	require.NoError(t, err)

	want := []Window{
		{Index: 1, StartSec: 0, EndSec: 300},
		{Index: 2, StartSec: 298, EndSec: 598},
		{Index: 3, StartSec: 596, EndSec: 896},
		{Index: 4, StartSec: 894, EndSec: 1020},
	}
	assert.Equal(t, want, windows)
	assert.InDelta(t, 126.0, windows[3].Duration(), 1e-9)
}

func TestPlan_ShortInputYieldsSingleWindow(t *testing.T) {
	tests := []struct {
		name  string
		total float64
	}{
		{"shorter than chunk", 42.5},
		{"equal to chunk", 300},
		{"tiny", 0.001},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			windows, err := Plan(tt.total, 300, 2)
			require.NoError(t, err)
			require.Len(t, windows, 1)
			assert.Equal(t, Window{Index: 1, StartSec: 0, EndSec: tt.total}, windows[0])
		})
	}
}

func TestPlan_TinyTrailingRemainder(t *testing.T) {
	// 300.5s at 300s chunks leaves a 2.5s tail window starting at 298.
	windows, err := Plan(300.5, 300, 2)
	require.NoError(t, err)
	require.Len(t, windows, 2)
	assert.Equal(t, 298.0, windows[1].StartSec)
	assert.Equal(t, 300.5, windows[1].EndSec)
}

func TestPlan_Properties(t *testing.T) {
	inputs := []struct {
		total, chunk, overlap float64
	}{
		{1020, 300, 2},
		{3600, 300, 2},
		{3599.987, 300, 2},
		{61.3, 7.25, 0.75},
		{100, 10, 0},
		{100, 10, 9.5},
		{12345.678, 60, 2},
		{1, 0.3, 0.1},
	}

	for _, in := range inputs {
		windows, err := Plan(in.total, in.chunk, in.overlap)
		require.NoError(t, err, "input %+v", in)
		require.NotEmpty(t, windows)

		assert.Equal(t, 0.0, windows[0].StartSec, "first window starts at 0 for %+v", in)
		assert.Equal(t, in.total, windows[len(windows)-1].EndSec, "last window ends at total for %+v", in)

		sum := 0.0
		for i, w := range windows {
			assert.Equal(t, i+1, w.Index)
			assert.Greater(t, w.Duration(), 0.0, "window %d of %+v", w.Index, in)
			assert.LessOrEqual(t, w.Duration(), in.chunk+1e-9)
			if i > 0 {
				prev := windows[i-1]
				assert.InDelta(t, math.Max(prev.EndSec-in.overlap, 0), w.StartSec, 1e-9)
			}
			sum += w.Duration()
		}

		covered := sum - in.overlap*float64(len(windows)-1)
		assert.InDelta(t, in.total, covered, 1e-6, "round trip for %+v", in)
	}
}

func TestPlan_Deterministic(t *testing.T) {
	first, err := Plan(5000, 120, 2)
	require.NoError(t, err)
	second, err := Plan(5000, 120, 2)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestPlan_InvalidInput(t *testing.T) {
	tests := []struct {
		name                  string
		total, chunk, overlap float64
		wantErr               error
	}{
		{"zero total", 0, 300, 2, ErrInvalidDuration},
		{"negative total", -5, 300, 2, ErrInvalidDuration},
		{"NaN total", math.NaN(), 300, 2, ErrInvalidDuration},
		{"infinite total", math.Inf(1), 300, 2, ErrInvalidDuration},
		{"zero chunk", 100, 0, 0, ErrInvalidLength},
		{"negative chunk", 100, -1, 0, ErrInvalidLength},
		{"negative overlap", 100, 10, -1, ErrInvalidOverlap},
		{"overlap equals chunk", 100, 10, 10, ErrInvalidOverlap},
		{"overlap exceeds chunk", 100, 10, 11, ErrInvalidOverlap},
		{"NaN overlap", 100, 10, math.NaN(), ErrInvalidOverlap},
		{"too many windows", 1e9, 1, 0, ErrTooManyWindows},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			windows, err := Plan(tt.total, tt.chunk, tt.overlap)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, windows)
		})
	}
}

func BenchmarkPlan(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_, _ = Plan(4*3600, 300, 2)
	}
}
