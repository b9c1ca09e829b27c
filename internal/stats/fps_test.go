package stats

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frameTimes(n int, interval time.Duration) []time.Time {
	base := time.Unix(1700000000, 0)
	out := make([]time.Time, n)
	for i := range out {
		out[i] = base.Add(time.Duration(i) * interval)
	}
	return out
}

func TestCalculateFPSStats(t *testing.T) {
	t.Run("steady 30fps", func(t *testing.T) {
		times := frameTimes(30, time.Second/30)
		s := CalculateFPSStats(times, time.Second)

		assert.Equal(t, 30, s.Frames)
		assert.InDelta(t, 30.0, s.FPSMean, 0.01)
		assert.InDelta(t, 30.0, s.FPSMin, 0.01)
		assert.InDelta(t, 30.0, s.FPSMax, 0.01)
		assert.True(t, s.IsStable)
	})

	t.Run("no frames", func(t *testing.T) {
		s := CalculateFPSStats(nil, time.Second)
		assert.Zero(t, s.FPSMean)
		assert.False(t, s.IsStable)
	})

	t.Run("bursty", func(t *testing.T) {
		base := time.Unix(0, 0)
		times := []time.Time{
			base,
			base.Add(10 * time.Millisecond),
			base.Add(500 * time.Millisecond),
			base.Add(510 * time.Millisecond),
			base.Add(time.Second),
		}
		s := CalculateFPSStats(times, time.Second)
		assert.False(t, s.IsStable)
		assert.Greater(t, s.FPSMax, s.FPSMin)
	})
}

func TestWindow(t *testing.T) {
	var w Window
	assert.Equal(t, 0, w.Snapshot().Frames)

	for _, ts := range frameTimes(windowSize+50, time.Second/30) {
		w.Add(ts)
	}
	s := w.Snapshot()
	require.Equal(t, windowSize, s.Frames)
	assert.InDelta(t, 30.0, s.FPSMean, 0.5)

	w.Reset()
	assert.Equal(t, 0, w.Snapshot().Frames)
}

func TestWindow_Concurrent(t *testing.T) {
	var w Window
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				w.Add(time.Now())
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, windowSize, w.Snapshot().Frames)
}
