// Package stats measures the delivery rate of a pad from buffer timestamps.
package stats

import (
	"math"
	"sync"
	"time"
)

const (
	// fpsStabilityThreshold is the maximum allowed FPS standard deviation as a fraction of mean FPS.
	// A stream is considered stable if stddev < 15% of mean FPS.
	fpsStabilityThreshold = 0.15

	// jitterStabilityThreshold is the maximum allowed mean jitter as a fraction of expected interval.
	jitterStabilityThreshold = 0.20

	// windowSize bounds how many delivery timestamps a Window keeps
	windowSize = 120
)

// FPSStats summarises the delivery rate over a set of timestamps
type FPSStats struct {
	Frames       int
	Duration     time.Duration
	FPSMean      float64
	FPSStdDev    float64
	FPSMin       float64
	FPSMax       float64
	JitterMean   float64 // seconds
	JitterStdDev float64 // seconds
	JitterMax    float64 // seconds
	IsStable     bool
}

// CalculateFPSStats calculates FPS statistics from frame timestamps
//
// This function:
//  1. Calculates mean FPS (overall)
//  2. Calculates instantaneous FPS for each frame interval
//  3. Finds min/max instantaneous FPS
//  4. Calculates standard deviation of instantaneous FPS
//  5. Calculates jitter statistics (inter-frame interval variance)
//  6. Determines stability (stddev < 15% of mean AND jitter < 20%)
func CalculateFPSStats(frameTimes []time.Time, totalDuration time.Duration) FPSStats {
	n := len(frameTimes)
	out := FPSStats{Frames: n, Duration: totalDuration}
	if n == 0 || totalDuration <= 0 {
		return out
	}

	out.FPSMean = float64(n) / totalDuration.Seconds()

	instantaneous := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		if interval := frameTimes[i].Sub(frameTimes[i-1]).Seconds(); interval > 0 {
			instantaneous = append(instantaneous, 1.0/interval)
		}
	}
	if len(instantaneous) == 0 {
		return out
	}

	out.FPSMin, out.FPSMax = instantaneous[0], instantaneous[0]
	var sumSquares float64
	for _, fps := range instantaneous {
		out.FPSMin = math.Min(out.FPSMin, fps)
		out.FPSMax = math.Max(out.FPSMax, fps)
		diff := fps - out.FPSMean
		sumSquares += diff * diff
	}
	out.FPSStdDev = math.Sqrt(sumSquares / float64(len(instantaneous)))

	expectedInterval := 1.0 / out.FPSMean
	jitters := make([]float64, 0, n-1)
	var jitterSum float64
	for i := 1; i < n; i++ {
		j := math.Abs(frameTimes[i].Sub(frameTimes[i-1]).Seconds() - expectedInterval)
		jitters = append(jitters, j)
		jitterSum += j
		out.JitterMax = math.Max(out.JitterMax, j)
	}
	out.JitterMean = jitterSum / float64(len(jitters))

	var jitterSumSquares float64
	for _, j := range jitters {
		diff := j - out.JitterMean
		jitterSumSquares += diff * diff
	}
	out.JitterStdDev = math.Sqrt(jitterSumSquares / float64(len(jitters)))

	out.IsStable = out.FPSStdDev < out.FPSMean*fpsStabilityThreshold &&
		out.JitterMean < expectedInterval*jitterStabilityThreshold
	return out
}

// Window is a bounded ring of recent delivery timestamps. Safe for
// concurrent use.
type Window struct {
	mu    sync.Mutex
	times [windowSize]time.Time
	index int
	count int
}

// Add records a delivery at t
func (w *Window) Add(t time.Time) {
	w.mu.Lock()
	w.times[w.index] = t
	w.index = (w.index + 1) % windowSize
	if w.count < windowSize {
		w.count++
	}
	w.mu.Unlock()
}

// Reset forgets all samples
func (w *Window) Reset() {
	w.mu.Lock()
	w.index, w.count = 0, 0
	w.mu.Unlock()
}

// Snapshot computes FPS statistics over the samples currently held.
// The covered duration runs from the oldest to the newest sample.
func (w *Window) Snapshot() FPSStats {
	w.mu.Lock()
	ordered := make([]time.Time, 0, w.count)
	start := (w.index - w.count + windowSize) % windowSize
	for i := 0; i < w.count; i++ {
		ordered = append(ordered, w.times[(start+i)%windowSize])
	}
	w.mu.Unlock()

	if len(ordered) < 2 {
		return FPSStats{Frames: len(ordered)}
	}
	// n timestamps span n-1 intervals; scale so the mean reflects the rate
	span := ordered[len(ordered)-1].Sub(ordered[0])
	total := span + span/time.Duration(len(ordered)-1)
	return CalculateFPSStats(ordered, total)
}
