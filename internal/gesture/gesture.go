// Package gesture maps a released drag (offset and velocity) onto a single
// index step.
package gesture

import "time"

// Thresholds are measured in track points and track points per second.
const (
	OffsetThreshold   = 80.0
	VelocityThreshold = 500.0
)

// Direction is the outcome of classifying a released drag.
type Direction int

const (
	Stay Direction = iota
	Forward
	Backward
)

func (d Direction) String() string {
	switch d {
	case Forward:
		return "forward"
	case Backward:
		return "backward"
	default:
		return "stay"
	}
}

// Step returns the index delta for the direction.
func (d Direction) Step() int {
	switch d {
	case Forward:
		return 1
	case Backward:
		return -1
	default:
		return 0
	}
}

// Thresholds holds the offset and velocity magnitudes a drag must exceed to
// move the carousel. Either one alone is sufficient.
type Thresholds struct {
	Offset   float64
	Velocity float64
}

// Default uses OffsetThreshold and VelocityThreshold.
var Default = Thresholds{Offset: OffsetThreshold, Velocity: VelocityThreshold}

// Classify decides the direction of a released drag. Negative offsets and
// velocities move forward (the track is pulled up).
func (t Thresholds) Classify(offset, velocity float64) Direction {
	switch {
	case offset < -t.Offset || velocity < -t.Velocity:
		return Forward
	case offset > t.Offset || velocity > t.Velocity:
		return Backward
	default:
		return Stay
	}
}

// Next returns the index the carousel should settle on. It moves at most one
// position; without wrap it clamps to [0, count-1], with wrap it cycles.
func (t Thresholds) Next(current int, offset, velocity float64, count int, wrap bool) int {
	if count <= 0 {
		return 0
	}
	current = clamp(current, 0, count-1)

	step := t.Classify(offset, velocity).Step()
	if step == 0 {
		return current
	}
	return Advance(current, step, count, wrap)
}

// Classify uses the default thresholds.
func Classify(offset, velocity float64) Direction {
	return Default.Classify(offset, velocity)
}

// NextIndex uses the default thresholds.
func NextIndex(current int, offset, velocity float64, count int, wrap bool) int {
	return Default.Next(current, offset, velocity, count, wrap)
}

// Advance moves current by step positions under the boundary policy.
func Advance(current, step, count int, wrap bool) int {
	if count <= 0 {
		return 0
	}
	next := current + step
	if wrap {
		next %= count
		if next < 0 {
			next += count
		}
		return next
	}
	return clamp(next, 0, count-1)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

const velocityWindow = 100 * time.Millisecond

type sample struct {
	at     time.Time
	offset float64
}

// Tracker records drag offsets over time and estimates the release velocity
// from the most recent samples.
type Tracker struct {
	samples []sample
}

// Reset discards every sample.
func (t *Tracker) Reset() {
	t.samples = t.samples[:0]
}

// Add records the drag offset observed at the given time.
func (t *Tracker) Add(at time.Time, offset float64) {
	t.samples = append(t.samples, sample{at: at, offset: offset})
	// Keep one sample older than the window as the velocity baseline.
	cut := 0
	for i := len(t.samples) - 2; i >= 0; i-- {
		if at.Sub(t.samples[i].at) > velocityWindow {
			cut = i
			break
		}
	}
	if cut > 0 {
		t.samples = append(t.samples[:0], t.samples[cut:]...)
	}
}

// Release records that the pointer was let go at the given time, still at
// its last offset, and returns the release velocity. A pointer held still
// past the window releases with zero velocity.
func (t *Tracker) Release(at time.Time) float64 {
	if n := len(t.samples); n > 0 && at.After(t.samples[n-1].at) {
		t.Add(at, t.samples[n-1].offset)
	}
	return t.Velocity()
}

// Velocity returns points per second over the recent window, or 0 when
// fewer than two samples exist.
func (t *Tracker) Velocity() float64 {
	if len(t.samples) < 2 {
		return 0
	}
	n := len(t.samples) - 1
	last := t.samples[n]
	i := n
	for i > 0 && last.at.Sub(t.samples[i-1].at) <= velocityWindow {
		i--
	}
	if i == n {
		i = n - 1
	}
	first := t.samples[i]
	dt := last.at.Sub(first.at).Seconds()
	if dt <= 0 {
		return 0
	}
	return (last.offset - first.offset) / dt
}
