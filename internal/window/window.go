// Package window computes which carousel indices are mounted and which are
// preloaded for a given position.
package window

// Range is an inclusive index range. It is empty when Lo > Hi.
type Range struct {
	Lo, Hi int
}

var emptyRange = Range{Lo: 0, Hi: -1}

// Empty reports whether the range holds no index.
func (r Range) Empty() bool { return r.Lo > r.Hi }

// Len returns the number of indices in the range.
func (r Range) Len() int {
	if r.Empty() {
		return 0
	}
	return r.Hi - r.Lo + 1
}

// Contains reports whether i lies in the range.
func (r Range) Contains(i int) bool {
	return !r.Empty() && i >= r.Lo && i <= r.Hi
}

// Indices lists the range in ascending order.
func (r Range) Indices() []int {
	out := make([]int, 0, r.Len())
	for i := r.Lo; i <= r.Hi; i++ {
		out = append(out, i)
	}
	return out
}

// Window is the derived visibility of a carousel position.
type Window struct {
	Mounted Range
	Preload Range
}

// For computes the window around current. Mounted holds min(count, 2*radius+1)
// contiguous indices centered on current, slid inward at either end of the
// feed. Preload covers [current-1, current+preloadAhead] clipped to the feed.
func For(current, radius, preloadAhead, count int) Window {
	if count <= 0 {
		return Window{Mounted: emptyRange, Preload: emptyRange}
	}
	if radius < 0 {
		radius = 0
	}
	if preloadAhead < 0 {
		preloadAhead = 0
	}
	// Neither reach needs to exceed the feed.
	radius = min(radius, count)
	preloadAhead = min(preloadAhead, count)
	current = clamp(current, 0, count-1)

	size := min(count, 2*radius+1)
	lo := clamp(current-radius, 0, count-size)

	return Window{
		Mounted: Range{Lo: lo, Hi: lo + size - 1},
		Preload: Range{
			Lo: clamp(current-1, 0, count-1),
			Hi: clamp(current+preloadAhead, 0, count-1),
		},
	}
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
