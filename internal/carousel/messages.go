package carousel

import (
	"time"

	"github.com/olivier-w/reels/internal/lifecycle"
	"github.com/olivier-w/reels/internal/mediaid"
	"github.com/olivier-w/reels/internal/preload"
)

// DragStartMsg begins a drag. Any settle in progress is suspended.
type DragStartMsg struct{}

// DragMoveMsg reports the drag displacement since DragStartMsg, in track
// points. Negative values pull the track up, towards the next item.
type DragMoveMsg struct {
	Offset float64
}

// DragEndMsg releases the drag.
type DragEndMsg struct{}

// RequestIndexMsg asks the carousel to settle on Index. It is clamped to the
// feed and ignored while a drag is held.
type RequestIndexMsg struct {
	Index int
}

// StepMsg moves Delta positions, like a discrete swipe.
type StepMsg struct {
	Delta int
}

// HoverMsg pauses autoplay for Duration.
type HoverMsg struct {
	Duration time.Duration
}

// InteractMsg activates the player of a mounted placeholder. An errored
// item is torn down and created again.
type InteractMsg struct {
	Index int
}

// ToggleMuteMsg flips the default mute setting.
type ToggleMuteMsg struct{}

// ResizeMsg sets the viewport height, in track points.
type ResizeMsg struct {
	Height float64
}

type frameMsg struct {
	seq uint64
}

type autoplayTickMsg struct {
	seq uint64
}

type playerEventMsg struct {
	event lifecycle.Event
}

type readyTimeoutMsg struct {
	index int
	gen   uint64
}

type preloadDoneMsg struct {
	id      mediaid.ID
	outcome preload.Outcome
}
