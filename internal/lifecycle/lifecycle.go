// Package lifecycle drives one provider player through its lifecycle:
// dormant, activating, ready (playing or paused) and the terminal error state.
//
// A Machine is not safe for concurrent use. Provider callbacks never touch it
// directly; they are turned into Events and handed to a notify function, and
// the owner feeds those events back through Handle on its own goroutine.
package lifecycle

import (
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/olivier-w/reels/internal/mediaid"
	"github.com/olivier-w/reels/internal/metrics"
	"github.com/olivier-w/reels/internal/provider"
)

// ErrReadyTimeout is the error of a machine whose player never became ready.
var ErrReadyTimeout = errors.New("player did not become ready in time")

// Status is the top-level lifecycle state.
type Status int

const (
	Dormant Status = iota
	Activating
	Ready
	Error
)

func (s Status) String() string {
	switch s {
	case Dormant:
		return "dormant"
	case Activating:
		return "activating"
	case Ready:
		return "ready"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Kind identifies an Event.
type Kind int

const (
	EventReady Kind = iota
	EventError
	EventStateChange
	EventTimeout
)

// Event is a provider notification, or a ready timeout, addressed to the
// machine of Index. Gen is the activation it belongs to.
type Event struct {
	Index int
	Gen   uint64
	Kind  Kind
	State provider.State
	Err   error
}

// Options configures a Machine.
type Options struct {
	Logger  *zap.Logger
	Metrics *metrics.Collector
	// NextGen, when set, hands out activation generations. Machines that
	// share one source never reuse a generation, even across instances.
	NextGen func() uint64
}

// Machine is the player record of one mounted feed item.
type Machine struct {
	index   int
	id      mediaid.ID
	logger  *zap.Logger
	metrics *metrics.Collector
	nextGen func() uint64

	status  Status
	playing bool
	err     error
	gen     uint64

	active bool
	muted  bool

	p      provider.Provider
	handle provider.Handle
}

// New returns a dormant machine for the item at index.
func New(index int, id mediaid.ID, opts Options) *Machine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{
		index:   index,
		id:      id,
		logger:  logger.With(zap.Int("index", index), zap.String("id", string(id))),
		metrics: opts.Metrics,
		nextGen: opts.NextGen,
		muted:   true,
	}
}

func (m *Machine) Index() int     { return m.index }
func (m *Machine) ID() mediaid.ID { return m.id }
func (m *Machine) Status() Status { return m.status }
func (m *Machine) Err() error     { return m.err }
func (m *Machine) Gen() uint64    { return m.gen }
func (m *Machine) Active() bool   { return m.active }
func (m *Machine) Playing() bool  { return m.status == Ready && m.playing }

// ContainerID names the host slot the player is created in.
func (m *Machine) ContainerID() string {
	return "reel-" + strconv.Itoa(m.index)
}

// Activate asks p for a player. It only acts on a dormant machine and reports
// whether it did. The player's notifications reach notify tagged with the
// current generation.
func (m *Machine) Activate(p provider.Provider, notify func(Event)) bool {
	if m.status != Dormant {
		return false
	}
	m.bumpGen()
	gen, index := m.gen, m.index
	m.setStatus(Activating)

	cb := provider.Callbacks{
		OnReady: func() {
			notify(Event{Index: index, Gen: gen, Kind: EventReady})
		},
		OnStateChange: func(s provider.State) {
			notify(Event{Index: index, Gen: gen, Kind: EventStateChange, State: s})
		},
		OnError: func(err error) {
			notify(Event{Index: index, Gen: gen, Kind: EventError, Err: err})
		},
	}

	var (
		h         provider.Handle
		createErr error
	)
	ok := m.call("create", func() error {
		h, createErr = p.CreatePlayer(m.ContainerID(), m.id, cb)
		if createErr == nil && h == nil {
			createErr = errors.New("provider returned no player")
		}
		return createErr
	})
	m.p = p
	if !ok {
		if createErr == nil {
			createErr = errors.New("provider panicked")
		}
		m.fail(fmt.Errorf("creating player: %w", createErr))
		return true
	}
	m.handle = h
	return true
}

// Handle applies ev. Events from an earlier activation are dropped. It
// reports whether the event was applied.
func (m *Machine) Handle(ev Event) bool {
	if m.status == Dormant || ev.Gen != m.gen {
		m.logger.Debug("Dropping stale player event", zap.Uint64("gen", ev.Gen), zap.Uint64("current_gen", m.gen))
		return false
	}

	switch ev.Kind {
	case EventReady:
		if m.status != Activating {
			return false
		}
		m.setStatus(Ready)
		m.apply()
	case EventError:
		if m.status != Activating && m.status != Ready {
			return false
		}
		err := ev.Err
		if err == nil {
			err = errors.New("provider reported an error")
		}
		m.fail(err)
	case EventTimeout:
		if m.status != Activating {
			return false
		}
		m.fail(ErrReadyTimeout)
	case EventStateChange:
		if m.status != Ready {
			return false
		}
		m.stateChanged(ev.State)
	default:
		return false
	}
	return true
}

func (m *Machine) stateChanged(s provider.State) {
	switch s {
	case provider.Ended:
		if !m.active {
			// Rewind so the next activation starts from the beginning.
			m.playing = false
			m.handleCall("seek", func(h provider.Handle) error { return h.SeekTo(0) })
			return
		}
		// Loop: restart from the beginning and keep playing.
		m.handleCall("seek", func(h provider.Handle) error { return h.SeekTo(0) })
		m.playing = m.handleCall("play", provider.Handle.Play)
	case provider.Playing:
		if !m.active {
			// Only the active item may play.
			m.handleCall("pause", provider.Handle.Pause)
		}
	}
}

// SetActive records whether this item is the active one and whether it
// should be muted. A ready machine applies the intent immediately; one that
// is still activating applies it once ready.
func (m *Machine) SetActive(active, muted bool) {
	m.active, m.muted = active, muted
	if m.status == Ready {
		m.apply()
	}
}

func (m *Machine) apply() {
	if !m.active {
		paused := m.handleCall("pause", provider.Handle.Pause)
		m.handleCall("mute", provider.Handle.Mute)
		if !paused {
			// The provider may still be playing; keep reporting it.
			return
		}
		if m.playing {
			m.logger.Debug("Player paused")
		}
		m.playing = false
		m.metrics.Transition("paused")
		return
	}

	m.playing = m.handleCall("play", provider.Handle.Play)
	if m.muted {
		m.handleCall("mute", provider.Handle.Mute)
	} else {
		m.handleCall("unmute", provider.Handle.Unmute)
	}
	if m.playing {
		m.logger.Debug("Player playing", zap.Bool("muted", m.muted))
		m.metrics.Transition("playing")
	}
}

// Teardown destroys the player and resets the machine to dormant. It never
// fails; a handle that is already gone is logged and ignored.
func (m *Machine) Teardown() {
	if m.status == Dormant {
		return
	}
	if m.handle != nil && m.p != nil {
		h, p := m.handle, m.p
		m.call("destroy", func() error { return p.DestroyPlayer(h) })
	}
	m.handle = nil
	m.p = nil
	m.playing = false
	m.err = nil
	m.bumpGen()
	m.setStatus(Dormant)
}

func (m *Machine) bumpGen() {
	if m.nextGen != nil {
		m.gen = m.nextGen()
		return
	}
	m.gen++
}

func (m *Machine) fail(err error) {
	m.err = err
	m.playing = false
	m.setStatus(Error)
	m.logger.Warn("Player failed", zap.Error(err))
}

func (m *Machine) setStatus(s Status) {
	if m.status == s {
		return
	}
	m.logger.Debug("Player state", zap.Stringer("from", m.status), zap.Stringer("to", s))
	m.status = s
	m.metrics.Transition(s.String())
}

func (m *Machine) call(op string, fn func() error) bool {
	return provider.Call(m.logger, m.metrics, op, fn)
}

func (m *Machine) handleCall(op string, fn func(provider.Handle) error) bool {
	h := m.handle
	return m.call(op, func() error { return fn(h) })
}
