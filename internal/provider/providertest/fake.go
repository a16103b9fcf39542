// Package providertest provides a scriptable in-memory provider for tests.
package providertest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/olivier-w/reels/internal/mediaid"
	"github.com/olivier-w/reels/internal/provider"
)

// Player is a fake player handle. Tests drive its callbacks with Ready,
// Fail and SetState.
type Player struct {
	ContainerID string
	ID          mediaid.ID

	cb provider.Callbacks

	mu        sync.Mutex
	playing   bool
	muted     bool
	destroyed bool
	position  time.Duration
	calls     []string
	failOn    map[string]error
}

func (p *Player) record(op string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, op)
	if p.destroyed {
		return provider.ErrDestroyed
	}
	if err := p.failOn[op]; err != nil {
		return err
	}
	switch op {
	case "play":
		p.playing = true
	case "pause":
		p.playing = false
	case "mute":
		p.muted = true
	case "unmute":
		p.muted = false
	case "destroy":
		p.destroyed = true
		p.playing = false
	}
	return nil
}

func (p *Player) Play() error   { return p.record("play") }
func (p *Player) Pause() error  { return p.record("pause") }
func (p *Player) Mute() error   { return p.record("mute") }
func (p *Player) Unmute() error { return p.record("unmute") }
func (p *Player) Destroy() error {
	return p.record("destroy")
}

func (p *Player) SeekTo(pos time.Duration) error {
	if err := p.record("seek"); err != nil {
		return err
	}
	p.mu.Lock()
	p.position = pos
	p.mu.Unlock()
	return nil
}

// FailOn makes the named operation ("play", "pause", ...) return err.
func (p *Player) FailOn(op string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failOn == nil {
		p.failOn = make(map[string]error)
	}
	p.failOn[op] = err
}

// Ready fires the ready notification.
func (p *Player) Ready() {
	if p.cb.OnReady != nil {
		p.cb.OnReady()
	}
}

// Fail fires the error notification.
func (p *Player) Fail(err error) {
	if p.cb.OnError != nil {
		p.cb.OnError(err)
	}
}

// SetState fires a state change notification.
func (p *Player) SetState(s provider.State) {
	if p.cb.OnStateChange != nil {
		p.cb.OnStateChange(s)
	}
}

func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

func (p *Player) Muted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.muted
}

func (p *Player) Destroyed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.destroyed
}

func (p *Player) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

// Calls lists every handle operation in order.
func (p *Player) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

// Provider is a fake provider.Provider.
type Provider struct {
	mu        sync.Mutex
	players   []*Player
	loads     int
	loadErr   error
	createErr error
}

// New returns an empty fake provider.
func New() *Provider {
	return &Provider{}
}

// FailLoad makes Load return err.
func (f *Provider) FailLoad(err error) {
	f.mu.Lock()
	f.loadErr = err
	f.mu.Unlock()
}

// FailCreate makes CreatePlayer return err.
func (f *Provider) FailCreate(err error) {
	f.mu.Lock()
	f.createErr = err
	f.mu.Unlock()
}

func (f *Provider) Load(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	if err := ctx.Err(); err != nil {
		return err
	}
	return f.loadErr
}

func (f *Provider) CreatePlayer(containerID string, id mediaid.ID, cb provider.Callbacks) (provider.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	p := &Player{ContainerID: containerID, ID: id, cb: cb}
	f.players = append(f.players, p)
	return p, nil
}

func (f *Provider) DestroyPlayer(h provider.Handle) error {
	if h == nil {
		return errors.New("nil handle")
	}
	return h.Destroy()
}

// Loads returns how many times Load was called.
func (f *Provider) Loads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads
}

// Players returns every player created so far.
func (f *Provider) Players() []*Player {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Player(nil), f.players...)
}

// Latest returns the most recently created player in containerID, or nil.
func (f *Provider) Latest(containerID string) *Player {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.players) - 1; i >= 0; i-- {
		if f.players[i].ContainerID == containerID {
			return f.players[i]
		}
	}
	return nil
}
