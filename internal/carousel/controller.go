// Package carousel implements the virtualized reels carousel: it owns the
// current index, mounts player lifecycles for a small window around it,
// keeps upcoming media warm and turns drags into animated index changes.
//
// A Controller is driven from a single Bubble Tea Update loop. Every state
// change happens inside Update; provider callbacks, preloads and timers only
// come back as messages.
package carousel

import (
	"context"
	"math"
	"slices"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/harmonica"
	"go.uber.org/zap"

	"github.com/olivier-w/reels/internal/feed"
	"github.com/olivier-w/reels/internal/gesture"
	"github.com/olivier-w/reels/internal/lifecycle"
	"github.com/olivier-w/reels/internal/mediaid"
	"github.com/olivier-w/reels/internal/metrics"
	"github.com/olivier-w/reels/internal/preload"
	"github.com/olivier-w/reels/internal/provider"
	"github.com/olivier-w/reels/internal/window"
)

const (
	DefaultRadius          = 1
	DefaultPreloadAhead    = 2
	MaxRadius              = 64
	MaxPreloadAhead        = 64
	DefaultReadyTimeout    = 15 * time.Second
	DefaultViewportHeight  = 640.0
	DefaultSpringFPS       = 60
	DefaultSpringFrequency = 14.0
	DefaultSpringDamping   = 1.0

	settleEpsilon         = 0.5 // points
	settleVelocityEpsilon = 1.0 // points per second
	eventBuffer           = 64
)

// Config tunes a Controller. Zero values select the defaults.
type Config struct {
	Radius       int
	PreloadAhead int
	Wrap         bool
	MutedDefault bool
	Thresholds   gesture.Thresholds
	ReadyTimeout time.Duration

	// Autoplay advances one item per interval; zero disables it.
	Autoplay time.Duration

	// ViewportHeight is the per-item track size in points.
	ViewportHeight float64

	SpringFPS       int
	SpringFrequency float64
	SpringDamping   float64

	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.Radius <= 0 {
		c.Radius = DefaultRadius
	}
	c.Radius = min(c.Radius, MaxRadius)
	c.PreloadAhead = min(max(c.PreloadAhead, 0), MaxPreloadAhead)
	if c.Thresholds == (gesture.Thresholds{}) {
		c.Thresholds = gesture.Default
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = DefaultReadyTimeout
	}
	if c.ViewportHeight <= 0 {
		c.ViewportHeight = DefaultViewportHeight
	}
	if c.SpringFPS <= 0 {
		c.SpringFPS = DefaultSpringFPS
	}
	if c.SpringFrequency <= 0 {
		c.SpringFrequency = DefaultSpringFrequency
	}
	if c.SpringDamping <= 0 {
		c.SpringDamping = DefaultSpringDamping
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Deps are the collaborators of a Controller. Cache may be shared with
// other controllers; a nil Cache disables preloading.
type Deps struct {
	Provider provider.Provider
	Cache    *preload.Cache
	Logger   *zap.Logger
	Metrics  *metrics.Collector
}

// State is the observable carousel state.
type State struct {
	CurrentIndex int
	MutedDefault bool

	// TrackOffset is the live displacement of the track from the current
	// item's resting position, in points.
	TrackOffset float64

	// IsDragging is set from drag start until the settle that follows the
	// release completes.
	IsDragging bool
}

// Controller is the carousel orchestrator.
type Controller struct {
	items    []feed.Item
	cfg      Config
	provider provider.Provider
	cache    *preload.Cache
	logger   *zap.Logger
	metrics  *metrics.Collector
	spring   harmonica.Spring
	frame    time.Duration

	state State
	win   window.Window

	pointerDown bool
	dragBase    float64
	tracker     gesture.Tracker

	settling      bool
	target        int
	pendingDelta  int
	velocity      float64
	settleStarted time.Time
	frameSeq      uint64

	autoplaySeq uint64
	hoverUntil  time.Time

	machines   map[int]*lifecycle.Machine
	gen        uint64
	pinned     mediaid.ID
	hasPin     bool
	preloading map[mediaid.ID]bool

	events    chan lifecycle.Event
	done      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	started   bool
	unmounted bool
}

// New creates a controller for items. It does nothing until Init.
func New(items []feed.Item, deps Deps, cfg Config) *Controller {
	cfg = cfg.withDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		items:      slices.Clone(items),
		cfg:        cfg,
		provider:   deps.Provider,
		cache:      deps.Cache,
		logger:     logger.Named("carousel"),
		metrics:    deps.Metrics,
		spring:     harmonica.NewSpring(harmonica.FPS(cfg.SpringFPS), cfg.SpringFrequency, cfg.SpringDamping),
		frame:      time.Second / time.Duration(cfg.SpringFPS),
		state:      State{MutedDefault: cfg.MutedDefault},
		machines:   make(map[int]*lifecycle.Machine),
		preloading: make(map[mediaid.ID]bool),
		events:     make(chan lifecycle.Event, eventBuffer),
		done:       make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Init mounts the initial window, activates the first item and starts the
// event pump and the autoplay timer.
func (c *Controller) Init() tea.Cmd {
	if c.started || c.unmounted || c.Empty() {
		return nil
	}
	c.started = true
	c.logger.Info("Carousel mounted",
		zap.Int("items", len(c.items)),
		zap.Int("radius", c.cfg.Radius),
		zap.Bool("wrap", c.cfg.Wrap),
		zap.Duration("autoplay", c.cfg.Autoplay))
	return tea.Batch(c.waitForEvent(), c.sync(), c.autoplayCmd())
}

// Update applies one message and returns the follow-up command.
func (c *Controller) Update(msg tea.Msg) tea.Cmd {
	if !c.started || c.unmounted {
		return nil
	}

	switch msg := msg.(type) {
	case DragStartMsg:
		c.dragStart()
	case DragMoveMsg:
		c.dragMove(msg.Offset)
	case DragEndMsg:
		return c.dragEnd()
	case RequestIndexMsg:
		return c.requestIndex(msg.Index)
	case StepMsg:
		return c.step(msg.Delta)
	case HoverMsg:
		c.hoverUntil = c.cfg.Now().Add(msg.Duration)
	case InteractMsg:
		return c.interact(msg.Index)
	case ToggleMuteMsg:
		c.toggleMute()
	case ResizeMsg:
		if msg.Height > 0 {
			c.cfg.ViewportHeight = msg.Height
		}
	case frameMsg:
		return c.advanceSettle(msg.seq)
	case autoplayTickMsg:
		return c.autoplayTick(msg.seq)
	case playerEventMsg:
		if m, ok := c.machines[msg.event.Index]; ok {
			m.Handle(msg.event)
		}
		return c.waitForEvent()
	case readyTimeoutMsg:
		if m, ok := c.machines[msg.index]; ok {
			m.Handle(lifecycle.Event{Index: msg.index, Gen: msg.gen, Kind: lifecycle.EventTimeout})
		}
	case preloadDoneMsg:
		delete(c.preloading, msg.id)
		if msg.outcome != preload.Warm {
			c.logger.Debug("Preload did not warm", zap.String("id", string(msg.id)), zap.Stringer("outcome", msg.outcome))
		}
	}
	return nil
}

func (c *Controller) dragStart() {
	if c.pointerDown {
		return
	}
	c.pointerDown = true
	c.state.IsDragging = true
	if c.settling {
		// The pending target is dropped; the release decides again.
		c.settling = false
		c.pendingDelta = 0
		c.velocity = 0
		c.frameSeq++
		c.logger.Debug("Settle suspended by drag", zap.Float64("offset", c.state.TrackOffset))
	}
	c.dragBase = c.state.TrackOffset
	c.tracker.Reset()
	c.tracker.Add(c.cfg.Now(), 0)
}

func (c *Controller) dragMove(offset float64) {
	if !c.pointerDown {
		return
	}
	c.state.TrackOffset = c.dragBase + offset
	c.tracker.Add(c.cfg.Now(), offset)
}

func (c *Controller) dragEnd() tea.Cmd {
	if !c.pointerDown {
		return nil
	}
	c.pointerDown = false

	offset, velocity := c.state.TrackOffset, c.tracker.Release(c.cfg.Now())
	current := c.state.CurrentIndex
	target := c.cfg.Thresholds.Next(current, offset, velocity, len(c.items), c.cfg.Wrap)
	delta := 0
	if target != current {
		delta = c.cfg.Thresholds.Classify(offset, velocity).Step()
	}
	c.logger.Debug("Drag released",
		zap.Float64("offset", offset),
		zap.Float64("velocity", velocity),
		zap.Int("from", current),
		zap.Int("to", target))
	return c.beginTransition(target, delta, velocity)
}

func (c *Controller) requestIndex(index int) tea.Cmd {
	if c.pointerDown {
		c.logger.Debug("Index request ignored during drag", zap.Int("index", index))
		return nil
	}
	index = min(max(index, 0), len(c.items)-1)
	if index == c.destination() {
		return nil
	}
	return c.beginTransition(index, index-c.state.CurrentIndex, c.velocity)
}

func (c *Controller) step(delta int) tea.Cmd {
	if c.pointerDown || delta == 0 {
		return nil
	}
	from := c.destination()
	to := gesture.Advance(from, delta, len(c.items), c.cfg.Wrap)
	if to == from {
		return nil
	}
	visual := to - from
	if c.cfg.Wrap {
		visual = delta
	}
	return c.beginTransition(to, c.pendingDelta+visual, c.velocity)
}

// destination is the index the carousel is at or settling towards.
func (c *Controller) destination() int {
	if c.settling {
		return c.target
	}
	return c.state.CurrentIndex
}

// beginTransition starts settling the track towards target, delta items
// away from the current one. The index is committed by onSettleComplete.
func (c *Controller) beginTransition(target, delta int, velocity float64) tea.Cmd {
	if !c.settling {
		c.settleStarted = c.cfg.Now()
	}
	c.settling = true
	c.target = target
	c.pendingDelta = delta
	c.velocity = velocity
	c.frameSeq++
	return c.nextFrame()
}

func (c *Controller) nextFrame() tea.Cmd {
	seq := c.frameSeq
	return tea.Tick(c.frame, func(time.Time) tea.Msg {
		return frameMsg{seq: seq}
	})
}

func (c *Controller) restOffset() float64 {
	return -float64(c.pendingDelta) * c.cfg.ViewportHeight
}

func (c *Controller) advanceSettle(seq uint64) tea.Cmd {
	if !c.settling || seq != c.frameSeq {
		return nil
	}
	rest := c.restOffset()
	c.state.TrackOffset, c.velocity = c.spring.Update(c.state.TrackOffset, c.velocity, rest)
	if math.Abs(c.state.TrackOffset-rest) < settleEpsilon && math.Abs(c.velocity) < settleVelocityEpsilon {
		return c.onSettleComplete()
	}
	return c.nextFrame()
}

// onSettleComplete is the only place the current index changes.
func (c *Controller) onSettleComplete() tea.Cmd {
	c.settling = false
	c.velocity = 0
	c.pendingDelta = 0
	c.state.TrackOffset = 0
	c.state.IsDragging = false

	from, to := c.state.CurrentIndex, c.target
	if to == from {
		return nil
	}
	c.state.CurrentIndex = to
	c.metrics.IndexCommitted(c.cfg.Now().Sub(c.settleStarted))
	c.logger.Debug("Index committed", zap.Int("from", from), zap.Int("to", to))
	return c.sync()
}

func (c *Controller) autoplayCmd() tea.Cmd {
	if c.cfg.Autoplay <= 0 || len(c.items) <= 1 {
		return nil
	}
	seq := c.autoplaySeq
	return tea.Tick(c.cfg.Autoplay, func(time.Time) tea.Msg {
		return autoplayTickMsg{seq: seq}
	})
}

func (c *Controller) autoplayTick(seq uint64) tea.Cmd {
	if seq != c.autoplaySeq {
		return nil
	}
	next := c.autoplayCmd()
	if c.AutoplayPaused() {
		return next
	}
	current := c.state.CurrentIndex
	target := gesture.Advance(current, 1, len(c.items), c.cfg.Wrap)
	if target == current {
		return next
	}
	return tea.Batch(next, c.beginTransition(target, 1, 0))
}

// AutoplayPaused reports whether a drag, a settle or a hover holds autoplay.
func (c *Controller) AutoplayPaused() bool {
	return c.pointerDown || c.state.IsDragging || c.settling || c.cfg.Now().Before(c.hoverUntil)
}

// sync reconciles mounted players, the cache pin and preloads with the
// current index.
func (c *Controller) sync() tea.Cmd {
	current := c.state.CurrentIndex
	c.win = window.For(current, c.cfg.Radius, c.cfg.PreloadAhead, len(c.items))

	for idx, m := range c.machines {
		if !c.win.Mounted.Contains(idx) {
			m.Teardown()
			delete(c.machines, idx)
		}
	}
	opts := lifecycle.Options{Logger: c.logger, Metrics: c.metrics, NextGen: c.nextGen}
	for _, idx := range c.win.Mounted.Indices() {
		if _, ok := c.machines[idx]; !ok {
			c.machines[idx] = lifecycle.New(idx, c.items[idx].ID, opts)
		}
	}

	c.movePin(c.items[current].ID)

	// Everything else goes quiet before the current item may play.
	for _, idx := range c.win.Mounted.Indices() {
		if idx != current {
			c.machines[idx].SetActive(false, true)
		}
	}
	return tea.Batch(c.activate(current), c.preload())
}

func (c *Controller) nextGen() uint64 {
	c.gen++
	return c.gen
}

// activate applies the active intent to the machine at index and creates
// its player if it is dormant.
func (c *Controller) activate(index int) tea.Cmd {
	m, ok := c.machines[index]
	if !ok {
		return nil
	}
	m.SetActive(index == c.state.CurrentIndex, c.state.MutedDefault)
	if m.Status() != lifecycle.Dormant || !m.Activate(c.provider, c.notify) {
		return nil
	}
	if m.Status() != lifecycle.Activating {
		return nil
	}
	gen := m.Gen()
	return tea.Tick(c.cfg.ReadyTimeout, func(time.Time) tea.Msg {
		return readyTimeoutMsg{index: index, gen: gen}
	})
}

func (c *Controller) preload() tea.Cmd {
	if c.cache == nil {
		return nil
	}
	var cmds []tea.Cmd
	for _, idx := range c.win.Preload.Indices() {
		id := c.items[idx].ID
		if c.cache.IsWarm(id) {
			c.cache.Touch(id)
			continue
		}
		if c.preloading[id] {
			continue
		}
		c.preloading[id] = true
		cache, ctx := c.cache, c.ctx
		cmds = append(cmds, func() tea.Msg {
			return preloadDoneMsg{id: id, outcome: cache.Preload(ctx, id)}
		})
	}
	// The active item is touched last so it is the most recent entry.
	c.cache.Touch(c.items[c.state.CurrentIndex].ID)
	return tea.Batch(cmds...)
}

func (c *Controller) movePin(id mediaid.ID) {
	if c.cache == nil || (c.hasPin && c.pinned == id) {
		return
	}
	if c.hasPin {
		c.cache.Unpin(c.pinned)
	}
	c.cache.Pin(id)
	c.pinned, c.hasPin = id, true
}

func (c *Controller) interact(index int) tea.Cmd {
	if !c.win.Mounted.Contains(index) {
		return nil
	}
	m := c.machines[index]
	if m.Status() == lifecycle.Error {
		c.logger.Debug("Retrying failed player", zap.Int("index", index))
		m.Teardown()
	}
	return c.activate(index)
}

func (c *Controller) toggleMute() {
	c.state.MutedDefault = !c.state.MutedDefault
	if m, ok := c.machines[c.state.CurrentIndex]; ok {
		m.SetActive(true, c.state.MutedDefault)
	}
}

// notify runs on provider goroutines.
func (c *Controller) notify(ev lifecycle.Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Controller) waitForEvent() tea.Cmd {
	events, done := c.events, c.done
	return func() tea.Msg {
		select {
		case ev := <-events:
			return playerEventMsg{event: ev}
		case <-done:
			return nil
		}
	}
}

// Unmount tears down every player, releases the cache and stops all timers.
// The controller ignores messages afterwards.
func (c *Controller) Unmount() {
	if c.unmounted {
		return
	}
	c.unmounted = true
	c.settling = false
	c.frameSeq++
	c.autoplaySeq++

	for idx, m := range c.machines {
		m.Teardown()
		delete(c.machines, idx)
	}
	if c.cache != nil {
		if c.hasPin {
			c.cache.Unpin(c.pinned)
			c.hasPin = false
		}
		c.cache.Clear()
	}
	c.cancel()
	close(c.done)
	c.logger.Info("Carousel unmounted")
}

// Current returns the committed current index.
func (c *Controller) Current() int { return c.state.CurrentIndex }

func (c *Controller) State() State { return c.state }

func (c *Controller) Items() []feed.Item { return c.items }

func (c *Controller) Len() int { return len(c.items) }

// Empty reports the "no content" condition.
func (c *Controller) Empty() bool { return len(c.items) == 0 }

// Window returns the mounted and preload ranges of the current index.
func (c *Controller) Window() window.Window { return c.win }

// Settling reports whether the track is animating, and towards which index.
func (c *Controller) Settling() (bool, int) { return c.settling, c.target }

func (c *Controller) Wrap() bool { return c.cfg.Wrap }

// Autoplay returns the autoplay interval, zero when disabled.
func (c *Controller) Autoplay() time.Duration {
	if len(c.items) <= 1 {
		return 0
	}
	return c.cfg.Autoplay
}

// ViewportHeight returns the per-item track size in points.
func (c *Controller) ViewportHeight() float64 { return c.cfg.ViewportHeight }

// Record returns the player record of a mounted index.
func (c *Controller) Record(index int) (*lifecycle.Machine, bool) {
	m, ok := c.machines[index]
	return m, ok
}

// IsWarm reports whether the media of index is in the preload cache.
func (c *Controller) IsWarm(index int) bool {
	if c.cache == nil || index < 0 || index >= len(c.items) {
		return false
	}
	return c.cache.IsWarm(c.items[index].ID)
}

// Playing lists the indices whose players are playing, in order.
func (c *Controller) Playing() []int {
	var out []int
	for _, idx := range c.win.Mounted.Indices() {
		if m, ok := c.machines[idx]; ok && m.Playing() {
			out = append(out, idx)
		}
	}
	return out
}
