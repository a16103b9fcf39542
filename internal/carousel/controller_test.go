package carousel

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"reflect"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/olivier-w/reels/internal/feed"
	"github.com/olivier-w/reels/internal/lifecycle"
	"github.com/olivier-w/reels/internal/mediaid"
	"github.com/olivier-w/reels/internal/metrics"
	"github.com/olivier-w/reels/internal/preload"
	"github.com/olivier-w/reels/internal/provider/providertest"
	"github.com/olivier-w/reels/internal/window"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: time.Unix(1_700_000_000, 0)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testItems(n int) []feed.Item {
	items := make([]feed.Item, n)
	for i := range items {
		id := mediaid.ID(fmt.Sprintf("R%09dX", i))
		items[i] = feed.Item{ID: id, SourceURL: mediaid.WatchURL(id)}
	}
	return items
}

type harness struct {
	c     *Controller
	fake  *providertest.Provider
	clock *clock
}

func newHarness(t *testing.T, n int, cfg Config, deps Deps) *harness {
	t.Helper()
	h := &harness{fake: providertest.New(), clock: newClock()}
	if deps.Provider == nil {
		deps.Provider = h.fake
	}
	cfg.Now = h.clock.Now
	h.c = New(testItems(n), deps, cfg)
	h.c.Init()
	t.Cleanup(h.c.Unmount)
	return h
}

// settle runs animation frames until the track comes to rest.
func (h *harness) settle(t *testing.T) {
	t.Helper()
	for range 2000 {
		if !h.c.settling {
			return
		}
		h.c.Update(frameMsg{seq: h.c.frameSeq})
	}
	t.Fatal("track did not settle")
}

// drain delivers queued provider notifications.
func (h *harness) drain() {
	for {
		select {
		case ev := <-h.c.events:
			h.c.Update(playerEventMsg{event: ev})
		default:
			return
		}
	}
}

// readyAll reports ready for every live player.
func (h *harness) readyAll() {
	for _, p := range h.fake.Players() {
		if !p.Destroyed() {
			p.Ready()
		}
	}
	h.drain()
}

func (h *harness) swipe(t *testing.T, offset float64) {
	t.Helper()
	h.c.Update(DragStartMsg{})
	h.clock.Advance(200 * time.Millisecond)
	h.c.Update(DragMoveMsg{Offset: offset})
	h.clock.Advance(200 * time.Millisecond)
	h.c.Update(DragMoveMsg{Offset: offset})
	h.c.Update(DragEndMsg{})
	h.settle(t)
}

func (h *harness) goTo(t *testing.T, index int) {
	t.Helper()
	h.c.Update(RequestIndexMsg{Index: index})
	h.settle(t)
	if got := h.c.Current(); got != index {
		t.Fatalf("expected index %d, got %d", index, got)
	}
}

// collect runs cmd and its batched children, returning the messages that
// arrive within wait. Commands that block longer are abandoned.
func collect(cmd tea.Cmd, wait time.Duration) []tea.Msg {
	if cmd == nil {
		return nil
	}
	ch := make(chan tea.Msg, 128)
	var run func(tea.Cmd)
	run = func(c tea.Cmd) {
		go func() {
			msg := c()
			if batch, ok := msg.(tea.BatchMsg); ok {
				for _, sub := range batch {
					if sub != nil {
						run(sub)
					}
				}
				return
			}
			ch <- msg
		}()
	}
	run(cmd)

	var msgs []tea.Msg
	deadline := time.After(wait)
	for {
		select {
		case msg := <-ch:
			msgs = append(msgs, msg)
		case <-deadline:
			return msgs
		}
	}
}

func TestInitMountsWindowAndActivatesCurrent(t *testing.T) {
	h := newHarness(t, 5, Config{Radius: 1, PreloadAhead: 2}, Deps{})

	want := window.Window{Mounted: window.Range{Lo: 0, Hi: 2}, Preload: window.Range{Lo: 0, Hi: 2}}
	if got := h.c.Window(); got != want {
		t.Fatalf("Window() = %+v, want %+v", got, want)
	}
	players := h.fake.Players()
	if len(players) != 1 || players[0].ContainerID != "reel-0" {
		t.Fatalf("expected only the current item to create a player, got %d", len(players))
	}
	for _, idx := range []int{1, 2} {
		rec, ok := h.c.Record(idx)
		if !ok || rec.Status() != lifecycle.Dormant {
			t.Fatalf("expected dormant record for mounted index %d", idx)
		}
	}
	if _, ok := h.c.Record(3); ok {
		t.Fatal("index 3 must not be mounted")
	}

	h.readyAll()
	if got := h.c.Playing(); !reflect.DeepEqual(got, []int{0}) {
		t.Fatalf("Playing() = %v, want [0]", got)
	}
}

func TestThreeItemFeedMountsEverything(t *testing.T) {
	h := newHarness(t, 3, Config{Radius: 1, PreloadAhead: 1}, Deps{})
	h.goTo(t, 1)

	want := window.Window{Mounted: window.Range{Lo: 0, Hi: 2}, Preload: window.Range{Lo: 0, Hi: 2}}
	if got := h.c.Window(); got != want {
		t.Fatalf("Window() = %+v, want %+v", got, want)
	}
}

func TestDragCommitsOnlyAfterSettle(t *testing.T) {
	h := newHarness(t, 5, Config{}, Deps{})

	h.c.Update(DragStartMsg{})
	h.clock.Advance(300 * time.Millisecond)
	h.c.Update(DragMoveMsg{Offset: -100})
	if got := h.c.State().TrackOffset; got != -100 {
		t.Fatalf("expected live offset -100, got %v", got)
	}
	if h.c.Current() != 0 {
		t.Fatal("drag move must not change the index")
	}

	h.c.Update(DragEndMsg{})
	if h.c.Current() != 0 {
		t.Fatal("release must not commit before the settle completes")
	}
	if !h.c.State().IsDragging {
		t.Fatal("expected dragging flag to stay set until settle completes")
	}
	if settling, target := h.c.Settling(); !settling || target != 1 {
		t.Fatalf("expected settle towards 1, got settling=%v target=%d", settling, target)
	}

	h.settle(t)
	st := h.c.State()
	if st.CurrentIndex != 1 || st.IsDragging || st.TrackOffset != 0 {
		t.Fatalf("unexpected state after settle %+v", st)
	}
}

func TestCancelledGestureSpringsBack(t *testing.T) {
	h := newHarness(t, 5, Config{}, Deps{})

	h.c.Update(DragStartMsg{})
	h.clock.Advance(300 * time.Millisecond)
	h.c.Update(DragMoveMsg{Offset: 10})
	h.clock.Advance(300 * time.Millisecond)
	h.c.Update(DragMoveMsg{Offset: 10})
	h.c.Update(DragEndMsg{})
	h.settle(t)

	st := h.c.State()
	if st.CurrentIndex != 0 || st.TrackOffset != 0 || st.IsDragging {
		t.Fatalf("expected track back at index 0, got %+v", st)
	}
}

func TestFastFlickAdvances(t *testing.T) {
	h := newHarness(t, 5, Config{}, Deps{})

	h.c.Update(DragStartMsg{})
	h.clock.Advance(20 * time.Millisecond)
	h.c.Update(DragMoveMsg{Offset: -30})
	h.c.Update(DragEndMsg{})
	h.settle(t)

	if got := h.c.Current(); got != 1 {
		t.Fatalf("expected short fast flick to advance, got %d", got)
	}
}

func TestHeldDragReleasedBelowThresholdStays(t *testing.T) {
	h := newHarness(t, 5, Config{}, Deps{})

	h.c.Update(DragStartMsg{})
	h.clock.Advance(20 * time.Millisecond)
	h.c.Update(DragMoveMsg{Offset: -48})
	h.clock.Advance(2 * time.Second)
	h.c.Update(DragEndMsg{})
	h.settle(t)

	if got := h.c.Current(); got != 0 {
		t.Fatalf("expected a held release under the offset threshold to stay, got %d", got)
	}
}

func TestBackwardDragAtStartWithoutWrapStays(t *testing.T) {
	h := newHarness(t, 5, Config{}, Deps{})
	h.swipe(t, 200)
	if got := h.c.Current(); got != 0 {
		t.Fatalf("expected clamp at 0, got %d", got)
	}
}

func TestWrapCyclesEndToEnd(t *testing.T) {
	h := newHarness(t, 3, Config{Wrap: true}, Deps{})

	h.swipe(t, 200)
	if got := h.c.Current(); got != 2 {
		t.Fatalf("expected backward wrap to 2, got %d", got)
	}
	h.swipe(t, -200)
	if got := h.c.Current(); got != 0 {
		t.Fatalf("expected forward wrap to 0, got %d", got)
	}
}

func TestRequestIndexClampsAndIsIgnoredWhileDragging(t *testing.T) {
	h := newHarness(t, 5, Config{}, Deps{})

	h.c.Update(DragStartMsg{})
	h.c.Update(RequestIndexMsg{Index: 3})
	if settling, _ := h.c.Settling(); settling {
		t.Fatal("request during drag must be ignored")
	}
	h.c.Update(DragEndMsg{})
	h.settle(t)
	if got := h.c.Current(); got != 0 {
		t.Fatalf("expected index 0, got %d", got)
	}

	h.goTo(t, 4)
	h.c.Update(RequestIndexMsg{Index: 42})
	if settling, _ := h.c.Settling(); settling {
		t.Fatal("request clamped to the current index must be a no-op")
	}
	h.c.Update(RequestIndexMsg{Index: -7})
	h.settle(t)
	if got := h.c.Current(); got != 0 {
		t.Fatalf("expected clamp to 0, got %d", got)
	}
}

func TestDragStartSuspendsSettle(t *testing.T) {
	h := newHarness(t, 5, Config{}, Deps{})

	h.c.Update(StepMsg{Delta: 1})
	for range 5 {
		h.c.Update(frameMsg{seq: h.c.frameSeq})
	}
	seq := h.c.frameSeq
	h.c.Update(DragStartMsg{})
	if settling, _ := h.c.Settling(); settling {
		t.Fatal("expected drag start to suspend the settle")
	}
	h.c.Update(frameMsg{seq: seq})
	if h.c.Current() != 0 {
		t.Fatal("stale frame must not commit while dragging")
	}

	// The partial settle counts towards the new release.
	h.c.Update(DragEndMsg{})
	h.settle(t)
	if got := h.c.Current(); got != 1 {
		t.Fatalf("expected release past the threshold to land on 1, got %d", got)
	}
}

func TestStepsQueueWhileSettling(t *testing.T) {
	h := newHarness(t, 5, Config{}, Deps{})

	h.c.Update(StepMsg{Delta: 1})
	h.c.Update(StepMsg{Delta: 1})
	if _, target := h.c.Settling(); target != 2 {
		t.Fatalf("expected queued target 2, got %d", target)
	}
	h.settle(t)
	if got := h.c.Current(); got != 2 {
		t.Fatalf("expected index 2, got %d", got)
	}
}

func TestIndexChangeReconcilesMountedPlayers(t *testing.T) {
	h := newHarness(t, 6, Config{Radius: 1}, Deps{})
	h.readyAll()
	first := h.fake.Latest("reel-0")

	h.goTo(t, 3)
	if !first.Destroyed() {
		t.Fatal("expected player leaving the window to be destroyed")
	}
	if got := h.c.Window().Mounted; got != (window.Range{Lo: 2, Hi: 4}) {
		t.Fatalf("unexpected mounted range %+v", got)
	}
	for _, idx := range []int{0, 1, 5} {
		if _, ok := h.c.Record(idx); ok {
			t.Fatalf("index %d must not be mounted", idx)
		}
	}
	if p := h.fake.Latest("reel-3"); p == nil {
		t.Fatal("expected a player for the new current item")
	}
}

func TestAtMostOnePlayingItem(t *testing.T) {
	h := newHarness(t, 8, Config{Radius: 2, Wrap: true}, Deps{})
	rng := rand.New(rand.NewSource(7))

	for i := range 60 {
		switch rng.Intn(4) {
		case 0:
			h.c.Update(StepMsg{Delta: 1})
		case 1:
			h.c.Update(StepMsg{Delta: -1})
		case 2:
			h.c.Update(RequestIndexMsg{Index: rng.Intn(8)})
		case 3:
			h.c.Update(InteractMsg{Index: rng.Intn(8)})
		}
		if rng.Intn(2) == 0 {
			h.readyAll()
		}
		h.settle(t)
		h.readyAll()

		playing := h.c.Playing()
		if len(playing) > 1 {
			t.Fatalf("step %d: more than one playing item: %v", i, playing)
		}
		if len(playing) == 1 && playing[0] != h.c.Current() {
			t.Fatalf("step %d: playing item %d is not current %d", i, playing[0], h.c.Current())
		}

		live := 0
		for _, p := range h.fake.Players() {
			if !p.Destroyed() && p.Playing() {
				live++
			}
		}
		if live > 1 {
			t.Fatalf("step %d: %d provider players playing", i, live)
		}
	}
}

func TestErrorOnNeighborLeavesCurrentPlaying(t *testing.T) {
	h := newHarness(t, 5, Config{Radius: 2}, Deps{})
	h.readyAll()

	h.c.Update(InteractMsg{Index: 2})
	neighbor := h.fake.Latest("reel-2")
	if neighbor == nil {
		t.Fatal("expected interaction to create a player for index 2")
	}
	neighbor.Fail(errors.New("embedding disabled"))
	h.drain()

	rec, _ := h.c.Record(2)
	if rec.Status() != lifecycle.Error {
		t.Fatalf("expected index 2 in error, got %v", rec.Status())
	}
	cur, _ := h.c.Record(0)
	if cur.Status() != lifecycle.Ready || !cur.Playing() {
		t.Fatalf("expected index 0 still playing, got %v", cur.Status())
	}

	h.c.Update(InteractMsg{Index: 2})
	if rec.Status() != lifecycle.Activating {
		t.Fatalf("expected retry to activate again, got %v", rec.Status())
	}
	if !neighbor.Destroyed() {
		t.Fatal("expected failed player to be destroyed before retry")
	}
}

func TestReadyTimeoutFailsItem(t *testing.T) {
	h := newHarness(t, 3, Config{}, Deps{})
	rec, _ := h.c.Record(0)

	h.c.Update(readyTimeoutMsg{index: 0, gen: rec.Gen()})
	if rec.Status() != lifecycle.Error || !errors.Is(rec.Err(), lifecycle.ErrReadyTimeout) {
		t.Fatalf("expected ready timeout, got %v %v", rec.Status(), rec.Err())
	}
}

func TestLateEventsAfterTeardownAreIgnored(t *testing.T) {
	h := newHarness(t, 6, Config{Radius: 1}, Deps{})
	old := h.fake.Latest("reel-0")

	h.goTo(t, 3)
	h.goTo(t, 0)
	old.Ready()
	h.drain()

	rec, _ := h.c.Record(0)
	if rec.Status() != lifecycle.Activating {
		t.Fatalf("ready from a destroyed player must not ready the new one, got %v", rec.Status())
	}
}

func TestToggleMute(t *testing.T) {
	h := newHarness(t, 3, Config{MutedDefault: true}, Deps{})
	h.readyAll()
	p := h.fake.Latest("reel-0")
	if !p.Muted() {
		t.Fatal("expected muted default")
	}

	h.c.Update(ToggleMuteMsg{})
	if p.Muted() || h.c.State().MutedDefault {
		t.Fatal("expected toggle to unmute")
	}
}

func TestAutoplay(t *testing.T) {
	h := newHarness(t, 3, Config{Autoplay: 5 * time.Second}, Deps{})

	h.c.Update(DragStartMsg{})
	h.c.Update(autoplayTickMsg{seq: h.c.autoplaySeq})
	h.c.Update(DragEndMsg{})
	h.settle(t)
	if got := h.c.Current(); got != 0 {
		t.Fatalf("autoplay must not advance while dragging, got %d", got)
	}

	h.c.Update(HoverMsg{Duration: 2 * time.Second})
	h.c.Update(autoplayTickMsg{seq: h.c.autoplaySeq})
	if settling, _ := h.c.Settling(); settling {
		t.Fatal("autoplay must not advance while hovered")
	}

	h.clock.Advance(3 * time.Second)
	h.c.Update(autoplayTickMsg{seq: h.c.autoplaySeq})
	h.settle(t)
	if got := h.c.Current(); got != 1 {
		t.Fatalf("expected autoplay to advance to 1, got %d", got)
	}

	h.c.Update(autoplayTickMsg{seq: h.c.autoplaySeq})
	h.settle(t)
	h.c.Update(autoplayTickMsg{seq: h.c.autoplaySeq})
	h.settle(t)
	if got := h.c.Current(); got != 2 {
		t.Fatalf("expected autoplay to stop at the end without wrap, got %d", got)
	}
}

func TestAutoplayDisabledForSingleItem(t *testing.T) {
	h := newHarness(t, 1, Config{Autoplay: time.Second}, Deps{})
	if cmd := h.c.autoplayCmd(); cmd != nil {
		t.Fatal("expected no autoplay timer for a single item")
	}
	if h.c.Autoplay() != 0 {
		t.Fatal("expected autoplay reported as off")
	}
}

func TestEmptyFeedIsInert(t *testing.T) {
	c := New(nil, Deps{Provider: providertest.New()}, Config{})
	if cmd := c.Init(); cmd != nil {
		t.Fatal("expected no work for an empty feed")
	}
	if !c.Empty() || c.Current() != 0 {
		t.Fatalf("unexpected empty state %+v", c.State())
	}
	if cmd := c.Update(StepMsg{Delta: 1}); cmd != nil {
		t.Fatal("expected empty controller to ignore input")
	}
	c.Unmount()
}

type countingWarmer struct {
	mu    sync.Mutex
	calls map[mediaid.ID]int
}

type nopResource struct{}

func (nopResource) Release() {}

func (w *countingWarmer) Warm(_ context.Context, id mediaid.ID) (preload.Resource, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls[id]++
	return nopResource{}, nil
}

func TestPreloadWarmsUpcomingItemsAndUnmountClears(t *testing.T) {
	w := &countingWarmer{calls: make(map[mediaid.ID]int)}
	cache := preload.New(w, preload.Options{Capacity: 4})
	defer cache.Close()

	reg := prometheus.NewRegistry()
	col := metrics.New(reg)
	h := &harness{fake: providertest.New(), clock: newClock()}
	h.c = New(testItems(6), Deps{Provider: h.fake, Cache: cache, Metrics: col}, Config{PreloadAhead: 2, Now: h.clock.Now})

	for _, msg := range collect(h.c.Init(), 200*time.Millisecond) {
		if done, ok := msg.(preloadDoneMsg); ok {
			h.c.Update(done)
		}
	}
	for i := range 3 {
		if !h.c.IsWarm(i) {
			t.Fatalf("expected index %d warm", i)
		}
	}
	if h.c.IsWarm(3) {
		t.Fatal("index 3 is outside the preload window")
	}

	h.c.Update(StepMsg{Delta: 1})
	h.settle(t)
	if got := testutil.ToFloat64(col.IndexCommitsTotal); got != 1 {
		t.Fatalf("expected one index commit, got %v", got)
	}

	players := h.fake.Players()
	h.c.Unmount()
	for _, p := range players {
		if !p.Destroyed() {
			t.Fatalf("expected %s destroyed on unmount", p.ContainerID)
		}
	}
	if cache.Len() != 0 {
		t.Fatalf("expected cache cleared on unmount, %d entries left", cache.Len())
	}
	if cmd := h.c.Update(StepMsg{Delta: 1}); cmd != nil {
		t.Fatal("expected unmounted controller to ignore input")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, n := range w.calls {
		if n != 1 {
			t.Fatalf("expected one warm for %s, got %d", id, n)
		}
	}
}
