package ytdlp

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/olivier-w/reels/internal/mediaid"
	"github.com/olivier-w/reels/internal/preload"
	"github.com/olivier-w/reels/internal/provider"
)

type fakeMedia struct {
	mu      sync.Mutex
	playing bool
	muted   bool
	closed  bool
	done    chan struct{}
}

func newFakeMedia() *fakeMedia { return &fakeMedia{done: make(chan struct{})} }

func (m *fakeMedia) Play() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playing = true
	return nil
}

func (m *fakeMedia) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playing = false
	return nil
}

func (m *fakeMedia) SetMuted(muted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.muted = muted
	return nil
}

func (m *fakeMedia) Restart() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case <-m.done:
		m.done = make(chan struct{})
	default:
	}
	return nil
}

func (m *fakeMedia) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

func (m *fakeMedia) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

func (m *fakeMedia) end() {
	m.mu.Lock()
	defer m.mu.Unlock()
	close(m.done)
}

func (m *fakeMedia) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

type events struct {
	ready  chan struct{}
	errs   chan error
	states chan provider.State
}

func newEvents() *events {
	return &events{
		ready:  make(chan struct{}, 4),
		errs:   make(chan error, 4),
		states: make(chan provider.State, 4),
	}
}

func (e *events) callbacks() provider.Callbacks {
	return provider.Callbacks{
		OnReady:       func() { e.ready <- struct{}{} },
		OnError:       func(err error) { e.errs <- err },
		OnStateChange: func(s provider.State) { e.states <- s },
	}
}

func waitReady(t *testing.T, e *events) {
	t.Helper()
	select {
	case <-e.ready:
	case err := <-e.errs:
		t.Fatalf("expected ready, got error %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ready")
	}
}

type testBackend struct {
	provider *Provider
	cache    *preload.Cache
	gate     chan struct{}
	opened   chan *fakeMedia
}

func newTestBackend(t *testing.T, gated bool) *testBackend {
	t.Helper()
	b := &testBackend{opened: make(chan *fakeMedia, 4)}
	if gated {
		b.gate = make(chan struct{})
	}
	dir := t.TempDir()
	b.cache = preload.New(preload.WarmerFunc(func(ctx context.Context, id mediaid.ID) (preload.Resource, error) {
		if b.gate != nil {
			select {
			case <-b.gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		path := filepath.Join(dir, string(id)+".mp3")
		if err := os.WriteFile(path, []byte("ID3"), 0o644); err != nil {
			return nil, err
		}
		return &Download{ID: id, Path: path}, nil
	}), preload.Options{Capacity: 4})
	t.Cleanup(b.cache.Close)

	b.provider = New(b.cache, Options{
		lookPath:  func(string) (string, error) { return "/usr/bin/yt-dlp", nil },
		initAudio: func() error { return nil },
		open: func(string) (media, error) {
			m := newFakeMedia()
			b.opened <- m
			return m, nil
		},
	})
	if err := b.provider.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return b
}

func TestLoadFailsWithoutBinaryAndCanRetry(t *testing.T) {
	found := false
	inits := 0
	p := New(nil, Options{
		lookPath: func(string) (string, error) {
			if !found {
				return "", errors.New("missing")
			}
			return "/usr/bin/yt-dlp", nil
		},
		initAudio: func() error { inits++; return nil },
	})

	if err := p.Load(context.Background()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := p.CreatePlayer("slot-0", "AAAAAAAAAA0", provider.Callbacks{}); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("expected ErrNotLoaded before load, got %v", err)
	}

	found = true
	for range 3 {
		if err := p.Load(context.Background()); err != nil {
			t.Fatalf("Load() error = %v", err)
		}
	}
	if inits != 1 {
		t.Fatalf("expected audio to initialise once, got %d", inits)
	}
}

func TestCreatePlayerReportsReadyMutedAndPaused(t *testing.T) {
	b := newTestBackend(t, false)
	ev := newEvents()

	h, err := b.provider.CreatePlayer("slot-0", "AAAAAAAAAA0", ev.callbacks())
	if err != nil {
		t.Fatalf("CreatePlayer() error = %v", err)
	}
	waitReady(t, ev)
	m := <-b.opened

	m.mu.Lock()
	muted, playing := m.muted, m.playing
	m.mu.Unlock()
	if !muted || playing {
		t.Fatalf("expected new player muted and paused, got muted=%v playing=%v", muted, playing)
	}

	if err := h.Play(); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	if err := h.Unmute(); err != nil {
		t.Fatalf("Unmute() error = %v", err)
	}
	if err := h.SeekTo(time.Second); !errors.Is(err, errors.ErrUnsupported) {
		t.Fatalf("expected unsupported mid-track seek, got %v", err)
	}
	if err := b.provider.DestroyPlayer(h); err != nil {
		t.Fatalf("DestroyPlayer() error = %v", err)
	}
	if !m.isClosed() {
		t.Fatal("expected destroy to close media")
	}
	if err := h.Play(); !errors.Is(err, provider.ErrDestroyed) {
		t.Fatalf("expected ErrDestroyed after destroy, got %v", err)
	}
}

func TestHandleCallsBeforeReadyFail(t *testing.T) {
	b := newTestBackend(t, true)
	defer close(b.gate)

	h, err := b.provider.CreatePlayer("slot-0", "AAAAAAAAAA0", newEvents().callbacks())
	if err != nil {
		t.Fatalf("CreatePlayer() error = %v", err)
	}
	defer h.Destroy()

	if err := h.Play(); !errors.Is(err, provider.ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
}

func TestDestroyDuringCreationLeavesNoPlayer(t *testing.T) {
	b := newTestBackend(t, true)
	ev := newEvents()

	h, err := b.provider.CreatePlayer("slot-0", "AAAAAAAAAA0", ev.callbacks())
	if err != nil {
		t.Fatalf("CreatePlayer() error = %v", err)
	}
	if err := h.Destroy(); err != nil {
		t.Fatalf("Destroy() error = %v", err)
	}
	close(b.gate)

	select {
	case <-ev.ready:
		t.Fatal("destroyed player must not report ready")
	case err := <-ev.errs:
		t.Fatalf("destroyed player must not report errors, got %v", err)
	case m := <-b.opened:
		t.Fatalf("destroyed player must not open media, got %+v", m)
	case <-time.After(50 * time.Millisecond):
	}
	if err := h.Destroy(); !errors.Is(err, provider.ErrDestroyed) {
		t.Fatalf("expected second destroy to report ErrDestroyed, got %v", err)
	}
}

func TestEndOfMediaIsReportedAfterEveryLoop(t *testing.T) {
	b := newTestBackend(t, false)
	ev := newEvents()

	h, err := b.provider.CreatePlayer("slot-0", "AAAAAAAAAA0", ev.callbacks())
	if err != nil {
		t.Fatalf("CreatePlayer() error = %v", err)
	}
	defer h.Destroy()
	waitReady(t, ev)
	m := <-b.opened

	for i := range 2 {
		m.end()
		select {
		case s := <-ev.states:
			if s != provider.Ended {
				t.Fatalf("loop %d: expected ended state, got %v", i, s)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("loop %d: timed out waiting for ended state", i)
		}
		if err := h.SeekTo(0); err != nil {
			t.Fatalf("SeekTo(0) error = %v", err)
		}
	}
}

func TestDownloaderRunsYtDlp(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script stand-in needs a POSIX shell")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "yt-dlp")
	body := `#!/bin/sh
out=""
prev=""
for a in "$@"; do
  if [ "$a" = "--print" ]; then echo "A Reel Title"; exit 0; fi
  if [ "$prev" = "-o" ]; then out="$a"; fi
  prev="$a"
done
echo "[download]  50.0% of 1.00MiB" >&2
printf 'ID3' > "$out"
`
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}

	d := NewDownloader(script, dir, nil)
	res, err := d.Warm(context.Background(), "dQw4w9WgXcQ")
	if err != nil {
		t.Fatalf("Warm() error = %v", err)
	}
	dl := res.(*Download)
	if dl.Title != "A Reel Title" || d.Title("dQw4w9WgXcQ") != "A Reel Title" {
		t.Fatalf("unexpected title %q", dl.Title)
	}
	data, err := os.ReadFile(dl.Path)
	if err != nil || string(data) != "ID3" {
		t.Fatalf("expected downloaded file, got %q (%v)", data, err)
	}

	dl.Release()
	dl.Release()
	if _, err := os.Stat(dl.Path); !os.IsNotExist(err) {
		t.Fatalf("expected Release to remove %s, stat error %v", dl.Path, err)
	}
}

func TestDownloaderFailureRemovesTempFile(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script stand-in needs a POSIX shell")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "yt-dlp")
	if err := os.WriteFile(script, []byte("#!/bin/sh\nexit 1\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	d := NewDownloader(script, dir, nil)
	if _, err := d.Warm(context.Background(), "dQw4w9WgXcQ"); err == nil {
		t.Fatal("expected failing yt-dlp to fail the warm")
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "reels-*.mp3"))
	if len(matches) != 0 {
		t.Fatalf("expected temp file cleanup, found %v", matches)
	}
}

func TestDownloadArgs(t *testing.T) {
	args := downloadArgs("/tmp/x.mp3", "https://www.youtube.com/watch?v=dQw4w9WgXcQ")
	for _, want := range []string{"-x", "mp3", "--no-playlist", "/tmp/x.mp3"} {
		if !slices.Contains(args, want) {
			t.Fatalf("expected %q in %v", want, args)
		}
	}
	if args[len(args)-1] != "https://www.youtube.com/watch?v=dQw4w9WgXcQ" {
		t.Fatalf("expected url last, got %v", args)
	}
}

func TestPhaseOf(t *testing.T) {
	cases := map[string]string{
		"[youtube] Extracting URL":              "fetching info",
		"[download]  12.5% of 3.00MiB":          "downloading",
		"[ExtractAudio] Destination: x.mp3":     "converting",
		"[info] Writing video metadata as JSON": "",
	}
	for line, want := range cases {
		if got := phaseOf(line); got != want {
			t.Fatalf("phaseOf(%q) = %q, want %q", line, got, want)
		}
	}
}
