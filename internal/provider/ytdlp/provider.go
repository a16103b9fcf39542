package ytdlp

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/olivier-w/reels/internal/audio"
	"github.com/olivier-w/reels/internal/mediaid"
	"github.com/olivier-w/reels/internal/preload"
	"github.com/olivier-w/reels/internal/provider"
)

// ErrNotLoaded is returned by CreatePlayer before a successful Load.
var ErrNotLoaded = errors.New("provider not loaded")

// media is the part of *audio.Player a handle drives.
type media interface {
	Play() error
	Pause() error
	SetMuted(muted bool) error
	Restart() error
	Close()
	Done() <-chan struct{}
}

// Options configures a Provider.
type Options struct {
	Binary string
	Logger *zap.Logger
	// CreateTimeout bounds how long a player waits for its download.
	CreateTimeout time.Duration

	lookPath  func(string) (string, error)
	initAudio func() error
	open      func(path string) (media, error)
}

// Provider creates players whose media comes from the shared preload cache.
type Provider struct {
	cache         *preload.Cache
	binary        string
	logger        *zap.Logger
	createTimeout time.Duration
	lookPath      func(string) (string, error)
	initAudio     func() error
	open          func(path string) (media, error)

	mu     sync.Mutex
	loaded bool
}

// New creates a provider that acquires downloads from cache.
func New(cache *preload.Cache, opts Options) *Provider {
	if opts.Binary == "" {
		opts.Binary = DefaultBinary
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.CreateTimeout <= 0 {
		opts.CreateTimeout = preload.DefaultWarmTimeout
	}
	if opts.lookPath == nil {
		opts.lookPath = exec.LookPath
	}
	if opts.initAudio == nil {
		opts.initAudio = audio.Init
	}
	if opts.open == nil {
		opts.open = func(path string) (media, error) { return audio.Open(path) }
	}
	return &Provider{
		cache:         cache,
		binary:        opts.Binary,
		logger:        opts.Logger.Named("player"),
		createTimeout: opts.CreateTimeout,
		lookPath:      opts.lookPath,
		initAudio:     opts.initAudio,
		open:          opts.open,
	}
}

// Load checks for yt-dlp and opens the audio output. Failed loads may be
// retried; once loaded, further calls return immediately.
func (p *Provider) Load(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loaded {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := p.lookPath(p.binary); err != nil {
		return ErrNotFound
	}
	if err := p.initAudio(); err != nil {
		return fmt.Errorf("initialising audio: %w", err)
	}
	p.loaded = true
	p.logger.Debug("Provider loaded", zap.String("binary", p.binary))
	return nil
}

// CreatePlayer returns at once. The download is acquired and opened in the
// background; OnReady or OnError reports the result.
func (p *Provider) CreatePlayer(containerID string, id mediaid.ID, cb provider.Callbacks) (provider.Handle, error) {
	p.mu.Lock()
	loaded := p.loaded
	p.mu.Unlock()
	if !loaded {
		return nil, ErrNotLoaded
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &handle{
		id:     id,
		cb:     cb,
		logger: p.logger.With(zap.String("container", containerID), zap.String("id", string(id))),
		ctx:    ctx,
		cancel: cancel,
		rearm:  make(chan struct{}, 1),
	}
	go h.run(p)
	return h, nil
}

func (p *Provider) DestroyPlayer(h provider.Handle) error {
	if h == nil {
		return provider.ErrDestroyed
	}
	return h.Destroy()
}

type handle struct {
	id     mediaid.ID
	cb     provider.Callbacks
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
	rearm  chan struct{}

	mu        sync.Mutex
	media     media
	destroyed bool
}

func (h *handle) run(p *Provider) {
	if m := h.create(p); m != nil {
		h.watch(m)
	}
}

// create acquires and opens the download, then reports ready.
func (h *handle) create(p *Provider) media {
	// Keep the download from being evicted until it is open.
	p.cache.Pin(h.id)
	defer p.cache.Unpin(h.id)

	ctx, cancel := context.WithTimeout(h.ctx, p.createTimeout)
	res, err := p.cache.Acquire(ctx, h.id)
	cancel()
	if err != nil {
		if h.isDestroyed() {
			return nil
		}
		h.fail(fmt.Errorf("acquiring %s: %w", h.id, err))
		return nil
	}
	dl, ok := res.(*Download)
	if !ok {
		h.fail(fmt.Errorf("acquiring %s: unexpected resource %T", h.id, res))
		return nil
	}

	m, err := p.open(dl.Path)
	if err != nil {
		h.fail(err)
		return nil
	}
	if err := m.SetMuted(true); err != nil {
		h.logger.Warn("Muting new player failed", zap.Error(err))
	}

	h.mu.Lock()
	if h.destroyed {
		h.mu.Unlock()
		m.Close()
		h.logger.Debug("Player destroyed during creation")
		return nil
	}
	h.media = m
	h.mu.Unlock()

	h.logger.Debug("Player ready")
	if h.cb.OnReady != nil {
		h.cb.OnReady()
	}
	return m
}

// watch reports end of media until the handle is destroyed.
func (h *handle) watch(m media) {
	done := m.Done()
	for {
		select {
		case <-h.ctx.Done():
			return
		case <-done:
		}
		if h.cb.OnStateChange != nil {
			h.cb.OnStateChange(provider.Ended)
		}

		prev := done
		for done == prev {
			select {
			case <-h.ctx.Done():
				return
			case <-h.rearm:
			}
			done = m.Done()
		}
	}
}

func (h *handle) fail(err error) {
	h.logger.Warn("Player creation failed", zap.Error(err))
	if h.cb.OnError != nil {
		h.cb.OnError(err)
	}
}

func (h *handle) isDestroyed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.destroyed
}

// ready returns the open media, or an error when the handle cannot be used.
func (h *handle) ready() (media, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed {
		return nil, provider.ErrDestroyed
	}
	if h.media == nil {
		return nil, provider.ErrNotReady
	}
	return h.media, nil
}

func (h *handle) Play() error {
	m, err := h.ready()
	if err != nil {
		return err
	}
	return m.Play()
}

func (h *handle) Pause() error {
	m, err := h.ready()
	if err != nil {
		return err
	}
	return m.Pause()
}

func (h *handle) Mute() error {
	m, err := h.ready()
	if err != nil {
		return err
	}
	return m.SetMuted(true)
}

func (h *handle) Unmute() error {
	m, err := h.ready()
	if err != nil {
		return err
	}
	return m.SetMuted(false)
}

// SeekTo supports rewinding to the start only.
func (h *handle) SeekTo(pos time.Duration) error {
	m, err := h.ready()
	if err != nil {
		return err
	}
	if pos != 0 {
		return fmt.Errorf("seek to %v: %w", pos, errors.ErrUnsupported)
	}
	if err := m.Restart(); err != nil {
		return err
	}
	select {
	case h.rearm <- struct{}{}:
	default:
	}
	return nil
}

// Destroy cancels a pending creation or closes the open media.
func (h *handle) Destroy() error {
	h.mu.Lock()
	if h.destroyed {
		h.mu.Unlock()
		return provider.ErrDestroyed
	}
	h.destroyed = true
	m := h.media
	h.media = nil
	h.mu.Unlock()

	h.cancel()
	if m != nil {
		m.Close()
	}
	return nil
}
