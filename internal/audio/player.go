// Package audio plays decoded media files through a single process-wide
// oto output context.
package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

const (
	sampleRate     = 44100
	channelCount   = 2
	bytesPerSample = 2 // 16-bit
	frameSize      = channelCount * bytesPerSample
	bytesPerSec    = sampleRate * frameSize

	defaultVolume = 0.8
	pollInterval  = 200 * time.Millisecond
)

// ErrClosed is returned by calls on a closed player.
var ErrClosed = errors.New("audio player closed")

// countingReader tracks how many PCM bytes the output has consumed.
type countingReader struct {
	reader io.Reader
	mu     sync.Mutex
	pos    int64
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.reader.Read(p)
	cr.mu.Lock()
	cr.pos += int64(n)
	cr.mu.Unlock()
	return n, err
}

func (cr *countingReader) Pos() int64 {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	return cr.pos
}

func (cr *countingReader) SetPos(pos int64) {
	cr.mu.Lock()
	cr.pos = pos
	cr.mu.Unlock()
}

// output is the subset of *oto.Player the engine drives.
type output interface {
	Play()
	Pause()
	SetVolume(volume float64)
}

var (
	globalOtoCtx *oto.Context
	otoOnce      sync.Once
	otoInitErr   error
)

// Init prepares the shared output context. It is safe to call repeatedly;
// only the first call opens the device.
func Init() error {
	_, err := initOto()
	return err
}

func initOto() (*oto.Context, error) {
	otoOnce.Do(func() {
		op := &oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: channelCount,
			Format:       oto.FormatSignedInt16LE,
		}
		var ready chan struct{}
		globalOtoCtx, ready, otoInitErr = oto.NewContext(op)
		if otoInitErr == nil {
			<-ready
		}
	})
	return globalOtoCtx, otoInitErr
}

// Player plays one media file. A new player starts paused and unmuted.
type Player struct {
	dec       decoder
	counter   *countingReader
	newOutput func(io.Reader) output
	cleanup   func()
	interval  time.Duration

	mu      sync.Mutex
	out     output
	volume  float64
	paused  bool
	muted   bool
	ended   bool
	closed  bool
	done    chan struct{}
	stopMon chan struct{}
}

// Open decodes path and prepares it for playback.
func Open(path string) (*Player, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	dec, err := newDecoder(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	ctx, err := initOto()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("initialising audio output: %w", err)
	}

	newOutput := func(r io.Reader) output { return ctx.NewPlayer(r) }
	return newPlayer(dec, newOutput, func() { f.Close() }, pollInterval), nil
}

func newPlayer(dec decoder, newOutput func(io.Reader) output, cleanup func(), interval time.Duration) *Player {
	p := &Player{
		dec:       dec,
		counter:   &countingReader{reader: dec},
		newOutput: newOutput,
		cleanup:   cleanup,
		interval:  interval,
		volume:    defaultVolume,
		paused:    true,
		done:      make(chan struct{}),
		stopMon:   make(chan struct{}),
	}
	p.out = newOutput(p.counter)
	p.out.SetVolume(p.volume)
	go p.monitor()
	return p
}

// monitor closes the done channel whenever playback reaches the end.
func (p *Player) monitor() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopMon:
			return
		case <-ticker.C:
		}

		p.mu.Lock()
		if !p.ended && !p.paused && p.counter.Pos() >= p.dec.Length() {
			p.ended = true
			close(p.done)
		}
		p.mu.Unlock()
	}
}

// Done returns a channel that is closed when playback reaches the end.
// Restart replaces it.
func (p *Player) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

func (p *Player) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.out.Play()
	p.paused = false
	return nil
}

func (p *Player) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.out.Pause()
	p.paused = true
	return nil
}

// SetMuted silences or restores output without touching the play state.
func (p *Player) SetMuted(muted bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.muted = muted
	p.out.SetVolume(p.effectiveVolume())
	return nil
}

func (p *Player) effectiveVolume() float64 {
	if p.muted {
		return 0
	}
	return p.volume
}

// Restart rewinds to the beginning, keeping the paused state.
func (p *Player) Restart() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}

	if _, err := p.dec.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewinding: %w", err)
	}
	p.counter.SetPos(0)

	// A fresh output drops whatever the old one had buffered.
	p.out.Pause()
	p.out = p.newOutput(p.counter)
	p.out.SetVolume(p.effectiveVolume())
	if !p.paused {
		p.out.Play()
	}

	if p.ended {
		p.ended = false
		p.done = make(chan struct{})
	}
	return nil
}

func (p *Player) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *Player) Muted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.muted
}

// Position returns the current playback position.
func (p *Player) Position() time.Duration {
	return bytesToDuration(p.counter.Pos())
}

func bytesToDuration(n int64) time.Duration {
	return time.Duration(float64(n) / float64(bytesPerSec) * float64(time.Second))
}

// Close stops playback and releases the file. Repeated calls are no-ops.
func (p *Player) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.stopMon)
	if p.out != nil {
		p.out.Pause()
	}
	if p.cleanup != nil {
		p.cleanup()
	}
}
