// Package provider defines the capability interface every embed backend
// implements. The carousel and the player lifecycle only see these types;
// the concrete backend is chosen once when the app is composed.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/olivier-w/reels/internal/mediaid"
)

var (
	// ErrNotReady is returned by handle calls made before the player is ready.
	ErrNotReady = errors.New("player not ready")
	// ErrDestroyed is returned by handle calls made after Destroy.
	ErrDestroyed = errors.New("player destroyed")
)

// State is a playback state reported through Callbacks.OnStateChange.
type State int

const (
	Unstarted State = iota
	Ended
	Playing
	Paused
	Buffering
	Cued
)

func (s State) String() string {
	switch s {
	case Unstarted:
		return "unstarted"
	case Ended:
		return "ended"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case Buffering:
		return "buffering"
	case Cued:
		return "cued"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Callbacks receive asynchronous notifications from a player. They may be
// called from any goroutine.
type Callbacks struct {
	OnReady       func()
	OnStateChange func(State)
	OnError       func(error)
}

// Handle controls one provider player instance.
type Handle interface {
	Play() error
	Pause() error
	Mute() error
	Unmute() error
	SeekTo(pos time.Duration) error
	Destroy() error
}

// Provider creates and destroys players for media identifiers.
type Provider interface {
	// Load prepares the backend. It is idempotent and safe to call repeatedly.
	Load(ctx context.Context) error
	// CreatePlayer starts creating a player inside containerID. It returns
	// without waiting for readiness; readiness and failures arrive through cb.
	CreatePlayer(containerID string, id mediaid.ID, cb Callbacks) (Handle, error)
	// DestroyPlayer releases a player created by CreatePlayer.
	DestroyPlayer(h Handle) error
}

// ErrorRecorder counts failed provider calls by operation.
type ErrorRecorder interface {
	ProviderError(op string)
}

// Call runs fn, a call into the provider, treating both returned errors and
// panics as a logged no-op. It reports whether fn succeeded.
func Call(logger *zap.Logger, rec ErrorRecorder, op string, fn func() error) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			if logger != nil {
				logger.Warn("Provider call panicked", zap.String("op", op), zap.Any("panic", r))
			}
			if rec != nil {
				rec.ProviderError(op)
			}
		}
	}()

	if err := fn(); err != nil {
		if logger != nil {
			logger.Warn("Provider call failed", zap.String("op", op), zap.Error(err))
		}
		if rec != nil {
			rec.ProviderError(op)
		}
		return false
	}
	return true
}
