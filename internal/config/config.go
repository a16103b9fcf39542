// Package config holds the typed settings of the reels command.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/olivier-w/reels/internal/carousel"
	"github.com/olivier-w/reels/internal/preload"
	"github.com/olivier-w/reels/internal/provider/ytdlp"
)

const (
	DefaultLogFile     = "reels.log"
	DefaultLogLevel    = "info"
	DefaultMetricsAddr = ""
)

type Config struct {
	Carousel CarouselConfig
	Cache    CacheConfig
	Backend  BackendConfig
	Log      LogConfig
	Metrics  MetricsConfig
}

type CarouselConfig struct {
	Radius       int
	PreloadAhead int
	Wrap         bool
	Muted        bool
	Autoplay     time.Duration
	ReadyTimeout time.Duration
}

type CacheConfig struct {
	Capacity       int
	PreloadTimeout time.Duration
	WarmTimeout    time.Duration
}

type BackendConfig struct {
	Binary string
	// Dir receives the downloads; empty uses the system temp dir.
	Dir string
}

type LogConfig struct {
	Level string
	File  string
}

type MetricsConfig struct {
	// Addr is the listen address of /metrics; empty disables the server.
	Addr string
}

func DefaultConfig() *Config {
	return &Config{
		Carousel: CarouselConfig{
			Radius:       carousel.DefaultRadius,
			PreloadAhead: carousel.DefaultPreloadAhead,
			Muted:        true,
			ReadyTimeout: carousel.DefaultReadyTimeout,
		},
		Cache: CacheConfig{
			Capacity:       preload.DefaultCapacity,
			PreloadTimeout: preload.DefaultTimeout,
			WarmTimeout:    preload.DefaultWarmTimeout,
		},
		Backend: BackendConfig{
			Binary: ytdlp.DefaultBinary,
		},
		Log: LogConfig{
			Level: DefaultLogLevel,
			File:  DefaultLogFile,
		},
		Metrics: MetricsConfig{
			Addr: DefaultMetricsAddr,
		},
	}
}

var logLevels = []string{"debug", "info", "warn", "error"}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Carousel.Radius < 1 || c.Carousel.Radius > carousel.MaxRadius {
		errs = append(errs, fmt.Errorf("radius must be between 1 and %d, got %d", carousel.MaxRadius, c.Carousel.Radius))
	}
	if c.Carousel.PreloadAhead < 0 || c.Carousel.PreloadAhead > carousel.MaxPreloadAhead {
		errs = append(errs, fmt.Errorf("preload-ahead must be between 0 and %d, got %d", carousel.MaxPreloadAhead, c.Carousel.PreloadAhead))
	}
	if c.Carousel.Autoplay < 0 {
		errs = append(errs, fmt.Errorf("autoplay must not be negative, got %s", c.Carousel.Autoplay))
	}
	if c.Carousel.ReadyTimeout <= 0 {
		errs = append(errs, fmt.Errorf("ready-timeout must be positive, got %s", c.Carousel.ReadyTimeout))
	}
	if c.Cache.Capacity < 1 {
		errs = append(errs, fmt.Errorf("cache-capacity must be at least 1, got %d", c.Cache.Capacity))
	}
	if c.Cache.PreloadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("preload-timeout must be positive, got %s", c.Cache.PreloadTimeout))
	}
	if c.Cache.WarmTimeout < c.Cache.PreloadTimeout {
		errs = append(errs, fmt.Errorf("warm-timeout %s is shorter than preload-timeout %s", c.Cache.WarmTimeout, c.Cache.PreloadTimeout))
	}
	if c.Backend.Binary == "" {
		errs = append(errs, errors.New("yt-dlp binary must not be empty"))
	}
	if !isLogLevel(c.Log.Level) {
		errs = append(errs, fmt.Errorf("log-level must be one of %s, got %q", strings.Join(logLevels, ", "), c.Log.Level))
	}
	return errors.Join(errs...)
}

func isLogLevel(level string) bool {
	level = strings.ToLower(level)
	for _, l := range logLevels {
		if l == level {
			return true
		}
	}
	return false
}
