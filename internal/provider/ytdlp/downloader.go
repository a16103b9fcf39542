// Package ytdlp is the embed backend that fetches reel audio with yt-dlp and
// plays it through the audio engine.
package ytdlp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/olivier-w/reels/internal/mediaid"
	"github.com/olivier-w/reels/internal/preload"
)

// DefaultBinary is the yt-dlp executable looked up on PATH.
const DefaultBinary = "yt-dlp"

// ErrNotFound is returned when the yt-dlp executable is missing.
var ErrNotFound = errors.New("yt-dlp not found. Install it:\n  Windows: winget install yt-dlp\n  macOS:   brew install yt-dlp\n  Linux:   sudo apt install yt-dlp  (or pip install yt-dlp)")

// Download is a fetched audio file. Release removes it from disk.
type Download struct {
	ID    mediaid.ID
	Path  string
	Title string

	once sync.Once
}

func (d *Download) Release() {
	d.once.Do(func() { os.Remove(d.Path) })
}

// Downloader warms cache entries by downloading audio with yt-dlp.
type Downloader struct {
	binary string
	dir    string
	logger *zap.Logger

	titles sync.Map // mediaid.ID -> string
}

// NewDownloader creates a downloader that writes temp files into dir
// (the system temp dir when empty).
func NewDownloader(binary, dir string, logger *zap.Logger) *Downloader {
	if binary == "" {
		binary = DefaultBinary
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Downloader{binary: binary, dir: dir, logger: logger.Named("ytdlp")}
}

// Binary returns the configured yt-dlp executable.
func (d *Downloader) Binary() string { return d.binary }

// Title returns the title fetched for id, if any.
func (d *Downloader) Title(id mediaid.ID) string {
	if v, ok := d.titles.Load(id); ok {
		return v.(string)
	}
	return ""
}

// Warm downloads the audio of id as mp3.
func (d *Downloader) Warm(ctx context.Context, id mediaid.ID) (preload.Resource, error) {
	tmpFile, err := os.CreateTemp(d.dir, "reels-*.mp3")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()

	url := mediaid.WatchURL(id)
	title := d.fetchTitle(ctx, url)
	if title != "" {
		d.titles.Store(id, title)
	}

	cmd := exec.CommandContext(ctx, d.binary, downloadArgs(tmpPath, url)...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("setting up yt-dlp: %w", err)
	}
	cmd.Stdout = cmd.Stderr

	if err := cmd.Start(); err != nil {
		os.Remove(tmpPath)
		if errors.Is(err, exec.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("starting yt-dlp: %w", err)
	}

	lastPhase := ""
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		if phase := phaseOf(scanner.Text()); phase != "" && phase != lastPhase {
			lastPhase = phase
			d.logger.Debug("Download phase", zap.String("id", string(id)), zap.String("phase", phase))
		}
	}

	if err := cmd.Wait(); err != nil {
		os.Remove(tmpPath)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("yt-dlp failed: %w", err)
	}

	return &Download{ID: id, Path: tmpPath, Title: title}, nil
}

// fetchTitle runs a metadata-only call. Failures leave the title empty.
func (d *Downloader) fetchTitle(ctx context.Context, url string) string {
	out, err := exec.CommandContext(ctx, d.binary, titleArgs(url)...).Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

func downloadArgs(out, url string) []string {
	return []string{"-x", "--audio-format", "mp3", "--no-playlist", "-o", out, "--force-overwrites", url}
}

func titleArgs(url string) []string {
	return []string{"--skip-download", "--no-playlist", "--print", "title", url}
}

func phaseOf(line string) string {
	switch {
	case strings.Contains(line, "Extracting") || strings.Contains(line, "Downloading webpage"):
		return "fetching info"
	case strings.Contains(line, "[download]") && strings.Contains(line, "%"):
		return "downloading"
	case strings.Contains(line, "ExtractAudio"):
		return "converting"
	default:
		return ""
	}
}
