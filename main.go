// Package main provides the reels command: a swipeable carousel of short
// videos played as audio in the terminal.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/olivier-w/reels/internal/carousel"
	"github.com/olivier-w/reels/internal/config"
	"github.com/olivier-w/reels/internal/metrics"
	"github.com/olivier-w/reels/internal/preload"
	"github.com/olivier-w/reels/internal/provider/ytdlp"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "reels [links or ids...]",
	Short: "reels - swipe through short videos in the terminal",
	Long: `reels plays a feed of short videos one at a time. Drag with the mouse or
use j/k to move between them; the next items are downloaded ahead of time.

References come from the arguments, --feed and --ids. Without any, a feed
file can be picked from the current directory.`,
	RunE:         runReels,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	d := config.DefaultConfig()
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "env file (default is .env)")
	flags.String("feed", "", "feed file (.txt, .m3u, .m3u8, .pls)")
	flags.String("ids", "", "comma separated video links or ids")
	flags.Int("radius", d.Carousel.Radius, "players mounted on each side of the current item")
	flags.Int("preload-ahead", d.Carousel.PreloadAhead, "items downloaded ahead of the current one")
	flags.Bool("wrap", d.Carousel.Wrap, "cycle from the last item to the first")
	flags.Bool("muted", d.Carousel.Muted, "start with sound off")
	flags.Duration("autoplay", d.Carousel.Autoplay, "advance automatically at this interval (0 disables)")
	flags.Duration("ready-timeout", d.Carousel.ReadyTimeout, "how long a player may take to become ready")
	flags.Int("cache-capacity", d.Cache.Capacity, "downloads kept warm")
	flags.Duration("preload-timeout", d.Cache.PreloadTimeout, "how long a preload waits for its download")
	flags.Duration("warm-timeout", d.Cache.WarmTimeout, "hard limit for a single download")
	flags.String("yt-dlp", d.Backend.Binary, "yt-dlp executable")
	flags.String("download-dir", d.Backend.Dir, "directory for downloads (default is the system temp dir)")
	flags.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
	flags.String("log-file", d.Log.File, "log file (empty disables logging)")
	flags.String("metrics-addr", d.Metrics.Addr, "serve Prometheus metrics on this address (e.g. :9090)")

	if err := viper.BindPFlags(flags); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bind flags: %v\n", err)
		os.Exit(1)
	}
}

func initConfig() {
	envFile := ".env"
	if cfgFile != "" {
		envFile = cfgFile
	}
	if err := gotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Error loading %s: %v\n", envFile, err)
	}

	viper.SetEnvPrefix("REELS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	cfg = buildConfig()
}

func buildConfig() *config.Config {
	c := config.DefaultConfig()

	c.Carousel.Radius = viper.GetInt("radius")
	c.Carousel.PreloadAhead = viper.GetInt("preload-ahead")
	c.Carousel.Wrap = viper.GetBool("wrap")
	c.Carousel.Muted = viper.GetBool("muted")
	c.Carousel.Autoplay = viper.GetDuration("autoplay")
	c.Carousel.ReadyTimeout = viper.GetDuration("ready-timeout")

	c.Cache.Capacity = viper.GetInt("cache-capacity")
	c.Cache.PreloadTimeout = viper.GetDuration("preload-timeout")
	c.Cache.WarmTimeout = viper.GetDuration("warm-timeout")

	c.Backend.Binary = viper.GetString("yt-dlp")
	c.Backend.Dir = viper.GetString("download-dir")

	c.Log.Level = viper.GetString("log-level")
	c.Log.File = viper.GetString("log-file")
	c.Metrics.Addr = viper.GetString("metrics-addr")
	return c
}

// buildLogger writes to file because the terminal belongs to the UI.
func buildLogger(level, file string) (*zap.Logger, error) {
	if file == "" {
		return zap.NewNop(), nil
	}

	var zapLevel zapcore.Level
	switch strings.ToLower(level) {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(zapLevel)
	zc.OutputPaths = []string{file}
	zc.ErrorOutputPaths = []string{file}

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger, nil
}

func runReels(_ *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logger, err := buildLogger(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	feedPath, ids := viper.GetString("feed"), viper.GetString("ids")
	refs, err := collectRefs(args, feedPath, ids)
	if err != nil {
		return err
	}
	browseDir := ""
	if len(args) == 0 && feedPath == "" && ids == "" {
		browseDir = "."
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	col := metrics.New(reg)

	dl := ytdlp.NewDownloader(cfg.Backend.Binary, cfg.Backend.Dir, logger)
	cache := preload.New(dl, preload.Options{
		Capacity:    cfg.Cache.Capacity,
		Timeout:     cfg.Cache.PreloadTimeout,
		WarmTimeout: cfg.Cache.WarmTimeout,
		Logger:      logger,
		Metrics:     col,
	})
	defer cache.Close()

	g, gCtx := errgroup.WithContext(ctx)
	a := &app{
		ctx: gCtx,
		provider: ytdlp.New(cache, ytdlp.Options{
			Binary:        cfg.Backend.Binary,
			Logger:        logger,
			CreateTimeout: cfg.Cache.WarmTimeout,
		}),
		cache:   cache,
		titles:  dl,
		logger:  logger,
		metrics: col,
		carousel: carousel.Config{
			Radius:       cfg.Carousel.Radius,
			PreloadAhead: cfg.Carousel.PreloadAhead,
			Wrap:         cfg.Carousel.Wrap,
			MutedDefault: cfg.Carousel.Muted,
			ReadyTimeout: cfg.Carousel.ReadyTimeout,
			Autoplay:     cfg.Carousel.Autoplay,
		},
	}
	defer a.unmount()

	logger.Info("Starting reels",
		zap.Int("refs", len(refs)),
		zap.Int("radius", cfg.Carousel.Radius),
		zap.Int("preload_ahead", cfg.Carousel.PreloadAhead),
		zap.Int("cache_capacity", cfg.Cache.Capacity),
		zap.String("metrics_addr", cfg.Metrics.Addr))

	if cfg.Metrics.Addr != "" {
		srv := metrics.NewServer(cfg.Metrics.Addr, reg, logger)
		g.Go(func() error {
			return srv.Run(gCtx)
		})
	}

	program := tea.NewProgram(
		newStartupModel(a, refs, browseDir),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
		tea.WithContext(gCtx),
	)
	g.Go(func() error {
		// Leaving the UI stops everything else.
		defer cancel()
		_, err := program.Run()
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return err
	})

	if err := g.Wait(); err != nil {
		logger.Error("reels stopped with error", zap.Error(err))
		return err
	}
	logger.Info("reels stopped")
	return nil
}
