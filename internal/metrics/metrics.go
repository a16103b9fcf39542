// Package metrics exposes Prometheus collectors for the carousel, the
// preloading cache and player lifecycles, plus a small HTTP server for them.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Collector groups every metric the app records. A nil *Collector is valid
// and records nothing.
type Collector struct {
	PreloadsTotal     *prometheus.CounterVec
	EvictionsTotal    prometheus.Counter
	CacheEntries      prometheus.Gauge
	PlayerTransitions *prometheus.CounterVec
	IndexCommitsTotal prometheus.Counter
	ProviderErrors    *prometheus.CounterVec
	SettleDuration    prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		PreloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reels_preloads_total",
				Help: "Preload requests by outcome",
			},
			[]string{"outcome"},
		),
		EvictionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "reels_cache_evictions_total",
				Help: "Warm resources evicted from the preloading cache",
			},
		),
		CacheEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "reels_cache_entries",
				Help: "Warm resources currently held by the preloading cache",
			},
		),
		PlayerTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reels_player_transitions_total",
				Help: "Player lifecycle transitions by target state",
			},
			[]string{"state"},
		),
		IndexCommitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "reels_index_commits_total",
				Help: "Committed carousel index changes",
			},
		),
		ProviderErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reels_provider_errors_total",
				Help: "Failed or panicking calls into the embed provider",
			},
			[]string{"op"},
		),
		SettleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "reels_settle_duration_seconds",
				Help:    "Time from gesture release to settle completion",
				Buckets: []float64{0.05, 0.1, 0.2, 0.3, 0.5, 0.75, 1, 2},
			},
		),
	}

	reg.MustRegister(
		c.PreloadsTotal,
		c.EvictionsTotal,
		c.CacheEntries,
		c.PlayerTransitions,
		c.IndexCommitsTotal,
		c.ProviderErrors,
		c.SettleDuration,
	)
	return c
}

func (c *Collector) Preload(outcome string) {
	if c == nil {
		return
	}
	c.PreloadsTotal.WithLabelValues(outcome).Inc()
}

func (c *Collector) Evicted() {
	if c == nil {
		return
	}
	c.EvictionsTotal.Inc()
}

func (c *Collector) SetCacheEntries(n int) {
	if c == nil {
		return
	}
	c.CacheEntries.Set(float64(n))
}

func (c *Collector) Transition(state string) {
	if c == nil {
		return
	}
	c.PlayerTransitions.WithLabelValues(state).Inc()
}

func (c *Collector) IndexCommitted(settle time.Duration) {
	if c == nil {
		return
	}
	c.IndexCommitsTotal.Inc()
	if settle > 0 {
		c.SettleDuration.Observe(settle.Seconds())
	}
}

func (c *Collector) ProviderError(op string) {
	if c == nil {
		return
	}
	c.ProviderErrors.WithLabelValues(op).Inc()
}

// Server serves /metrics and /healthz.
type Server struct {
	logger *zap.Logger
	server *http.Server
}

// NewServer builds a metrics server listening on addr.
func NewServer(addr string, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		logger: logger,
		server: &http.Server{
			Addr:              addr,
			Handler:           Handler(gatherer),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handler returns the HTTP routes served by Server.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"reels"}`))
	})
	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting metrics server", zap.String("addr", s.server.Addr))
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("Metrics server stopped")
	return nil
}
