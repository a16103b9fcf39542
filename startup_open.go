package main

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/olivier-w/reels/internal/carousel"
	"github.com/olivier-w/reels/internal/feed"
	"github.com/olivier-w/reels/internal/metrics"
	"github.com/olivier-w/reels/internal/preload"
	"github.com/olivier-w/reels/internal/provider"
	"github.com/olivier-w/reels/internal/ui"
)

// app holds what every carousel of the process shares.
type app struct {
	ctx      context.Context
	provider provider.Provider
	cache    *preload.Cache
	titles   ui.Titles
	logger   *zap.Logger
	metrics  *metrics.Collector
	carousel carousel.Config

	mu      sync.Mutex
	current *carousel.Controller
}

// open resolves refs, loads the player backend and builds the carousel
// screen. It runs off the UI loop.
func (a *app) open(refs []string) (ui.Model, error) {
	items, err := feed.Build(refs)
	if err != nil {
		return ui.Model{}, err
	}
	if err := a.provider.Load(a.ctx); err != nil {
		return ui.Model{}, fmt.Errorf("loading player backend: %w", err)
	}

	c := carousel.New(items, carousel.Deps{
		Provider: a.provider,
		Cache:    a.cache,
		Logger:   a.logger,
		Metrics:  a.metrics,
	}, a.carousel)

	a.mu.Lock()
	a.current = c
	a.mu.Unlock()

	a.logger.Info("Feed opened", zap.Int("refs", len(refs)), zap.Int("items", len(items)))
	return ui.New(c, a.titles), nil
}

// unmount releases the carousel once the program has stopped.
func (a *app) unmount() {
	a.mu.Lock()
	c := a.current
	a.current = nil
	a.mu.Unlock()
	if c != nil {
		c.Unmount()
	}
}

// collectRefs gathers references from arguments, a feed file and an id
// list, in that order.
func collectRefs(args []string, feedPath, ids string) ([]string, error) {
	refs := append([]string(nil), args...)
	if feedPath != "" {
		fromFile, err := feed.ReadFile(feedPath)
		if err != nil {
			return nil, err
		}
		refs = append(refs, fromFile...)
	}
	return append(refs, feed.SplitParam(ids)...), nil
}
