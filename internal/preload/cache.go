// Package preload keeps a bounded set of warm media resources so upcoming
// carousel items can start without stalling.
package preload

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/olivier-w/reels/internal/mediaid"
	"github.com/olivier-w/reels/internal/metrics"
)

const (
	DefaultCapacity    = 8
	DefaultTimeout     = 8 * time.Second
	DefaultWarmTimeout = 2 * time.Minute
)

// ErrCleared is returned for warms whose result arrived after Clear or Close.
var ErrCleared = errors.New("preload cache cleared")

// Resource is a warm, playable media resource held by the cache.
type Resource interface {
	Release()
}

// Warmer loads the resource for a key. It must honor ctx cancellation.
type Warmer interface {
	Warm(ctx context.Context, key mediaid.ID) (Resource, error)
}

// WarmerFunc adapts a function to Warmer.
type WarmerFunc func(ctx context.Context, key mediaid.ID) (Resource, error)

func (f WarmerFunc) Warm(ctx context.Context, key mediaid.ID) (Resource, error) {
	return f(ctx, key)
}

// Outcome reports how a Preload call ended. Preload never fails the caller;
// a non-warm outcome only means the item may show a loading state.
type Outcome int

const (
	Warm Outcome = iota
	Timeout
	Failed
	Cancelled
)

func (o Outcome) String() string {
	switch o {
	case Warm:
		return "warm"
	case Timeout:
		return "timeout"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Options configures a Cache. Zero values select the defaults.
type Options struct {
	Capacity    int
	Timeout     time.Duration // how long Preload waits for a warm
	WarmTimeout time.Duration // hard limit for a single warm operation
	Logger      *zap.Logger
	Metrics     *metrics.Collector
	Now         func() time.Time
}

type entry struct {
	resource      Resource
	lastTouchedAt time.Time
}

// Cache is a bounded key to resource map with least-recently-touched
// eviction. It is safe for concurrent use and meant to be shared by every
// carousel in the process.
type Cache struct {
	warmer      Warmer
	capacity    int
	timeout     time.Duration
	warmTimeout time.Duration
	logger      *zap.Logger
	metrics     *metrics.Collector
	now         func() time.Time
	group       singleflight.Group

	mu      sync.Mutex
	entries *simplelru.LRU[mediaid.ID, *entry]
	pins    map[mediaid.ID]int
	gen     uint64
	ctx     context.Context
	cancel  context.CancelFunc
	closed  bool
	wg      sync.WaitGroup
}

// New creates a cache that warms resources with w.
func New(w Warmer, opts Options) *Cache {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.WarmTimeout <= 0 {
		opts.WarmTimeout = DefaultWarmTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	// One slot of headroom: the cache evicts by its own policy right after
	// every insert, so the LRU never evicts on its own.
	entries, err := simplelru.NewLRU[mediaid.ID, *entry](opts.Capacity+1, nil)
	if err != nil {
		panic(fmt.Sprintf("preload: creating LRU: %v", err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Cache{
		warmer:      w,
		capacity:    opts.Capacity,
		timeout:     opts.Timeout,
		warmTimeout: opts.WarmTimeout,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		now:         opts.Now,
		entries:     entries,
		pins:        make(map[mediaid.ID]int),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Capacity returns the maximum number of warm entries.
func (c *Cache) Capacity() int { return c.capacity }

// Len returns the number of warm entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// Keys lists warm keys from least to most recently touched.
func (c *Cache) Keys() []mediaid.ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Keys()
}

// Preload warms key, sharing one in-flight warm between concurrent callers.
// It returns once the resource is warm, the warm fails, ctx is done, or the
// fixed timeout passes. A timed-out warm keeps running and its result is
// cached for later reuse.
func (c *Cache) Preload(ctx context.Context, key mediaid.ID) Outcome {
	if c.touchIfWarm(key) {
		c.metrics.Preload("hit")
		return Warm
	}

	ch := c.flight(key)
	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	var outcome Outcome
	select {
	case res := <-ch:
		outcome = Warm
		if res.Err != nil {
			outcome = Failed
			c.logger.Debug("Preload failed", zap.String("key", string(key)), zap.Error(res.Err))
		}
	case <-timer.C:
		outcome = Timeout
		c.logger.Debug("Preload timed out, leaving warm in flight",
			zap.String("key", string(key)), zap.Duration("timeout", c.timeout))
	case <-ctx.Done():
		outcome = Cancelled
	}
	c.metrics.Preload(outcome.String())
	return outcome
}

// Acquire returns the warm resource for key, starting or joining a warm if
// needed and waiting for it as long as ctx allows. The key stays pinned while
// Acquire waits so the fresh entry cannot be evicted before it is returned.
func (c *Cache) Acquire(ctx context.Context, key mediaid.ID) (Resource, error) {
	c.Pin(key)
	defer c.Unpin(key)

	if res, ok := c.Get(key); ok {
		return res, nil
	}

	select {
	case r := <-c.flight(key):
		if r.Err != nil {
			return nil, r.Err
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	res, ok := c.Get(key)
	if !ok {
		return nil, fmt.Errorf("preload %s: %w", key, ErrCleared)
	}
	return res, nil
}

// IsWarm reports whether key holds a warm entry. It does not touch the entry.
func (c *Cache) IsWarm(key mediaid.ID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Contains(key)
}

// Touch refreshes the recency of key without loading anything.
func (c *Cache) Touch(key mediaid.ID) {
	c.touchIfWarm(key)
}

// Get returns the warm resource for key and refreshes its recency.
func (c *Cache) Get(key mediaid.ID) (Resource, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries.Get(key)
	if !ok {
		return nil, false
	}
	e.lastTouchedAt = c.now()
	return e.resource, true
}

// LastTouched returns when key was last touched.
func (c *Cache) LastTouched(key mediaid.ID) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries.Peek(key)
	if !ok {
		return time.Time{}, false
	}
	return e.lastTouchedAt, true
}

// Pin marks key as active. Pinned entries are evicted only when no unpinned
// entry is left. Pins are reference counted.
func (c *Cache) Pin(key mediaid.ID) {
	c.mu.Lock()
	c.pins[key]++
	c.mu.Unlock()
}

// Unpin releases one Pin of key.
func (c *Cache) Unpin(key mediaid.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pins[key] <= 1 {
		delete(c.pins, key)
		return
	}
	c.pins[key]--
}

// Clear releases every entry and cancels warms in flight. Warms that still
// complete afterwards release their result instead of inserting it.
func (c *Cache) Clear() {
	c.mu.Lock()
	released := c.resetLocked()
	if !c.closed {
		c.ctx, c.cancel = context.WithCancel(context.Background())
	}
	c.mu.Unlock()

	for _, r := range released {
		r.Release()
	}
	c.metrics.SetCacheEntries(0)
	c.logger.Debug("Preload cache cleared", zap.Int("released", len(released)))
}

// Close clears the cache, refuses new warms and waits for warms in flight.
func (c *Cache) Close() {
	c.mu.Lock()
	c.closed = true
	released := c.resetLocked()
	c.mu.Unlock()

	for _, r := range released {
		r.Release()
	}
	c.wg.Wait()
	c.metrics.SetCacheEntries(0)
}

func (c *Cache) resetLocked() []Resource {
	c.gen++
	c.cancel()
	released := make([]Resource, 0, c.entries.Len())
	for _, e := range c.entries.Values() {
		released = append(released, e.resource)
	}
	c.entries.Purge()
	return released
}

func (c *Cache) touchIfWarm(key mediaid.ID) bool {
	_, ok := c.Get(key)
	return ok
}

func (c *Cache) flight(key mediaid.ID) <-chan singleflight.Result {
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()

	flightKey := strconv.FormatUint(gen, 10) + ":" + string(key)
	return c.group.DoChan(flightKey, func() (any, error) {
		return nil, c.run(key, gen)
	})
}

func (c *Cache) run(key mediaid.ID, gen uint64) (err error) {
	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		return ErrCleared
	}
	parent := c.ctx
	c.wg.Add(1)
	c.mu.Unlock()
	defer c.wg.Done()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("warming %s: panic: %v", key, r)
			c.logger.Warn("Warmer panicked", zap.String("key", string(key)), zap.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(parent, c.warmTimeout)
	defer cancel()

	start := c.now()
	res, err := c.warmer.Warm(ctx, key)
	if err != nil {
		return fmt.Errorf("warming %s: %w", key, err)
	}
	if res == nil {
		return fmt.Errorf("warming %s: no resource", key)
	}
	if !c.insert(key, gen, res) {
		res.Release()
		return ErrCleared
	}
	c.logger.Debug("Resource warm", zap.String("key", string(key)), zap.Duration("took", c.now().Sub(start)))
	return nil
}

// insert stores a freshly warmed resource and evicts down to capacity.
func (c *Cache) insert(key mediaid.ID, gen uint64, res Resource) bool {
	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		return false
	}

	var victims []Resource
	if e, ok := c.entries.Get(key); ok {
		// A concurrent flight already warmed key; keep the existing entry.
		e.lastTouchedAt = c.now()
		victims = append(victims, res)
	} else {
		c.entries.Add(key, &entry{resource: res, lastTouchedAt: c.now()})
		victims = append(victims, c.evictLocked()...)
	}
	n := c.entries.Len()
	c.mu.Unlock()

	for _, v := range victims {
		v.Release()
	}
	c.metrics.SetCacheEntries(n)
	return true
}

// evictLocked removes least recently touched entries until the cache fits
// its capacity, skipping pinned entries while any unpinned one remains.
func (c *Cache) evictLocked() []Resource {
	var victims []Resource
	for c.entries.Len() > c.capacity {
		key, ok := c.victimLocked()
		if !ok {
			break
		}
		e, _ := c.entries.Peek(key)
		c.entries.Remove(key)
		victims = append(victims, e.resource)
		c.metrics.Evicted()
		c.logger.Debug("Evicted warm resource", zap.String("key", string(key)))
	}
	return victims
}

func (c *Cache) victimLocked() (mediaid.ID, bool) {
	for _, key := range c.entries.Keys() {
		if c.pins[key] == 0 {
			return key, true
		}
	}
	key, _, ok := c.entries.GetOldest()
	return key, ok
}
