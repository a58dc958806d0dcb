// Package limiter implements the request admission controller: per-client
// sliding-window rate limiting with burst protection and escalating blocks,
// or an alternative multi-tier quota strategy, selected by configuration.
//
// The controller keeps all state in process memory. Decisions are made under
// a single mutex in a short, I/O-free critical section; it never returns an
// error, only an allow/deny Decision.
package limiter

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Strategy names accepted by New.
const (
	StrategySliding = "sliding"
	StrategyTiered  = "tiered"
)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	Limit      int           // per-minute capacity, for the X-RateLimit-Limit header
	Remaining  int           // tightest remaining capacity after this request
	RetryAfter time.Duration // how long the caller must wait; zero when allowed
	Reset      time.Time     // when the governing window rolls over
	Tiers      []TierUsage   // per-tier usage; populated by the tiered strategy
}

// TierUsage reports one tier's capacity for per-tier response headers.
type TierUsage struct {
	Name      string // "minute", "hour", "day"
	Limit     int
	Remaining int
}

// window is one tracked granularity: an ordered sequence of admitted-request
// timestamps no older than width.
type window struct {
	width  time.Duration
	limit  int
	events []time.Time
}

// purge drops events that have aged out of the window. Events are appended in
// order, so everything before the first survivor can go in one cut. The
// backing array is reused.
func (w *window) purge(now time.Time) {
	kept := w.events[:0]
	for _, ts := range w.events {
		if now.Sub(ts) < w.width {
			kept = append(kept, ts)
		}
	}
	w.events = kept
}

func (w *window) count() int { return len(w.events) }

func (w *window) record(now time.Time) { w.events = append(w.events, now) }

// next returns the instant the oldest event leaves the window.
func (w *window) next(now time.Time) time.Time {
	if len(w.events) == 0 {
		return now
	}
	return w.events[0].Add(w.width)
}

// client is the per-ClientKey admission state.
type client struct {
	windows      []window
	blockedUntil time.Time // zero when not blocked
	violations   int
	lastSeen     time.Time
}

func (c *client) blocked(now time.Time) bool {
	return !c.blockedUntil.IsZero() && now.Before(c.blockedUntil)
}

// strategy decides admission for one client. Implementations mutate the
// client's windows and block state; the Limiter holds the lock.
type strategy interface {
	newClient() *client
	admit(c *client, now time.Time) Decision
}

// Options configures a Limiter.
type Options struct {
	Strategy          string // StrategySliding (default) or StrategyTiered
	RequestsPerMinute int
	BurstSize         int
	RequestsPerHour   int // tiered only
	RequestsPerDay    int // tiered only
	Logger            *slog.Logger
}

// Limiter is the process-wide admission controller. Client state is created
// lazily on first request and evicted by the janitor once idle.
type Limiter struct {
	mu       sync.Mutex
	clients  map[ClientKey]*client
	strategy strategy
	logger   *slog.Logger
}

// New builds a Limiter from opts. The capacity fields must be positive for
// the selected strategy; anything else is a startup error, never defaulted.
func New(opts Options) (*Limiter, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "limiter")

	s, err := newStrategy(opts)
	if err != nil {
		return nil, err
	}
	return &Limiter{
		clients:  make(map[ClientKey]*client),
		strategy: s,
		logger:   logger,
	}, nil
}

// Admit decides whether the caller identified by key may proceed right now.
func (l *Limiter) Admit(key ClientKey) Decision {
	return l.admitAt(key, time.Now())
}

func (l *Limiter) admitAt(key ClientKey, now time.Time) Decision {
	l.mu.Lock()
	c, ok := l.clients[key]
	if !ok {
		c = l.strategy.newClient()
		l.clients[key] = c
	}
	c.lastSeen = now
	wasBlocked := c.blocked(now)
	d := l.strategy.admit(c, now)
	violations := c.violations
	l.mu.Unlock()

	if !d.Allowed && !wasBlocked {
		// First denial of a new violation; subsequent denials inside the
		// block window only log at debug.
		l.logger.Warn("rate limit exceeded",
			"key", string(key),
			"retry_after", d.RetryAfter,
			"violations", violations)
	} else if !d.Allowed {
		l.logger.Debug("request denied while blocked", "key", string(key), "retry_after", d.RetryAfter)
	}
	return d
}

// Stats is a point-in-time summary of limiter occupancy.
type Stats struct {
	TrackedClients int `json:"tracked_clients"`
	BlockedClients int `json:"blocked_clients"`
}

// Snapshot reports current arena occupancy. Best effort: the numbers may be
// stale by the time the caller reads them.
func (l *Limiter) Snapshot() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	st := Stats{TrackedClients: len(l.clients)}
	for _, c := range l.clients {
		if c.blocked(now) {
			st.BlockedClients++
		}
	}
	return st
}

// Cleanup evicts clients idle for at least maxIdle. Clients serving an active
// block are kept so a block cannot be shed by going quiet. Returns the number
// of evicted entries.
func (l *Limiter) Cleanup(maxIdle time.Duration) int {
	return l.cleanupAt(time.Now(), maxIdle)
}

func (l *Limiter) cleanupAt(now time.Time, maxIdle time.Duration) int {
	if maxIdle <= 0 {
		return 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, c := range l.clients {
		if now.Sub(c.lastSeen) < maxIdle {
			continue
		}
		if c.blocked(now) {
			continue
		}
		delete(l.clients, key)
		removed++
	}
	return removed
}

// StartJanitor periodically evicts idle client state until ctx is done.
// A non-positive maxIdle disables eviction and the janitor does not start.
func (l *Limiter) StartJanitor(ctx context.Context, interval, maxIdle time.Duration) {
	if maxIdle <= 0 || interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := l.Cleanup(maxIdle); n > 0 {
					l.logger.Debug("evicted idle limiter state", "count", n)
				}
			}
		}
	}()
}
