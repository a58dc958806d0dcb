package limiter

import (
	"fmt"
	"time"
)

const (
	burstWidth  = 10 * time.Second
	minuteWidth = time.Minute
	hourWidth   = time.Hour
	dayWidth    = 24 * time.Hour
)

func newStrategy(opts Options) (strategy, error) {
	if opts.RequestsPerMinute <= 0 {
		return nil, fmt.Errorf("requests per minute must be positive, got %d", opts.RequestsPerMinute)
	}
	if opts.BurstSize <= 0 {
		return nil, fmt.Errorf("burst size must be positive, got %d", opts.BurstSize)
	}

	switch opts.Strategy {
	case "", StrategySliding:
		return &slidingStrategy{perMinute: opts.RequestsPerMinute, burst: opts.BurstSize}, nil
	case StrategyTiered:
		if opts.RequestsPerHour <= 0 {
			return nil, fmt.Errorf("requests per hour must be positive, got %d", opts.RequestsPerHour)
		}
		if opts.RequestsPerDay <= 0 {
			return nil, fmt.Errorf("requests per day must be positive, got %d", opts.RequestsPerDay)
		}
		return &tieredStrategy{
			perMinute: opts.RequestsPerMinute,
			perHour:   opts.RequestsPerHour,
			perDay:    opts.RequestsPerDay,
		}, nil
	default:
		return nil, fmt.Errorf("unknown rate limit strategy %q", opts.Strategy)
	}
}

// slidingStrategy admits up to perMinute requests per rolling 60s and up to
// burst requests per rolling 10s. A violation blocks the client outright, with
// the block duration escalating by how far past the minute capacity the client
// has pushed.
type slidingStrategy struct {
	perMinute int
	burst     int
}

func (s *slidingStrategy) newClient() *client {
	return &client{
		windows: []window{
			{width: burstWidth, limit: s.burst},
			{width: minuteWidth, limit: s.perMinute},
		},
	}
}

func (s *slidingStrategy) admit(c *client, now time.Time) Decision {
	// An active block denies without touching window state.
	if c.blocked(now) {
		return Decision{
			Allowed:    false,
			Limit:      s.perMinute,
			RetryAfter: c.blockedUntil.Sub(now),
			Reset:      c.blockedUntil,
		}
	}
	c.blockedUntil = time.Time{}

	burst := &c.windows[0]
	minute := &c.windows[1]
	burst.purge(now)
	minute.purge(now)

	if minute.count() >= s.perMinute || burst.count() >= s.burst {
		d := s.blockDuration(minute.count())
		c.blockedUntil = now.Add(d)
		c.violations++
		return Decision{
			Allowed:    false,
			Limit:      s.perMinute,
			RetryAfter: d,
			Reset:      c.blockedUntil,
		}
	}

	burst.record(now)
	minute.record(now)

	remaining := min(s.perMinute-minute.count(), s.burst-burst.count())
	return Decision{
		Allowed:   true,
		Limit:     s.perMinute,
		Remaining: max(0, remaining),
		Reset:     now.Add(minuteWidth),
	}
}

// blockDuration escalates with the minute-window occupancy at violation time.
func (s *slidingStrategy) blockDuration(minuteCount int) time.Duration {
	switch {
	case minuteCount > s.perMinute*2:
		return 5 * time.Minute
	case float64(minuteCount) > float64(s.perMinute)*1.5:
		return 2 * time.Minute
	default:
		return time.Minute
	}
}
