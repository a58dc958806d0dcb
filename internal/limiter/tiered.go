package limiter

import "time"

// tieredStrategy tracks independent minute/hour/day windows, each with a fixed
// capacity. A request is denied when any tier is at capacity. There is no
// escalating block: the caller waits for natural window rollover, and
// RetryAfter reports how long that takes.
type tieredStrategy struct {
	perMinute int
	perHour   int
	perDay    int
}

func (s *tieredStrategy) newClient() *client {
	return &client{
		windows: []window{
			{width: minuteWidth, limit: s.perMinute},
			{width: hourWidth, limit: s.perHour},
			{width: dayWidth, limit: s.perDay},
		},
	}
}

var tierNames = [...]string{"minute", "hour", "day"}

func (s *tieredStrategy) admit(c *client, now time.Time) Decision {
	for i := range c.windows {
		c.windows[i].purge(now)
	}

	// Find the latest rollover among exhausted tiers; all of them must have
	// headroom before the next request can pass.
	var wait time.Time
	exhausted := false
	for i := range c.windows {
		w := &c.windows[i]
		if w.count() >= w.limit {
			exhausted = true
			if t := w.next(now); t.After(wait) {
				wait = t
			}
		}
	}

	if exhausted {
		c.violations++
		d := Decision{
			Allowed:    false,
			Limit:      s.perMinute,
			RetryAfter: wait.Sub(now),
			Reset:      wait,
		}
		d.Tiers = s.usage(c)
		return d
	}

	for i := range c.windows {
		c.windows[i].record(now)
	}

	d := Decision{
		Allowed: true,
		Limit:   s.perMinute,
		Reset:   now.Add(minuteWidth),
	}
	d.Tiers = s.usage(c)
	d.Remaining = d.Tiers[0].Remaining
	for _, t := range d.Tiers[1:] {
		if t.Remaining < d.Remaining {
			d.Remaining = t.Remaining
		}
	}
	return d
}

func (s *tieredStrategy) usage(c *client) []TierUsage {
	tiers := make([]TierUsage, len(c.windows))
	for i := range c.windows {
		w := &c.windows[i]
		tiers[i] = TierUsage{
			Name:      tierNames[i],
			Limit:     w.limit,
			Remaining: max(0, w.limit-w.count()),
		}
	}
	return tiers
}
