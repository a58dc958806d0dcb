package limiter

import (
	"testing"
	"time"
)

func newTiered(t *testing.T, perMinute, perHour, perDay int) *Limiter {
	t.Helper()
	l, err := New(Options{
		Strategy:          StrategyTiered,
		RequestsPerMinute: perMinute,
		BurstSize:         1, // unused by the tiered strategy but still validated
		RequestsPerHour:   perHour,
		RequestsPerDay:    perDay,
		Logger:            testLogger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l
}

func TestTieredMinuteTierDeniesAndRollsOver(t *testing.T) {
	l := newTiered(t, 3, 100, 1000)
	base := time.Now()
	key := UserKey("u1")

	for i := 0; i < 3; i++ {
		d := l.admitAt(key, base.Add(time.Duration(i)*time.Second))
		if !d.Allowed {
			t.Fatalf("request %d: denied, want allowed", i+1)
		}
	}

	d := l.admitAt(key, base.Add(3*time.Second))
	if d.Allowed {
		t.Fatal("4th request: allowed, want minute tier exhaustion")
	}
	// The oldest event leaves the minute window at base+60s.
	if got, want := d.RetryAfter, 57*time.Second; got != want {
		t.Errorf("RetryAfter: got %v, want %v", got, want)
	}

	// No explicit block: once the window rolls over, requests pass again
	// without waiting out a penalty.
	d = l.admitAt(key, base.Add(61*time.Second))
	if !d.Allowed {
		t.Fatalf("request after rollover: denied (RetryAfter %v)", d.RetryAfter)
	}

	l.mu.Lock()
	blocked := !l.clients[key].blockedUntil.IsZero()
	l.mu.Unlock()
	if blocked {
		t.Error("tiered strategy set blockedUntil, want natural rollover only")
	}
}

func TestTieredHourTierBinds(t *testing.T) {
	l := newTiered(t, 100, 3, 1000)
	base := time.Now()
	key := UserKey("u1")

	for i := 0; i < 3; i++ {
		l.admitAt(key, base.Add(time.Duration(i)*time.Second))
	}

	d := l.admitAt(key, base.Add(3*time.Second))
	if d.Allowed {
		t.Fatal("4th request: allowed, want hour tier exhaustion")
	}
	// Waiting out the minute tier is not enough; the hour tier governs.
	if got, want := d.RetryAfter, time.Hour-3*time.Second; got != want {
		t.Errorf("RetryAfter: got %v, want %v", got, want)
	}
}

func TestTieredRemainingIsTightestTier(t *testing.T) {
	l := newTiered(t, 10, 3, 1000)
	base := time.Now()
	key := UserKey("u1")

	want := []int{2, 1, 0}
	for i := 0; i < 3; i++ {
		d := l.admitAt(key, base.Add(time.Duration(i)*time.Second))
		if !d.Allowed {
			t.Fatalf("request %d: denied", i+1)
		}
		if d.Remaining != want[i] {
			t.Errorf("request %d Remaining: got %d, want %d", i+1, d.Remaining, want[i])
		}
	}
}

func TestTieredReportsPerTierUsage(t *testing.T) {
	l := newTiered(t, 60, 1000, 10000)
	base := time.Now()

	d := l.admitAt(UserKey("u1"), base)
	if len(d.Tiers) != 3 {
		t.Fatalf("Tiers: got %d entries, want 3", len(d.Tiers))
	}

	wantNames := []string{"minute", "hour", "day"}
	wantLimits := []int{60, 1000, 10000}
	for i, tier := range d.Tiers {
		if tier.Name != wantNames[i] {
			t.Errorf("tier %d name: got %q, want %q", i, tier.Name, wantNames[i])
		}
		if tier.Limit != wantLimits[i] {
			t.Errorf("tier %d limit: got %d, want %d", i, tier.Limit, wantLimits[i])
		}
		if tier.Remaining != wantLimits[i]-1 {
			t.Errorf("tier %d remaining: got %d, want %d", i, tier.Remaining, wantLimits[i]-1)
		}
	}
}

func TestTieredDenialDoesNotConsumeQuota(t *testing.T) {
	l := newTiered(t, 2, 100, 1000)
	base := time.Now()
	key := UserKey("u1")

	l.admitAt(key, base)
	l.admitAt(key, base.Add(time.Second))

	// Hammering while exhausted must not extend the wait.
	first := l.admitAt(key, base.Add(2*time.Second))
	if first.Allowed {
		t.Fatal("3rd request: allowed, want denied")
	}
	later := l.admitAt(key, base.Add(10*time.Second))
	if later.Allowed {
		t.Fatal("4th request: allowed, want denied")
	}
	if later.RetryAfter >= first.RetryAfter {
		t.Errorf("RetryAfter did not shrink while denied: first %v, later %v", first.RetryAfter, later.RetryAfter)
	}

	l.mu.Lock()
	count := l.clients[key].windows[0].count()
	l.mu.Unlock()
	if count != 2 {
		t.Errorf("minute window occupancy after denials: got %d, want 2", count)
	}
}
