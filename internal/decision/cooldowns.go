package decision

import (
	"sync"
	"time"
)

// CooldownKey builds the tracker key for a decision type, optionally scoped
// to one asset (OPEN_HEDGE_SOL).
func CooldownKey(t Type, asset string) string {
	if asset == "" {
		return string(t)
	}
	return string(t) + "_" + asset
}

// CooldownTracker remembers when each decision kind last ran so rules do not
// refire inside their window. Live and dry-run executions are tracked
// separately; a dry run blocks re-simulation for the shorter dry window
// while a live execution blocks for the full per-kind window.
//
// The tracker is shared across cycles and admin commands; all access is
// mutex-guarded.
type CooldownTracker struct {
	mu        sync.Mutex
	live      map[string]time.Time
	dry       map[string]time.Time
	dryWindow time.Duration
	now       func() time.Time
}

// NewCooldownTracker creates a tracker with the given dry-run window.
func NewCooldownTracker(dryWindow time.Duration) *CooldownTracker {
	return &CooldownTracker{
		live:      make(map[string]time.Time),
		dry:       make(map[string]time.Time),
		dryWindow: dryWindow,
		now:       time.Now,
	}
}

// Ready reports whether the key is outside both its live window and the
// dry-run window. A key becomes ready strictly after mark time + window.
func (c *CooldownTracker) Ready(key string, window time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if at, ok := c.live[key]; ok && !now.After(at.Add(window)) {
		return false
	}
	if at, ok := c.dry[key]; ok && !now.After(at.Add(c.dryWindow)) {
		return false
	}
	return true
}

// Mark records a live execution for the key.
func (c *CooldownTracker) Mark(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.live[key] = c.now()
}

// MarkDryRun records a simulated execution for the key.
func (c *CooldownTracker) MarkDryRun(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dry[key] = c.now()
}

// Seed backfills a live mark, used to restore cooldowns from the decision
// log after a restart.
func (c *CooldownTracker) Seed(key string, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.live[key]; !ok || at.After(existing) {
		c.live[key] = at
	}
}

// Snapshot returns a copy of the live marks for the status report.
func (c *CooldownTracker) Snapshot() map[string]time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]time.Time, len(c.live))
	for k, v := range c.live {
		out[k] = v
	}
	return out
}

// DiversityTracker penalises pools picked recently so the LP rule rotates
// capital instead of re-entering the same pool every cycle.
type DiversityTracker struct {
	mu     sync.Mutex
	picked map[string]time.Time
	window time.Duration
	now    func() time.Time
}

// NewDiversityTracker creates a tracker with the given rotation window.
func NewDiversityTracker(window time.Duration) *DiversityTracker {
	return &DiversityTracker{
		picked: make(map[string]time.Time),
		window: window,
		now:    time.Now,
	}
}

// MarkPicked records that a pool was selected.
func (d *DiversityTracker) MarkPicked(poolAddress string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.picked[poolAddress] = d.now()
}

// Penalty returns the score penalty for a pool, linearly decaying from 1.0
// at pick time to 0 at the end of the rotation window.
func (d *DiversityTracker) Penalty(poolAddress string) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	at, ok := d.picked[poolAddress]
	if !ok {
		return 0
	}
	elapsed := d.now().Sub(at)
	if elapsed >= d.window {
		delete(d.picked, poolAddress)
		return 0
	}
	return 1 - float64(elapsed)/float64(d.window)
}
