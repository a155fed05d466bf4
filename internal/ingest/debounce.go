package ingest

import (
	"sync"
	"time"

	"github.com/nerrad567/fieldlink-core/internal/telemetry"
)

// DefaultDebounceWindow is the minimum spacing between two identical power logs.
const DefaultDebounceWindow = time.Second

type debounceKey struct {
	clientID string
	entity   string
}

type debounceEntry struct {
	power telemetry.Power
	at    time.Time
}

// PowerDebouncer suppresses repeated identical power logs within a window.
//
// It only guards against write amplification. The cache lives in memory, so
// one duplicate can slip through across a restart.
type PowerDebouncer struct {
	mu     sync.Mutex
	window time.Duration
	last   map[debounceKey]debounceEntry
	now    func() time.Time
}

// NewPowerDebouncer creates a debouncer. A non-positive window uses
// DefaultDebounceWindow.
func NewPowerDebouncer(window time.Duration) *PowerDebouncer {
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	return &PowerDebouncer{
		window: window,
		last:   make(map[debounceKey]debounceEntry),
		now:    time.Now,
	}
}

// ShouldLog reports whether a power log for (clientID, entity, power) should
// be written, and records it as the latest when it should.
func (d *PowerDebouncer) ShouldLog(clientID, entity string, power telemetry.Power) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := debounceKey{clientID: clientID, entity: entity}
	now := d.now()
	if prev, ok := d.last[key]; ok && prev.power == power && now.Sub(prev.at) < d.window {
		return false
	}
	d.last[key] = debounceEntry{power: power, at: now}
	return true
}

// Sweep drops entries older than the window and returns how many were removed.
func (d *PowerDebouncer) Sweep() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := d.now().Add(-d.window)
	removed := 0
	for k, e := range d.last {
		if e.at.Before(cutoff) {
			delete(d.last, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of cached keys.
func (d *PowerDebouncer) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.last)
}
