package ingest

import (
	"context"
	"time"
)

// Sweep evicts idle sessions and expired debounce entries.
func (d *Dispatcher) Sweep(sessionTTL time.Duration) {
	sessions := d.sessions.Sweep(sessionTTL)
	entries := d.debouncer.Sweep()
	if sessions > 0 || entries > 0 {
		d.logger.Debug("ingest caches swept", "sessions", sessions, "debounce_entries", entries)
	}
}

// RunSweeper calls Sweep every interval until ctx is cancelled.
func (d *Dispatcher) RunSweeper(ctx context.Context, interval, sessionTTL time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Sweep(sessionTTL)
		}
	}
}
