package store

import (
	"context"
	"log"
	"time"

	"github.com/whisper/sessiond/internal/metrics"
)

// DefaultGCInterval is used when StartGC is given a non-positive interval.
const DefaultGCInterval = 10 * time.Minute

// StartGC runs c.GC every interval until ctx is cancelled. It blocks, so
// callers normally run it in its own goroutine.
func StartGC(ctx context.Context, c Collector, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultGCInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[gc] loop stopped")
			return
		case <-ticker.C:
			RunGC(ctx, c)
		}
	}
}

// RunGC performs a single collection pass and records its outcome.
func RunGC(ctx context.Context, c Collector) (int, error) {
	removed, err := c.GC(ctx, time.Now())
	if err != nil {
		log.Printf("[gc] collection failed: %v", err)
		return 0, err
	}
	metrics.GCRemoved.Add(float64(removed))
	if removed > 0 {
		log.Printf("[gc] removed %d expired session(s)", removed)
	}
	return removed, nil
}
