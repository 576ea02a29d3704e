package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/whisper/sessiond/loadtest/client"
	"github.com/whisper/sessiond/loadtest/stats"
)

// runSessions runs clients concurrently against the session API. Each
// iteration writes and reads back a counter, and clients periodically
// regenerate or clear their session so the server's create, rotate and
// destroy paths see load alongside plain reads and writes.
func runSessions(ctx context.Context, args []string) *stats.Collector {
	fs := flag.NewFlagSet("sessions", flag.ExitOnError)
	baseURL := fs.String("url", "http://localhost:8080", "sessiond base URL")
	clients := fs.Int("clients", 100, "Number of concurrent clients")
	duration := fs.Duration("duration", 30*time.Second, "Test duration")
	regenerateEvery := fs.Int("regenerate-every", 20, "Regenerate the session every N iterations (0 disables)")
	clearEvery := fs.Int("clear-every", 50, "Clear the session every N iterations (0 disables)")
	metricsURL := fs.String("metrics", "", "Prometheus endpoint to scrape (e.g. http://localhost:8080/metrics)")
	fs.Parse(args)

	fmt.Printf("Sessions test: %d clients against %s for %s\n", *clients, *baseURL, *duration)

	ctx, cancel := context.WithTimeout(ctx, *duration)
	defer cancel()

	collector := newCollector(ctx, *metricsURL)

	var wg sync.WaitGroup
	for i := 0; i < *clients; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			c, err := client.New(*baseURL)
			if err != nil {
				collector.Fail(stats.OpStart)
				return
			}
			if !timed(ctx, collector, stats.OpStart, func() error {
				_, err := c.Session(ctx)
				return err
			}) {
				return
			}
			collector.AddClient()

			// Stagger clients so regenerate and clear do not line up.
			iter := rand.IntN(100)
			for ctx.Err() == nil {
				iter++
				timed(ctx, collector, stats.OpSet, func() error { return c.Set(ctx, "counter", iter) })
				timed(ctx, collector, stats.OpGet, func() error {
					v, found, err := c.Get(ctx, "counter")
					if err != nil {
						return err
					}
					if f, _ := v.(float64); !found || int(f) != iter {
						return fmt.Errorf("read back %v, wrote %d", v, iter)
					}
					return nil
				})

				switch {
				case *clearEvery > 0 && iter%*clearEvery == 0:
					timed(ctx, collector, stats.OpClear, func() error { return c.Clear(ctx) })
				case *regenerateEvery > 0 && iter%*regenerateEvery == 0:
					timed(ctx, collector, stats.OpRegenerate, func() error {
						_, err := c.Regenerate(ctx, n%2 == 0)
						return err
					})
				}
			}
		}(i)
	}

	wg.Wait()
	return collector
}
