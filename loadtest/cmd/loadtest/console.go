package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/whisper/sessiond/loadtest/client"
	"github.com/whisper/sessiond/loadtest/stats"
)

// runConsole holds one console connection per client and drives get/set
// round trips through it. Every client checks that it reads back what it
// wrote, so lost updates under the per-command start/commit cycle show up as
// get failures. Regenerating over HTTP while the console is open exercises
// the server's rebinding of live connections.
func runConsole(ctx context.Context, args []string) *stats.Collector {
	fs := flag.NewFlagSet("console", flag.ExitOnError)
	baseURL := fs.String("url", "http://localhost:8080", "sessiond base URL")
	clients := fs.Int("clients", 200, "Number of console connections")
	ramp := fs.Duration("ramp", 5*time.Second, "Spread connection attempts over this duration")
	duration := fs.Duration("duration", 30*time.Second, "Test duration after ramp-up")
	regenerateEvery := fs.Int("regenerate-every", 25, "Regenerate over HTTP every N iterations (0 disables)")
	metricsURL := fs.String("metrics", "", "Prometheus endpoint to scrape (e.g. http://localhost:8080/metrics)")
	fs.Parse(args)

	fmt.Printf("Console test: %d clients against %s (ramp=%s, duration=%s)\n",
		*clients, *baseURL, *ramp, *duration)

	ctx, cancel := context.WithTimeout(ctx, *ramp+*duration)
	defer cancel()

	collector := newCollector(ctx, *metricsURL)

	var wg sync.WaitGroup
	for i := 0; i < *clients; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			delay := *ramp * time.Duration(n) / time.Duration(*clients)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			consoleClient(ctx, collector, *baseURL, *regenerateEvery, n)
		}(i)
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ticker.C:
				fmt.Fprintf(os.Stderr, "  clients: %d  errors: %d\n", collector.Clients(), collector.Errors())
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Wait()
	return collector
}

func consoleClient(ctx context.Context, collector *stats.Collector, baseURL string, regenerateEvery, n int) {
	c, err := client.New(baseURL)
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

	if !timed(ctx, collector, stats.OpConsoleDial, func() error { return c.DialConsole(ctx) }) {
		return
	}
	defer c.Close()

	expired := make(chan struct{})
	go func() {
		for ev := range c.Events() {
			switch ev.Type {
			case client.TypeSessionID:
				collector.AddRebind()
			case client.TypeSessionExpired:
				collector.AddExpired()
				close(expired)
				return
			}
		}
	}()

	key := fmt.Sprintf("counter-%d", n)
	for iter := 1; ctx.Err() == nil; iter++ {
		select {
		case <-expired:
			return
		default:
		}

		timed(ctx, collector, stats.OpSet, func() error {
			_, err := c.Command(ctx, client.TypeSet, map[string]any{"key": key, "value": iter})
			return err
		})
		timed(ctx, collector, stats.OpGet, func() error {
			r, err := c.Command(ctx, client.TypeGet, map[string]any{"key": key})
			if err != nil {
				return err
			}
			var v struct {
				Value float64 `json:"value"`
				Found bool    `json:"found"`
			}
			if err := r.Decode(&v); err != nil {
				return err
			}
			if !v.Found || int(v.Value) != iter {
				return fmt.Errorf("read back %v (found=%v), wrote %d", v.Value, v.Found, iter)
			}
			return nil
		})
		timed(ctx, collector, stats.OpHas, func() error {
			_, err := c.Command(ctx, client.TypeHas, map[string]any{"key": key})
			return err
		})

		if regenerateEvery > 0 && iter%regenerateEvery == 0 {
			timed(ctx, collector, stats.OpRegenerate, func() error {
				_, err := c.Regenerate(ctx, true)
				return err
			})
		}
	}
	timed(context.Background(), collector, stats.OpPull, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := c.Command(ctx, client.TypePull, map[string]any{"key": key})
		return err
	})
}
