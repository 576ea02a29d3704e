// Package stats aggregates what simulated sessiond clients observe during a
// load test. Latencies and failures are kept per session operation so the
// report shows, for example, how regenerate compares with a plain get.
package stats

import (
	"fmt"
	"io"
	"math"
	"slices"
	"sync"
	"text/tabwriter"
	"time"
)

// Operation names recorded by the scenarios.
const (
	OpStart       = "start"
	OpSet         = "set"
	OpGet         = "get"
	OpHas         = "has"
	OpPull        = "pull"
	OpRegenerate  = "regenerate"
	OpClear       = "clear"
	OpConsoleDial = "console_dial"
)

type opStats struct {
	latencies []time.Duration
	errors    int
}

// Collector is safe for concurrent use by many client goroutines.
type Collector struct {
	mu        sync.Mutex
	ops       map[string]*opStats
	clients   int
	expired   int
	rebinds   int
	startTime time.Time
	scraper   *Scraper
}

// NewCollector returns an empty Collector whose clock starts now.
func NewCollector() *Collector {
	return &Collector{ops: make(map[string]*opStats), startTime: time.Now()}
}

// SetScraper attaches server-side metrics to the report.
func (c *Collector) SetScraper(s *Scraper) {
	c.mu.Lock()
	c.scraper = s
	c.mu.Unlock()
}

// StopScraper takes the final server sample, if a scraper is attached.
func (c *Collector) StopScraper() {
	c.mu.Lock()
	s := c.scraper
	c.mu.Unlock()
	if s != nil {
		s.Stop()
	}
}

func (c *Collector) op(name string) *opStats {
	s, ok := c.ops[name]
	if !ok {
		s = &opStats{}
		c.ops[name] = s
	}
	return s
}

// Observe records a successful op that took d.
func (c *Collector) Observe(op string, d time.Duration) {
	c.mu.Lock()
	s := c.op(op)
	s.latencies = append(s.latencies, d)
	c.mu.Unlock()
}

// Fail records a failed op.
func (c *Collector) Fail(op string) {
	c.mu.Lock()
	c.op(op).errors++
	c.mu.Unlock()
}

// AddClient counts a client that obtained a session.
func (c *Collector) AddClient() {
	c.mu.Lock()
	c.clients++
	c.mu.Unlock()
}

// AddExpired counts a console connection the server closed because its
// session was destroyed.
func (c *Collector) AddExpired() {
	c.mu.Lock()
	c.expired++
	c.mu.Unlock()
}

// AddRebind counts a console connection moved to a regenerated session ID.
func (c *Collector) AddRebind() {
	c.mu.Lock()
	c.rebinds++
	c.mu.Unlock()
}

// Clients returns the number of clients that obtained a session.
func (c *Collector) Clients() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clients
}

// Errors returns the failure count across all ops.
func (c *Collector) Errors() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, s := range c.ops {
		n += s.errors
	}
	return n
}

// OpSummary is the latency distribution of one operation.
type OpSummary struct {
	Op     string
	Count  int
	Errors int
	Avg    time.Duration
	P50    time.Duration
	P95    time.Duration
	P99    time.Duration
	Max    time.Duration
}

// Summaries returns one OpSummary per recorded op, sorted by name.
func (c *Collector) Summaries() []OpSummary {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]OpSummary, 0, len(c.ops))
	for name, s := range c.ops {
		out = append(out, summarize(name, s))
	}
	slices.SortFunc(out, func(a, b OpSummary) int {
		switch {
		case a.Op < b.Op:
			return -1
		case a.Op > b.Op:
			return 1
		}
		return 0
	})
	return out
}

func summarize(name string, s *opStats) OpSummary {
	sum := OpSummary{Op: name, Count: len(s.latencies), Errors: s.errors}
	if len(s.latencies) == 0 {
		return sum
	}
	sorted := slices.Clone(s.latencies)
	slices.Sort(sorted)

	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	sum.Avg = total / time.Duration(len(sorted))
	sum.P50 = percentile(sorted, 0.50)
	sum.P95 = percentile(sorted, 0.95)
	sum.P99 = percentile(sorted, 0.99)
	sum.Max = sorted[len(sorted)-1]
	return sum
}

// percentile uses the nearest-rank method on an ascending slice.
func percentile(sorted []time.Duration, q float64) time.Duration {
	rank := int(math.Ceil(q*float64(len(sorted)))) - 1
	rank = max(0, min(rank, len(sorted)-1))
	return sorted[rank]
}

// Report writes the run summary to w.
func (c *Collector) Report(w io.Writer) {
	summaries := c.Summaries()

	c.mu.Lock()
	elapsed := time.Since(c.startTime)
	clients, expired, rebinds, scraper := c.clients, c.expired, c.rebinds, c.scraper
	c.mu.Unlock()

	var ok, failed int
	for _, s := range summaries {
		ok += s.Count
		failed += s.Errors
	}

	fmt.Fprintln(w, "\n=== Load Test Results ===")
	fmt.Fprintf(w, "Duration:   %s\n", elapsed.Round(time.Second))
	fmt.Fprintf(w, "Clients:    %d\n", clients)
	fmt.Fprintf(w, "Operations: %d ok, %d failed", ok, failed)
	if ok+failed > 0 {
		fmt.Fprintf(w, " (%.2f%% errors)", float64(failed)/float64(ok+failed)*100)
	}
	fmt.Fprintln(w)
	if expired > 0 || rebinds > 0 {
		fmt.Fprintf(w, "Console:    %d expired, %d rebound\n", expired, rebinds)
	}

	if len(summaries) > 0 {
		fmt.Fprintln(w, "\n--- Latency by operation ---")
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
		fmt.Fprintln(tw, "op\tn\terr\tavg\tp50\tp95\tp99\tmax\t")
		for _, s := range summaries {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%v\t%v\t%v\t%v\t%v\t\n",
				s.Op, s.Count, s.Errors,
				s.Avg.Round(time.Microsecond),
				s.P50.Round(time.Microsecond),
				s.P95.Round(time.Microsecond),
				s.P99.Round(time.Microsecond),
				s.Max.Round(time.Microsecond))
		}
		tw.Flush()
	}

	if scraper != nil {
		scraper.Report(w)
	}
	fmt.Fprintln(w)
}
