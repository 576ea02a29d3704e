// Command loadtest drives a running sessiond.
//
//	loadtest sessions [flags]   HTTP API churn: start, set, get, regenerate, clear
//	loadtest console [flags]    console connections running get/set round trips
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/whisper/sessiond/loadtest/stats"
)

type scenario struct {
	summary string
	run     func(ctx context.Context, args []string) *stats.Collector
}

var scenarios = map[string]scenario{
	"sessions": {"HTTP API churn: start, set, get, regenerate and clear in a loop", runSessions},
	"console":  {"console connections running get/set round trips with live regenerates", runConsole},
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	sc, ok := scenarios[os.Args[1]]
	if !ok {
		if os.Args[1] != "help" && os.Args[1] != "-h" && os.Args[1] != "--help" {
			fmt.Fprintf(os.Stderr, "unknown scenario %q\n\n", os.Args[1])
			usage()
			os.Exit(1)
		}
		usage()
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := sc.run(ctx, os.Args[2:])
	collector.StopScraper()
	collector.Report(os.Stdout)
	if collector.Errors() > 0 {
		os.Exit(2)
	}
}

func usage() {
	names := make([]string, 0, len(scenarios))
	for name := range scenarios {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintln(os.Stderr, "usage: loadtest <scenario> [flags]")
	fmt.Fprintln(os.Stderr)
	for _, name := range names {
		fmt.Fprintf(os.Stderr, "  %-10s %s\n", name, scenarios[name].summary)
	}
}

// newCollector returns a collector, scraping metricsURL for the lifetime of
// ctx when it is set.
func newCollector(ctx context.Context, metricsURL string) *stats.Collector {
	collector := stats.NewCollector()
	if metricsURL != "" {
		scraper := stats.NewScraper(metricsURL, 2*time.Second)
		scraper.Start(ctx)
		collector.SetScraper(scraper)
	}
	return collector
}

// timed runs op and records its latency, or a failure unless ctx has ended.
func timed(ctx context.Context, collector *stats.Collector, op string, fn func() error) bool {
	start := time.Now()
	if err := fn(); err != nil {
		if ctx.Err() == nil {
			collector.Fail(op)
		}
		return false
	}
	collector.Observe(op, time.Since(start))
	return true
}
