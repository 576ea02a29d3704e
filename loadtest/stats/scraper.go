package stats

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/prometheus/common/model"
)

// Sample is one scrape of the server's /metrics endpoint. Values are keyed by
// family name (all series summed) and by family{label="value"} for each
// labelled series. Histograms contribute _sum and _count keys.
type Sample struct {
	At     time.Time
	values map[string]float64
}

// Value returns the value under key, or 0 when the series was not exposed.
func (s Sample) Value(key string) float64 {
	return s.values[key]
}

// Scraper polls a sessiond metrics endpoint while a scenario runs.
type Scraper struct {
	url      string
	interval time.Duration
	client   *http.Client

	mu      sync.Mutex
	samples []Sample

	cancel context.CancelFunc
	done   chan struct{}
}

// NewScraper returns a Scraper for metricsURL. Nothing is fetched until Start.
func NewScraper(metricsURL string, interval time.Duration) *Scraper {
	return &Scraper{
		url:      metricsURL,
		interval: interval,
		client:   &http.Client{Timeout: 5 * time.Second},
		done:     make(chan struct{}),
	}
}

// Start scrapes once immediately and then every interval until ctx ends or
// Stop is called. A final sample is taken on the way out.
func (s *Scraper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.record()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.record()
				return
			case <-ticker.C:
				s.record()
			}
		}
	}()
}

// Stop ends the background loop and waits for the final sample.
func (s *Scraper) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

// Samples returns the samples taken so far.
func (s *Scraper) Samples() []Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Sample(nil), s.samples...)
}

func (s *Scraper) record() {
	sample, err := s.Scrape()
	if err != nil {
		log.Printf("[scraper] %v", err)
		return
	}
	s.mu.Lock()
	s.samples = append(s.samples, sample)
	s.mu.Unlock()
}

// Scrape fetches and parses the endpoint once.
func (s *Scraper) Scrape() (Sample, error) {
	resp, err := s.client.Get(s.url)
	if err != nil {
		return Sample{}, fmt.Errorf("scrape %s: %w", s.url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Sample{}, fmt.Errorf("scrape %s: status %d", s.url, resp.StatusCode)
	}
	return ParseSample(resp.Body, time.Now())
}

// ParseSample reads the Prometheus text exposition format.
func ParseSample(r io.Reader, at time.Time) (Sample, error) {
	parser := expfmt.NewTextParser(model.UTF8Validation)
	families, err := parser.TextToMetricFamilies(r)
	if err != nil {
		return Sample{}, fmt.Errorf("parse metrics: %w", err)
	}

	sample := Sample{At: at, values: make(map[string]float64)}
	for name, mf := range families {
		for _, m := range mf.GetMetric() {
			key := seriesKey(name, m.GetLabel())
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				sample.add(name, key, "", m.GetCounter().GetValue())
			case dto.MetricType_GAUGE:
				sample.add(name, key, "", m.GetGauge().GetValue())
			case dto.MetricType_HISTOGRAM:
				h := m.GetHistogram()
				sample.add(name, key, "_sum", h.GetSampleSum())
				sample.add(name, key, "_count", float64(h.GetSampleCount()))
			default:
				sample.add(name, key, "", m.GetUntyped().GetValue())
			}
		}
	}
	return sample, nil
}

func (s Sample) add(name, key, suffix string, v float64) {
	s.values[name+suffix] += v
	if key != name {
		s.values[strings.Replace(key, name, name+suffix, 1)] += v
	}
}

func seriesKey(name string, labels []*dto.LabelPair) string {
	if len(labels) == 0 {
		return name
	}
	parts := make([]string, 0, len(labels))
	for _, l := range labels {
		parts = append(parts, fmt.Sprintf("%s=%q", l.GetName(), l.GetValue()))
	}
	sort.Strings(parts)
	return name + "{" + strings.Join(parts, ",") + "}"
}

// Report writes what the server did between the first and last sample.
func (s *Scraper) Report(w io.Writer) {
	samples := s.Samples()
	if len(samples) < 2 {
		fmt.Fprintln(w, "\n--- Server metrics: not enough samples ---")
		return
	}
	first, last := samples[0], samples[len(samples)-1]
	delta := func(key string) float64 { return last.Value(key) - first.Value(key) }

	fmt.Fprintf(w, "\n--- Server metrics (%d samples over %s) ---\n",
		len(samples), last.At.Sub(first.At).Round(time.Second))

	fmt.Fprintf(w, "Sessions started:   %.0f new, %.0f resumed\n",
		delta(`sessiond_sessions_started_total{result="new"}`),
		delta(`sessiond_sessions_started_total{result="resumed"}`))
	fmt.Fprintf(w, "Sessions closed:    %.0f commit, %.0f abort, %.0f destroy\n",
		delta(`sessiond_sessions_closed_total{how="commit"}`),
		delta(`sessiond_sessions_closed_total{how="abort"}`),
		delta(`sessiond_sessions_closed_total{how="destroy"}`))
	fmt.Fprintf(w, "Regenerated:        %.0f\n", delta("sessiond_sessions_regenerated_total"))

	// Lazy writes show up as touches instead of saves.
	saves := delta(`sessiond_backend_latency_seconds_count{op="save"}`)
	touches := delta(`sessiond_backend_latency_seconds_count{op="touch"}`)
	if saves+touches > 0 {
		fmt.Fprintf(w, "Writes:             %.0f saves, %.0f touches (%.1f%% lazy)\n",
			saves, touches, touches/(saves+touches)*100)
	}

	for _, op := range []string{"load", "save", "touch", "destroy"} {
		sum := delta(`sessiond_backend_latency_seconds_sum{op="` + op + `"}`)
		count := delta(`sessiond_backend_latency_seconds_count{op="` + op + `"}`)
		if count > 0 {
			fmt.Fprintf(w, "Backend %-8s    avg %v over %.0f calls\n", op+":", seconds(sum/count), count)
		}
	}
	if n := delta("sessiond_lock_wait_seconds_count"); n > 0 {
		fmt.Fprintf(w, "Lock wait:          avg %v\n", seconds(delta("sessiond_lock_wait_seconds_sum")/n))
	}
	fmt.Fprintf(w, "Backend errors:     %.0f\n", delta("sessiond_backend_errors_total"))
	fmt.Fprintf(w, "Rate limited:       %.0f\n", delta("sessiond_rate_limited_total"))

	var peakActive, peakConsole float64
	for _, smp := range samples {
		peakActive = max(peakActive, smp.Value("sessiond_sessions_active"))
		peakConsole = max(peakConsole, smp.Value("sessiond_console_connections"))
	}
	fmt.Fprintf(w, "Peak active:        %.0f sessions, %.0f console connections\n", peakActive, peakConsole)
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second)).Round(time.Microsecond)
}
