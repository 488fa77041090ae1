// Package prompush implements a Prometheus Pushgateway backend for the
// internal/metrics package. Unlike a scraped exporter, batch jobs finish and
// disappear, so samples accumulate in a private registry and Flush() pushes
// the whole registry to the gateway under the job name.
package prompush

import (
	"context"
	"errors"
	"strings"
	"time"

	"playmart/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// pushClient is a seam over *push.Pusher so tests can avoid a real gateway.
type pushClient interface {
	PushContext(ctx context.Context) error
}

// Options controls pushgateway backend configuration.
type Options struct {
	// GatewayURL is the Pushgateway base URL, e.g. "http://localhost:9091".
	GatewayURL string

	// JobName becomes the gateway job grouping label. If empty, defaults to
	// "playmart".
	JobName string

	// Grouping adds extra grouping labels (e.g. instance, environment).
	Grouping map[string]string

	// PushTimeout bounds each gateway push. If <= 0, defaults to 5 seconds.
	PushTimeout time.Duration

	// client is an unexported test seam; production code never sets it.
	client pushClient
}

// Backend implements metrics.Backend against a Pushgateway.
type Backend struct {
	registry *prometheus.Registry
	client   pushClient
	timeout  time.Duration

	files     *prometheus.CounterVec
	loaded    *prometheus.CounterVec
	skipped   *prometheus.CounterVec
	unmatched prometheus.Counter
	ambiguous prometheus.Counter
	stageDur  *prometheus.HistogramVec
}

// NewBackend constructs a pushgateway backend.
//
// When to use:
//   - Configure this backend when runs should land in Prometheus via a
//     Pushgateway instead of Datadog.
//
// Edge cases:
//   - If opts.JobName is empty, defaults to "playmart".
//   - If opts.PushTimeout <= 0, defaults to 5s.
//
// Errors:
//   - Returns an error if opts.GatewayURL is empty.
func NewBackend(opts Options) (*Backend, error) {
	if strings.TrimSpace(opts.GatewayURL) == "" && opts.client == nil {
		return nil, errors.New("prompush: gateway URL is required")
	}

	job := opts.JobName
	if job == "" {
		job = "playmart"
	}
	timeout := opts.PushTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	reg := prometheus.NewRegistry()

	b := &Backend{
		registry: reg,
		timeout:  timeout,

		files: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.FilesTotal,
			Help: "Input files processed, by corpus and status.",
		}, []string{"corpus", "status"}),
		loaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.RowsLoadedTotal,
			Help: "Rows written to the sink, by table.",
		}, []string{"table"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.RowsSkippedTotal,
			Help: "Input lines dropped, by kind.",
		}, []string{"kind"}),
		unmatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metrics.EventsUnmatchedTotal,
			Help: "Play events with no catalog resolution.",
		}),
		ambiguous: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metrics.EventsAmbiguousTotal,
			Help: "Play events matching more than one catalog song.",
		}),
		stageDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metrics.StageDurationSeconds,
			Help:    "Wall time per pipeline stage.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"stage", "status"}),
	}

	reg.MustRegister(b.files, b.loaded, b.skipped, b.unmatched, b.ambiguous, b.stageDur)

	b.client = opts.client
	if b.client == nil {
		pusher := push.New(opts.GatewayURL, job).Gatherer(reg)
		for k, v := range opts.Grouping {
			k = strings.TrimSpace(k)
			v = strings.TrimSpace(v)
			if k == "" || v == "" {
				continue
			}
			pusher = pusher.Grouping(k, v)
		}
		b.client = pusher
	}

	return b, nil
}

// IncCounter implements metrics.Backend.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}

	switch name {
	case metrics.FilesTotal:
		b.files.WithLabelValues(labels["corpus"], orUnknown(labels["status"])).Add(delta)
	case metrics.RowsLoadedTotal:
		table := labels["table"]
		if table == "" {
			return
		}
		b.loaded.WithLabelValues(table).Add(delta)
	case metrics.RowsSkippedTotal:
		b.skipped.WithLabelValues(orUnknown(labels["kind"])).Add(delta)
	case metrics.EventsUnmatchedTotal:
		b.unmatched.Add(delta)
	case metrics.EventsAmbiguousTotal:
		b.ambiguous.Add(delta)
	default:
		// Unknown metrics are ignored.
	}
}

// ObserveHistogram implements metrics.Backend.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 {
		return
	}

	switch name {
	case metrics.StageDurationSeconds:
		b.stageDur.WithLabelValues(labels["stage"], orUnknown(labels["status"])).Observe(value)
	default:
		// Unknown histograms are ignored.
	}
}

// Flush pushes the accumulated registry to the gateway.
//
// Errors:
//   - Returns any push error. Counters are cumulative; a failed push is
//     retried implicitly by the next Flush since state is not reset.
func (b *Backend) Flush() error {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	return b.client.PushContext(ctx)
}

// Registry exposes the backend's registry for tests and local scraping.
func (b *Backend) Registry() *prometheus.Registry {
	return b.registry
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

var (
	_ metrics.Backend = (*Backend)(nil)
	_ metrics.Flusher = (*Backend)(nil)
)
