// Package datadog implements a Datadog backend for the internal/metrics package.
//
// NOTE ABOUT FLUSHING:
// A pipeline run can take seconds or hours depending on corpus size.
// Submitting only once at process exit makes dashboards awkward for long runs
// (one spike instead of a time series), so this backend:
//
//   - buffers samples in-memory (fast, lock-protected)
//   - periodically Flush()es on a ticker (default: once per minute)
//   - Flush()es one final time on Close()
//
// Concurrency model:
//   - pipeline goroutines may call IncCounter/ObserveHistogram at any time
//   - Flush snapshots+resets buffers under a mutex, then submits out-of-lock
//   - the flush loop calls Flush() periodically; Close() stops the loop
//
// If the process dies with SIGKILL/OOM, Close() won't run (no backend can fix
// that).
package datadog

import (
	"context"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"playmart/internal/metrics"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
)

// Options controls Datadog backend configuration.
type Options struct {
	// JobName becomes tag "job:<name>" on every metric.
	// If empty, defaults to "playmart".
	JobName string

	// Tags are extra Datadog tags (e.g. []string{"env:prod", "service:playmart"}).
	Tags []string

	// FlushEvery controls how often buffered metrics are submitted.
	// If <= 0, defaults to 60 seconds.
	FlushEvery time.Duration

	// The following fields are unexported test seams. Production code never
	// sets them; unit tests use them to avoid real network submission and
	// nondeterministic clocks.
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter metricsSubmitter
}

// metricsSubmitter is the minimal interface needed to submit metrics. The
// Datadog SDK exposes a concrete *datadogV2.MetricsApi which cannot be
// stubbed without real HTTP; Backend depends on this interface instead.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// Backend implements metrics.Backend for Datadog.
type Backend struct {
	api metricsSubmitter
	ctx context.Context

	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}

	baseTags []string

	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker

	mu sync.Mutex

	fileCounts    map[string]float64 // corpus\x00status -> count
	rowsLoaded    map[string]float64 // table -> count
	rowsSkipped   map[string]float64 // kind -> count
	unmatched     float64
	ambiguous     float64
	stageDuration map[string][]float64 // stage\x00status -> samples
}

func resolveEnvTag() string {
	if v := strings.TrimSpace(os.Getenv("ENV")); v != "" {
		return "env:" + v
	}
	if v := strings.TrimSpace(os.Getenv("DD_ENV")); v != "" {
		return "env:" + v
	}
	return "env:unknown"
}

// NewBackend constructs a Datadog backend using the official client.
//
// When to use:
//   - Configure this backend when you want Datadog metrics for pipeline runs.
//   - Suitable for both long corpora (periodic flush) and short commands
//     (final flush on Close).
//
// Edge cases:
//   - If opts.FlushEvery <= 0, defaults to 60s.
//   - If opts.JobName is empty, defaults to "playmart".
//   - Environment tag selection uses ENV then DD_ENV, otherwise env:unknown.
//
// Errors:
//   - Client construction is not expected to fail under normal conditions;
//     network errors surface from Flush().
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	job := opts.JobName
	if job == "" {
		job = "playmart"
	}

	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 60 * time.Second
	}

	baseTags := make([]string, 0, 2+len(opts.Tags))
	baseTags = append(baseTags, resolveEnvTag(), "job:"+job)
	baseTags = append(baseTags, opts.Tags...)

	nowFn := opts.now
	if nowFn == nil {
		nowFn = time.Now
	}
	newTicker := opts.newTicker
	if newTicker == nil {
		newTicker = time.NewTicker
	}

	submitter := opts.submitter
	if submitter == nil {
		cfg := dd.NewConfiguration()
		client := dd.NewAPIClient(cfg)
		submitter = datadogV2.NewMetricsApi(client)
	}

	b := &Backend{
		api:        submitter,
		ctx:        dd.NewDefaultContext(parent),
		flushEvery: flushEvery,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),

		baseTags: baseTags,

		now:       nowFn,
		newTicker: newTicker,

		fileCounts:    make(map[string]float64),
		rowsLoaded:    make(map[string]float64),
		rowsSkipped:   make(map[string]float64),
		stageDuration: make(map[string][]float64),
	}

	go b.loop()
	return b, nil
}

func (b *Backend) loop() {
	defer close(b.doneCh)

	t := b.newTicker(b.flushEvery)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			_ = b.Flush()
		case <-b.stopCh:
			return
		}
	}
}

// Close stops the background flush loop and performs one final Flush().
//
// Errors:
//   - Returns any error from the final Flush() submission.
//   - Calling Close twice panics (stopCh closed twice). Standard "close once"
//     semantics; acceptable for a process-lifetime backend.
func (b *Backend) Close() error {
	close(b.stopCh)
	<-b.doneCh
	return b.Flush()
}

// IncCounter implements metrics.Backend.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case metrics.FilesTotal:
		b.fileCounts[pairKey(labels["corpus"], labels["status"])] += delta

	case metrics.RowsLoadedTotal:
		table := labels["table"]
		if table == "" {
			return
		}
		b.rowsLoaded[table] += delta

	case metrics.RowsSkippedTotal:
		kind := labels["kind"]
		if kind == "" {
			kind = "unknown"
		}
		b.rowsSkipped[kind] += delta

	case metrics.EventsUnmatchedTotal:
		b.unmatched += delta

	case metrics.EventsAmbiguousTotal:
		b.ambiguous += delta

	default:
		// Unknown metrics are ignored.
	}
}

// ObserveHistogram implements metrics.Backend.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case metrics.StageDurationSeconds:
		k := pairKey(labels["stage"], labels["status"])
		b.stageDuration[k] = append(b.stageDuration[k], value)

	default:
		// Unknown histograms are ignored.
	}
}

// snapshot is the detached buffered state used to build one flush payload.
// Flush() must reset buffers under the lock but submit out-of-lock; snapshot
// separates collect+reset from payload building+submission.
type snapshot struct {
	fileCounts    map[string]float64
	rowsLoaded    map[string]float64
	rowsSkipped   map[string]float64
	unmatched     float64
	ambiguous     float64
	stageDuration map[string][]float64
}

func (b *Backend) snapshotAndReset() snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := snapshot{
		fileCounts:    b.fileCounts,
		rowsLoaded:    b.rowsLoaded,
		rowsSkipped:   b.rowsSkipped,
		unmatched:     b.unmatched,
		ambiguous:     b.ambiguous,
		stageDuration: b.stageDuration,
	}

	b.fileCounts = make(map[string]float64)
	b.rowsLoaded = make(map[string]float64)
	b.rowsSkipped = make(map[string]float64)
	b.unmatched = 0
	b.ambiguous = 0
	b.stageDuration = make(map[string][]float64)

	return s
}

func (s snapshot) isEmpty() bool {
	return len(s.fileCounts) == 0 &&
		len(s.rowsLoaded) == 0 &&
		len(s.rowsSkipped) == 0 &&
		s.unmatched == 0 &&
		s.ambiguous == 0 &&
		len(s.stageDuration) == 0
}

// Flush submits buffered metrics to Datadog and resets local buffers.
//
// Errors:
//   - Returns any error from Datadog submission.
//   - Returns nil if there is nothing to submit.
//
// Edge cases:
//   - Safe to call concurrently with IncCounter/ObserveHistogram.
//   - Buffers are reset even if submission fails, to keep the pipeline fast
//     and avoid blocking future writes.
func (b *Backend) Flush() error {
	snap := b.snapshotAndReset()
	if snap.isEmpty() {
		return nil
	}

	payload := datadogV2.MetricPayload{Series: b.buildSeries(snap, b.now().Unix())}
	_, _, err := b.api.SubmitMetrics(b.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters())
	return err
}

// buildSeries constructs Datadog series for a snapshot at a fixed timestamp.
// It is pure (no locks, no network, no clocks), which keeps it unit-testable,
// and it centralizes naming/tagging, which is an operational contract.
func (b *Backend) buildSeries(s snapshot, nowUnix int64) []datadogV2.MetricSeries {
	series := make([]datadogV2.MetricSeries, 0, len(s.fileCounts)+len(s.rowsLoaded)+len(s.rowsSkipped)+16)

	for k, v := range s.fileCounts {
		if v == 0 {
			continue
		}
		corpus, status := splitPairKey(k)
		tags := withTags(b.baseTags, "corpus:"+corpus, "status:"+status)
		series = append(series, countSeries("playmart.files.total", v, tags, nowUnix))
	}

	for table, v := range s.rowsLoaded {
		if v == 0 {
			continue
		}
		tags := withTags(b.baseTags, "table:"+table)
		series = append(series, countSeries("playmart.rows.loaded.total", v, tags, nowUnix))
	}

	for kind, v := range s.rowsSkipped {
		if v == 0 {
			continue
		}
		tags := withTags(b.baseTags, "kind:"+kind)
		series = append(series, countSeries("playmart.rows.skipped.total", v, tags, nowUnix))
	}

	if s.unmatched != 0 {
		series = append(series, countSeries("playmart.events.unmatched.total", s.unmatched, b.baseTags, nowUnix))
	}
	if s.ambiguous != 0 {
		series = append(series, countSeries("playmart.events.ambiguous.total", s.ambiguous, b.baseTags, nowUnix))
	}

	for k, samples := range s.stageDuration {
		if len(samples) == 0 {
			continue
		}
		cp := append([]float64(nil), samples...)
		sort.Float64s(cp)

		stage, status := splitPairKey(k)
		tags := withTags(b.baseTags, "stage:"+stage, "status:"+status)

		const prefix = "playmart.stage.duration_seconds"
		series = append(series, gaugeSeries(prefix+".p50", percentileNearestRank(cp, 0.50), tags, nowUnix))
		series = append(series, gaugeSeries(prefix+".p90", percentileNearestRank(cp, 0.90), tags, nowUnix))
		series = append(series, gaugeSeries(prefix+".p95", percentileNearestRank(cp, 0.95), tags, nowUnix))
		series = append(series, gaugeSeries(prefix+".p99", percentileNearestRank(cp, 0.99), tags, nowUnix))
		series = append(series, gaugeSeries(prefix+".max", cp[len(cp)-1], tags, nowUnix))
		series = append(series, gaugeSeries(prefix+".samples", float64(len(cp)), tags, nowUnix))
	}

	return series
}

func countSeries(metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   datadogV2.METRICINTAKETYPE_COUNT.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func gaugeSeries(metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   datadogV2.METRICINTAKETYPE_GAUGE.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func pairKey(a, b string) string {
	return a + "\x00" + b
}

func splitPairKey(k string) (string, string) {
	parts := strings.SplitN(k, "\x00", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return k, "unknown"
}

func withTags(base []string, extras ...string) []string {
	out := make([]string, 0, len(base)+len(extras))
	out = append(out, base...)
	out = append(out, extras...)
	return out
}

func percentileNearestRank(s []float64, p float64) float64 {
	n := len(s)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return s[0]
	}
	if p >= 1 {
		return s[n-1]
	}
	idx := int(p*float64(n-1) + 0.5)
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return s[idx]
}

var _ metrics.Backend = (*Backend)(nil)

// ParseTagsCSV parses comma-separated tags like "env:prod,service:playmart".
func ParseTagsCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
