// Package metrics is a tiny facade so pipeline code never imports a vendor
// SDK. The process installs one Backend at startup; everything else calls the
// package-level helpers. The default backend discards everything, so library
// code can emit unconditionally.
package metrics

import "sync"

// Labels tags a metric sample. Keys and values are free-form but should stay
// low-cardinality (table names, stage names, error kinds).
type Labels map[string]string

// Backend receives metric samples. Implementations must be safe for
// concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
}

// Flusher is implemented by backends that buffer samples and submit them
// out-of-band. Flush is called at least once before process exit.
type Flusher interface {
	Flush() error
}

// Metric names emitted by the pipeline. Backends key their buffers on these.
const (
	// FilesTotal counts processed input files, labeled corpus= and status=.
	FilesTotal = "etl_files_total"
	// RowsLoadedTotal counts rows written to the sink, labeled table=.
	RowsLoadedTotal = "etl_rows_loaded_total"
	// RowsSkippedTotal counts dropped input lines, labeled kind=.
	RowsSkippedTotal = "etl_rows_skipped_total"
	// EventsUnmatchedTotal counts play events with no catalog resolution.
	EventsUnmatchedTotal = "etl_events_unmatched_total"
	// EventsAmbiguousTotal counts play events matching more than one song.
	EventsAmbiguousTotal = "etl_events_ambiguous_total"
	// StageDurationSeconds observes wall time per pipeline stage, labeled
	// stage= and status=.
	StageDurationSeconds = "etl_stage_duration_seconds"
)

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs the process-wide backend. Passing nil restores the
// discarding default.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		backend = nopBackend{}
		return
	}
	backend = b
}

// IncCounter adds delta to a counter on the installed backend.
func IncCounter(name string, delta float64, labels Labels) {
	mu.RLock()
	b := backend
	mu.RUnlock()
	b.IncCounter(name, delta, labels)
}

// ObserveHistogram records one sample on the installed backend.
func ObserveHistogram(name string, value float64, labels Labels) {
	mu.RLock()
	b := backend
	mu.RUnlock()
	b.ObserveHistogram(name, value, labels)
}

// Flush drains the installed backend if it buffers. Safe to call when the
// backend does not implement Flusher.
func Flush() error {
	mu.RLock()
	b := backend
	mu.RUnlock()
	if f, ok := b.(Flusher); ok {
		return f.Flush()
	}
	return nil
}
