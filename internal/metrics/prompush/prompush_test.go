package prompush

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"playmart/internal/metrics"
)

type fakePusher struct {
	pushes   int
	err      error
	deadline bool
}

func (f *fakePusher) PushContext(ctx context.Context) error {
	f.pushes++
	_, f.deadline = ctx.Deadline()
	return f.err
}

func newTestBackend(t *testing.T) (*Backend, *fakePusher) {
	t.Helper()
	p := &fakePusher{}
	b, err := NewBackend(Options{client: p})
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}
	return b, p
}

func TestNewBackend_RequiresGatewayURL(t *testing.T) {
	t.Parallel()

	if _, err := NewBackend(Options{}); err == nil {
		t.Fatalf("NewBackend() succeeded without gateway URL")
	}
	if _, err := NewBackend(Options{GatewayURL: "   "}); err == nil {
		t.Fatalf("NewBackend() accepted blank gateway URL")
	}
	if _, err := NewBackend(Options{GatewayURL: "http://localhost:9091"}); err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}
}

func TestNewBackend_Defaults(t *testing.T) {
	t.Parallel()

	b, _ := newTestBackend(t)
	if b.timeout != 5*time.Second {
		t.Fatalf("timeout=%s, want 5s", b.timeout)
	}
}

func TestIncCounter_Routing(t *testing.T) {
	t.Parallel()

	b, _ := newTestBackend(t)

	b.IncCounter(metrics.FilesTotal, 1, metrics.Labels{"corpus": "songs", "status": "ok"})
	b.IncCounter(metrics.FilesTotal, 2, metrics.Labels{"corpus": "songs", "status": "ok"})
	b.IncCounter(metrics.RowsLoadedTotal, 40, metrics.Labels{"table": "songplays"})
	b.IncCounter(metrics.RowsSkippedTotal, 3, metrics.Labels{"kind": "non_play"})
	b.IncCounter(metrics.EventsUnmatchedTotal, 5, nil)
	b.IncCounter(metrics.EventsAmbiguousTotal, 1, nil)

	if got := testutil.ToFloat64(b.files.WithLabelValues("songs", "ok")); got != 3 {
		t.Errorf("files=%v, want 3", got)
	}
	if got := testutil.ToFloat64(b.loaded.WithLabelValues("songplays")); got != 40 {
		t.Errorf("loaded=%v, want 40", got)
	}
	if got := testutil.ToFloat64(b.skipped.WithLabelValues("non_play")); got != 3 {
		t.Errorf("skipped=%v, want 3", got)
	}
	if got := testutil.ToFloat64(b.unmatched); got != 5 {
		t.Errorf("unmatched=%v, want 5", got)
	}
	if got := testutil.ToFloat64(b.ambiguous); got != 1 {
		t.Errorf("ambiguous=%v, want 1", got)
	}
}

func TestIncCounter_EdgeCases(t *testing.T) {
	t.Parallel()

	b, _ := newTestBackend(t)

	// Zero, negative, unknown-name, and table-less samples leave no series.
	b.IncCounter(metrics.FilesTotal, 0, metrics.Labels{"corpus": "songs", "status": "ok"})
	b.IncCounter(metrics.FilesTotal, -1, metrics.Labels{"corpus": "songs", "status": "ok"})
	b.IncCounter("some_other_metric", 1, nil)
	b.IncCounter(metrics.RowsLoadedTotal, 10, nil)

	if n := testutil.CollectAndCount(b.files); n != 0 {
		t.Errorf("files series=%d, want 0", n)
	}
	if n := testutil.CollectAndCount(b.loaded); n != 0 {
		t.Errorf("loaded series=%d, want 0", n)
	}

	// Missing skip kind and status fall back to "unknown".
	b.IncCounter(metrics.RowsSkippedTotal, 1, nil)
	b.IncCounter(metrics.FilesTotal, 1, metrics.Labels{"corpus": "logs"})
	if got := testutil.ToFloat64(b.skipped.WithLabelValues("unknown")); got != 1 {
		t.Errorf("skipped[unknown]=%v, want 1", got)
	}
	if got := testutil.ToFloat64(b.files.WithLabelValues("logs", "unknown")); got != 1 {
		t.Errorf("files[logs unknown]=%v, want 1", got)
	}
}

func TestObserveHistogram(t *testing.T) {
	t.Parallel()

	b, _ := newTestBackend(t)

	b.ObserveHistogram(metrics.StageDurationSeconds, 0.5, metrics.Labels{"stage": "songs", "status": "ok"})
	b.ObserveHistogram(metrics.StageDurationSeconds, 1.5, metrics.Labels{"stage": "songs", "status": "ok"})
	b.ObserveHistogram(metrics.StageDurationSeconds, -1, metrics.Labels{"stage": "songs", "status": "ok"})
	b.ObserveHistogram("some_other_metric", 1, nil)

	fams, err := b.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() err=%v", err)
	}
	var hist *dto.Histogram
	for _, f := range fams {
		if f.GetName() == metrics.StageDurationSeconds {
			hist = f.GetMetric()[0].GetHistogram()
		}
	}
	if hist == nil {
		t.Fatalf("histogram family not gathered")
	}
	if hist.GetSampleCount() != 2 {
		t.Fatalf("sample count=%d, want 2 (negative sample dropped)", hist.GetSampleCount())
	}
	if got := hist.GetSampleSum(); got != 2.0 {
		t.Fatalf("sample sum=%v, want 2.0", got)
	}
}

func TestFlush(t *testing.T) {
	t.Parallel()

	b, p := newTestBackend(t)
	b.IncCounter(metrics.EventsUnmatchedTotal, 1, nil)

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() err=%v", err)
	}
	if p.pushes != 1 {
		t.Fatalf("pushes=%d, want 1", p.pushes)
	}
	if !p.deadline {
		t.Fatalf("push context has no deadline")
	}

	p.err = errors.New("gateway unreachable")
	if err := b.Flush(); err == nil {
		t.Fatalf("Flush() succeeded, want push error")
	}

	// State is cumulative; a later flush pushes again.
	p.err = nil
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() err=%v", err)
	}
	if p.pushes != 3 {
		t.Fatalf("pushes=%d, want 3", p.pushes)
	}
}
