package metrics

import (
	"errors"
	"sync"
	"testing"
)

type recordingBackend struct {
	mu       sync.Mutex
	counters map[string]float64
	samples  map[string][]float64
	flushErr error
	flushed  int
}

func newRecordingBackend() *recordingBackend {
	return &recordingBackend{
		counters: map[string]float64{},
		samples:  map[string][]float64{},
	}
}

func (b *recordingBackend) IncCounter(name string, delta float64, _ Labels) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counters[name] += delta
}

func (b *recordingBackend) ObserveHistogram(name string, value float64, _ Labels) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples[name] = append(b.samples[name], value)
}

func (b *recordingBackend) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushed++
	return b.flushErr
}

// The backend slot is process-global, so these tests never run in parallel
// and always restore the default.

func TestDefaultBackendDiscards(t *testing.T) {
	SetBackend(nil)

	IncCounter(FilesTotal, 1, Labels{"corpus": "songs", "status": "ok"})
	ObserveHistogram(StageDurationSeconds, 0.25, nil)
	if err := Flush(); err != nil {
		t.Fatalf("Flush() err=%v", err)
	}
}

func TestSetBackendRoutesSamples(t *testing.T) {
	b := newRecordingBackend()
	SetBackend(b)
	defer SetBackend(nil)

	IncCounter(RowsLoadedTotal, 3, Labels{"table": "songs"})
	IncCounter(RowsLoadedTotal, 2, Labels{"table": "songs"})
	ObserveHistogram(StageDurationSeconds, 1.5, Labels{"stage": "logs", "status": "ok"})

	if got := b.counters[RowsLoadedTotal]; got != 5 {
		t.Fatalf("counter=%v, want 5", got)
	}
	if got := b.samples[StageDurationSeconds]; len(got) != 1 || got[0] != 1.5 {
		t.Fatalf("samples=%v", got)
	}
}

func TestSetBackendNilRestoresDiscard(t *testing.T) {
	b := newRecordingBackend()
	SetBackend(b)
	SetBackend(nil)

	IncCounter(FilesTotal, 1, nil)
	if len(b.counters) != 0 {
		t.Fatalf("replaced backend still received samples: %v", b.counters)
	}
}

func TestFlushPropagatesBackendError(t *testing.T) {
	b := newRecordingBackend()
	b.flushErr = errors.New("gateway unreachable")
	SetBackend(b)
	defer SetBackend(nil)

	if err := Flush(); err == nil {
		t.Fatalf("Flush() succeeded, want backend error")
	}
	if b.flushed != 1 {
		t.Fatalf("flushed=%d, want 1", b.flushed)
	}
}

func TestFlushWithoutFlusherIsNoop(t *testing.T) {
	SetBackend(nopBackend{})
	defer SetBackend(nil)

	if err := Flush(); err != nil {
		t.Fatalf("Flush() err=%v", err)
	}
}

func TestConcurrentEmitDuringSwap(t *testing.T) {
	b := newRecordingBackend()
	defer SetBackend(nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				IncCounter(RowsSkippedTotal, 1, Labels{"kind": "non_play"})
			}
		}()
	}
	for i := 0; i < 10; i++ {
		SetBackend(b)
		SetBackend(nil)
	}
	wg.Wait()
}
