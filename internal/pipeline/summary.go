package pipeline

import "time"

// State is the driver's lifecycle phase. Transitions are linear; FAILED is
// terminal and only reached from a fatal error, not from per-file failures.
type State string

const (
	StateIdle         State = "IDLE"
	StateReading      State = "READING"
	StateTransforming State = "TRANSFORMING"
	StateLoading      State = "LOADING"
	StateDone         State = "DONE"
	StateFailed       State = "FAILED"
)

// CorpusStats counts file outcomes for one input corpus.
type CorpusStats struct {
	FilesProcessed int
	FilesFailed    int
}

// RunSummary is the result of one pipeline run. Counters cover the whole run
// including files that later failed mid-stream.
type RunSummary struct {
	State State

	Songs CorpusStats
	Logs  CorpusStats

	// RowsSkipped counts dropped input lines by skip kind.
	RowsSkipped map[SkipKind]int64

	// RowsLoaded counts rows written per warehouse table, conflict-discarded
	// rows excluded.
	RowsLoaded map[string]int64

	// PlayEvents counts activity lines that passed the play filter.
	PlayEvents int64
	// Unmatched counts play events loaded with null song/artist references.
	Unmatched int64
	// Ambiguous counts play events whose catalog lookup matched more than one
	// song. They still load with the tie-broken song reference.
	Ambiguous int64

	// CatalogSize is the number of distinct catalog songs seen this run.
	CatalogSize int

	// Failures lists per-file errors the run continued past.
	Failures []*FileError

	Duration time.Duration
}

func newRunSummary() *RunSummary {
	return &RunSummary{
		State:       StateIdle,
		RowsSkipped: make(map[SkipKind]int64),
		RowsLoaded:  make(map[string]int64),
	}
}
