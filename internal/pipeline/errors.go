package pipeline

import (
	"errors"
	"fmt"

	"playmart/internal/parser/jsonl"
)

// SkipKind classifies a dropped input line. Kinds are stable strings; they
// fan out into the run summary and the rows-skipped metric.
type SkipKind string

const (
	// SkipMalformedLine: the line is not valid JSON.
	SkipMalformedLine SkipKind = "malformed_line"
	// SkipSchemaMismatch: valid JSON that does not satisfy the record schema
	// or fails record validation.
	SkipSchemaMismatch SkipKind = "schema_mismatch"
	// SkipNonPlay: an activity event whose page is not a play.
	SkipNonPlay SkipKind = "non_play"
	// SkipMissingUser: a play event with no user id; it cannot form the fact
	// identity tuple or a users row.
	SkipMissingUser SkipKind = "missing_user"
)

// classifySkip maps a row-level decode error onto its skip kind.
func classifySkip(err error) SkipKind {
	var syn *jsonl.SyntaxError
	if errors.As(err, &syn) {
		return SkipMalformedLine
	}
	return SkipSchemaMismatch
}

// FileError records a file that could not be fully processed. The run
// continues past it; the summary carries the failures.
type FileError struct {
	Corpus string
	Name   string
	Err    error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s file %s: %v", e.Corpus, e.Name, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// SinkError marks a failed sink write. The file's remaining tables are still
// written, the file is reported failed, and the run continues; only a sink
// that is unreachable at startup aborts the run.
type SinkError struct {
	Table string
	Err   error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("sink write table=%s: %v", e.Table, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }
