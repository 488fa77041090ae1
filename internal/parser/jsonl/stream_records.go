// Package jsonl parses newline-delimited JSON corpora into typed records.
//
// Failure policy: a bad line never aborts its file. Malformed JSON and
// schema violations are reported through the onRowErr callback and the
// stream continues with the next line. Only I/O failures and context
// cancellation are terminal.
package jsonl

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"playmart/internal/model"
)

// SyntaxError marks a line that is not valid JSON.
type SyntaxError struct {
	Line int
	Err  error
}

func (e *SyntaxError) Error() string { return fmt.Sprintf("line %d: invalid json: %v", e.Line, e.Err) }
func (e *SyntaxError) Unwrap() error { return e.Err }

// SchemaError marks a line that decoded but is missing a required field or
// carries a wrongly-typed value.
type SchemaError struct {
	Line int
	Err  error
}

func (e *SchemaError) Error() string { return fmt.Sprintf("line %d: schema: %v", e.Line, e.Err) }
func (e *SchemaError) Unwrap() error { return e.Err }

// scanBufSize bounds a single input line. Catalog records are small; activity
// events carry a user_agent string but stay well under this.
const scanBufSize = 1 << 20

// StreamSongRecords decodes song records from r into out.
//
// Each record is validated before emission; invalid rows go to onRowErr as
// *SyntaxError or *SchemaError and are skipped. Sends honor ctx. The reader
// is not restartable mid-stream; restart means re-reading from the start.
func StreamSongRecords(ctx context.Context, r io.Reader, out chan<- model.SongRecord, onRowErr func(err error)) error {
	return streamLines(ctx, r, onRowErr, func(line int, data []byte) (model.SongRecord, error) {
		var rec model.SongRecord
		if err := decodeLine(line, data, &rec); err != nil {
			return rec, err
		}
		if err := rec.Validate(); err != nil {
			return rec, &SchemaError{Line: line, Err: err}
		}
		return rec, nil
	}, out)
}

// StreamLogRecords decodes activity events from r into out. Filtering by page
// is the mapper's concern; every valid event is emitted.
func StreamLogRecords(ctx context.Context, r io.Reader, out chan<- model.LogRecord, onRowErr func(err error)) error {
	return streamLines(ctx, r, onRowErr, func(line int, data []byte) (model.LogRecord, error) {
		var rec model.LogRecord
		if err := decodeLine(line, data, &rec); err != nil {
			return rec, err
		}
		if err := rec.Validate(); err != nil {
			return rec, &SchemaError{Line: line, Err: err}
		}
		return rec, nil
	}, out)
}

func streamLines[T any](
	ctx context.Context,
	r io.Reader,
	onRowErr func(err error),
	decode func(line int, data []byte) (T, error),
	out chan<- T,
) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), scanBufSize)

	line := 0
	for sc.Scan() {
		line++

		data := bytes.TrimSpace(sc.Bytes())
		if len(data) == 0 {
			continue
		}

		rec, err := decode(line, data)
		if err != nil {
			if onRowErr != nil {
				onRowErr(err)
			}
			continue
		}

		select {
		case out <- rec:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("jsonl: scan line %d: %w", line+1, err)
	}
	return nil
}

// decodeLine unmarshals one line, classifying failures: JSON syntax problems
// become *SyntaxError, everything else (type mismatches, bad embedded ids)
// becomes *SchemaError.
func decodeLine(line int, data []byte, v any) error {
	err := json.Unmarshal(data, v)
	if err == nil {
		return nil
	}

	var synErr *json.SyntaxError
	if errors.As(err, &synErr) {
		return &SyntaxError{Line: line, Err: err}
	}
	return &SchemaError{Line: line, Err: err}
}
