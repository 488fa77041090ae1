// Package config defines the pipeline configuration surface for the playmart
// ETL. Configuration is an explicit value decoded once at startup and passed
// into the pipeline driver at construction; there is no package-level mutable
// state.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// Pipeline is the root configuration for one ETL run.
type Pipeline struct {
	Job      string   `json:"job"`
	Source   Source   `json:"source"`
	Storage  Storage  `json:"storage"`
	Resolver Resolver `json:"resolver"`
	Runtime  Runtime  `json:"runtime"`
}

// Source describes where the two input corpora live.
//
// kind selects the enumeration strategy:
//   - "file": songs.path is walked recursively for *.json, logs.path is read flat.
//   - "s3":   songs/logs paths are s3://bucket/prefix URIs; options.region applies.
type Source struct {
	Kind    string  `json:"kind"`
	Songs   Corpus  `json:"songs"`
	Logs    Corpus  `json:"logs"`
	Options Options `json:"options,omitempty"`
}

// Corpus is one input file set.
type Corpus struct {
	Path string `json:"path"`
}

// Storage selects and configures the sink backend.
type Storage struct {
	// Kind: "postgres" | "sqlite" | "mssql".
	Kind string `json:"kind"`
	// DSN is backend-specific; ${ENV} references are expanded at run start.
	DSN string `json:"dsn"`
	// Recreate drops and recreates the warehouse tables before loading.
	Recreate bool `json:"recreate,omitempty"`
}

// Resolver tunes catalog matching for play events.
type Resolver struct {
	// DurationTolerance is the absolute tolerance, in seconds, applied when
	// comparing an event's length to a catalog duration. 0 means exact float
	// equality, which matches the upstream join semantics.
	DurationTolerance float64 `json:"duration_tolerance,omitempty"`
}

// Runtime controls execution behavior that does not affect results.
type Runtime struct {
	// BatchSize bounds rows per sink write. <=0 means the default (1024).
	BatchSize int `json:"batch_size,omitempty"`
	// ChannelBuffer sizes the record channels between reader and transform.
	// <=0 means the default (256).
	ChannelBuffer int `json:"channel_buffer,omitempty"`
}

// Severity classifies a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding with a JSON-ish path to the offending field.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

// Load reads and decodes a pipeline config from a JSON file.
func Load(path string) (Pipeline, error) {
	f, err := os.Open(path)
	if err != nil {
		return Pipeline{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode decodes a pipeline config from r. Unknown fields are rejected so
// typos surface at startup rather than as silently-defaulted behavior.
func Decode(r io.Reader) (Pipeline, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	var p Pipeline
	if err := dec.Decode(&p); err != nil {
		return Pipeline{}, fmt.Errorf("decode config: %w", err)
	}
	return p, nil
}

// ValidatePipeline checks a decoded config and returns all findings, errors
// and warnings alike. Callers decide whether warnings are acceptable.
func ValidatePipeline(p Pipeline) []Issue {
	var issues []Issue

	errf := func(path, format string, a ...any) {
		issues = append(issues, Issue{Severity: SeverityError, Path: path, Message: fmt.Sprintf(format, a...)})
	}
	warnf := func(path, format string, a ...any) {
		issues = append(issues, Issue{Severity: SeverityWarning, Path: path, Message: fmt.Sprintf(format, a...)})
	}

	switch p.Source.Kind {
	case "file":
		if p.Source.Songs.Path == "" {
			errf("source.songs.path", "song corpus path is required")
		}
		if p.Source.Logs.Path == "" {
			errf("source.logs.path", "log corpus path is required")
		}
	case "s3":
		for path, uri := range map[string]string{
			"source.songs.path": p.Source.Songs.Path,
			"source.logs.path":  p.Source.Logs.Path,
		} {
			if uri == "" {
				errf(path, "s3 uri is required")
				continue
			}
			if !strings.HasPrefix(uri, "s3://") {
				errf(path, "must be an s3://bucket/prefix uri, got %q", uri)
			}
		}
		if p.Source.Options.String("region", "") == "" {
			warnf("source.options.region", "no region set; the AWS SDK default chain will be used")
		}
	case "":
		errf("source.kind", "source.kind is required (file or s3)")
	default:
		errf("source.kind", "unsupported source.kind %q", p.Source.Kind)
	}

	if p.Storage.Kind == "" {
		errf("storage.kind", "storage.kind is required")
	}
	if p.Storage.DSN == "" {
		errf("storage.dsn", "storage.dsn is required")
	}

	if p.Resolver.DurationTolerance < 0 {
		errf("resolver.duration_tolerance", "must be >= 0, got %v", p.Resolver.DurationTolerance)
	}
	if p.Runtime.BatchSize < 0 {
		errf("runtime.batch_size", "must be >= 0, got %d", p.Runtime.BatchSize)
	}

	if p.Job == "" {
		warnf("job", "no job name set; metrics will use the default job tag")
	}

	return issues
}

// HasErrors reports whether any issue carries error severity.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}
