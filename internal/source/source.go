// Package source enumerates input corpora and hands the pipeline opened
// readers. The pipeline never cares whether files live on disk or in S3;
// directory layout is this package's concern.
package source

import (
	"context"
	"fmt"
	"io"

	"playmart/internal/config"
)

// Handle is one enumerable input file.
type Handle interface {
	// Name is a stable, human-readable identifier (path or object key),
	// used in logs and error reports.
	Name() string
	// Open returns the file contents. The caller closes the reader.
	Open(ctx context.Context) (io.ReadCloser, error)
}

// Source enumerates one corpus.
type Source interface {
	// Files lists the corpus in deterministic order.
	Files(ctx context.Context) ([]Handle, error)
}

// ForCorpus builds a Source for one corpus from the pipeline config.
// recursive applies only to the file kind; S3 prefixes are inherently
// recursive.
func ForCorpus(cfg config.Source, c config.Corpus, recursive bool) (Source, error) {
	switch cfg.Kind {
	case "file":
		return NewFileSource(c.Path, recursive), nil
	case "s3":
		return NewS3Source(c.Path, cfg.Options.String("region", ""))
	default:
		return nil, fmt.Errorf("source: unsupported kind %q", cfg.Kind)
	}
}
