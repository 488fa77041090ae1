package source

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileSource enumerates *.json files under a local root. The song corpus is
// nested by id prefix, so it walks recursively; the log corpus is flat.
type FileSource struct {
	root      string
	recursive bool
}

func NewFileSource(root string, recursive bool) *FileSource {
	return &FileSource{root: root, recursive: recursive}
}

// Files lists matching files sorted by path, so runs over the same corpus
// process files in the same order.
func (s *FileSource) Files(ctx context.Context) ([]Handle, error) {
	var paths []string

	if s.recursive {
		err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if !d.IsDir() && strings.HasSuffix(d.Name(), ".json") {
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	} else {
		entries, err := os.ReadDir(s.root)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
				paths = append(paths, filepath.Join(s.root, e.Name()))
			}
		}
	}

	sort.Strings(paths)

	out := make([]Handle, 0, len(paths))
	for _, p := range paths {
		out = append(out, fileHandle(p))
	}
	return out, nil
}

type fileHandle string

func (h fileHandle) Name() string { return string(h) }

func (h fileHandle) Open(ctx context.Context) (io.ReadCloser, error) {
	return os.Open(string(h))
}
