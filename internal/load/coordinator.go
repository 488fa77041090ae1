// Package load is the upsert coordinator: it owns the sink handle, knows the
// conflict policy of every warehouse table, and serializes writes so that
// last-write-wins on mutable columns holds even if callers ever load
// concurrently.
package load

import (
	"context"
	"sync"

	"playmart/internal/model"
	"playmart/internal/storage"
	"playmart/internal/warehouse"
)

// Coordinator applies per-table conflict policies on top of a
// storage.Repository. All writes go through a single mutex; conflicting
// upserts to the same identity key are therefore linearized, which is what
// keeps the user-level merge deterministic.
type Coordinator struct {
	repo      storage.Repository
	batchSize int

	mu     sync.Mutex
	specs  map[string]storage.TableSpec
	loaded map[string]int64
}

// DefaultBatchSize bounds rows per sink write when the config does not say
// otherwise.
const DefaultBatchSize = 1024

// NewCoordinator wraps a repository with the given table specs. batchSize
// <= 0 selects DefaultBatchSize.
func NewCoordinator(repo storage.Repository, tables []storage.TableSpec, batchSize int) *Coordinator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	specs := make(map[string]storage.TableSpec, len(tables))
	for _, t := range tables {
		specs[t.Name] = t
	}
	return &Coordinator{
		repo:      repo,
		batchSize: batchSize,
		specs:     specs,
		loaded:    make(map[string]int64),
	}
}

// EnsureTables creates the warehouse tables. Safe to call at every run start.
func (c *Coordinator) EnsureTables(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.repo.EnsureTables(ctx, c.tableList())
}

// DropTables removes the warehouse tables. Used by recreate runs before
// EnsureTables.
func (c *Coordinator) DropTables(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.repo.DropTables(ctx, c.tableList())
}

func (c *Coordinator) tableList() []storage.TableSpec {
	out := make([]storage.TableSpec, 0, len(c.specs))
	for _, name := range []string{
		warehouse.TableSongs,
		warehouse.TableArtists,
		warehouse.TableUsers,
		warehouse.TableTime,
		warehouse.TableSongplays,
	} {
		if t, ok := c.specs[name]; ok {
			out = append(out, t)
		}
	}
	return out
}

func (c *Coordinator) LoadSongs(ctx context.Context, songs []model.Song) (int64, error) {
	rows := make([][]any, 0, len(songs))
	for _, s := range songs {
		rows = append(rows, warehouse.SongRow(s))
	}
	return c.load(ctx, warehouse.TableSongs, rows)
}

func (c *Coordinator) LoadArtists(ctx context.Context, artists []model.Artist) (int64, error) {
	rows := make([][]any, 0, len(artists))
	for _, a := range artists {
		rows = append(rows, warehouse.ArtistRow(a))
	}
	return c.load(ctx, warehouse.TableArtists, rows)
}

func (c *Coordinator) LoadUsers(ctx context.Context, users []model.User) (int64, error) {
	rows := make([][]any, 0, len(users))
	for _, u := range users {
		rows = append(rows, warehouse.UserRow(u))
	}
	return c.load(ctx, warehouse.TableUsers, rows)
}

func (c *Coordinator) LoadTime(ctx context.Context, times []model.TimeRow) (int64, error) {
	rows := make([][]any, 0, len(times))
	for _, t := range times {
		rows = append(rows, warehouse.TimeRow(t))
	}
	return c.load(ctx, warehouse.TableTime, rows)
}

func (c *Coordinator) LoadSongplays(ctx context.Context, plays []model.Songplay) (int64, error) {
	rows := make([][]any, 0, len(plays))
	for _, p := range plays {
		rows = append(rows, warehouse.SongplayRow(p))
	}
	return c.load(ctx, warehouse.TableSongplays, rows)
}

// load writes rows in bounded batches under the table's policy.
func (c *Coordinator) load(ctx context.Context, table string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	spec := c.specs[table]
	columns := spec.ColumnNames()

	var total int64
	for start := 0; start < len(rows); start += c.batchSize {
		end := start + c.batchSize
		if end > len(rows) {
			end = len(rows)
		}
		n, err := c.repo.Upsert(ctx, table, columns, rows[start:end], spec.Policy)
		total += n
		c.loaded[table] += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Loaded returns rows written per table over the coordinator's lifetime
// (conflict-discarded rows excluded).
func (c *Coordinator) Loaded() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]int64, len(c.loaded))
	for k, v := range c.loaded {
		out[k] = v
	}
	return out
}

// CountRows reports the sink-side row count of one table.
func (c *Coordinator) CountRows(ctx context.Context, table string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.repo.CountRows(ctx, table)
}
