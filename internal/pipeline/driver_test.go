package pipeline

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"playmart/internal/config"
	"playmart/internal/load"
	"playmart/internal/source"
	"playmart/internal/storage"
	_ "playmart/internal/storage/sqlite"
	"playmart/internal/warehouse"
)

type memHandle struct {
	name    string
	data    string
	openErr error
	readErr error
}

func (h memHandle) Name() string { return h.name }

func (h memHandle) Open(context.Context) (io.ReadCloser, error) {
	if h.openErr != nil {
		return nil, h.openErr
	}
	var r io.Reader = strings.NewReader(h.data)
	if h.readErr != nil {
		r = io.MultiReader(r, errReader{err: h.readErr})
	}
	return io.NopCloser(r), nil
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

// recordingRepo delegates to a real sink, captures the songplay rows on their
// way in, and can fail all writes to one table.
type recordingRepo struct {
	storage.Repository
	failTable string

	mu        sync.Mutex
	songplays [][]any
}

func (r *recordingRepo) Upsert(ctx context.Context, table string, columns []string, rows [][]any, policy storage.ConflictPolicy) (int64, error) {
	if table == r.failTable {
		return 0, errors.New("sink unavailable")
	}
	if table == warehouse.TableSongplays {
		r.mu.Lock()
		r.songplays = append(r.songplays, rows...)
		r.mu.Unlock()
	}
	return r.Repository.Upsert(ctx, table, columns, rows, policy)
}

type memSource struct{ handles []source.Handle }

func (s memSource) Files(context.Context) ([]source.Handle, error) { return s.handles, nil }

// memSources routes the two corpora by their configured path.
func memSources(songs, logs []source.Handle) SourceFn {
	return func(_ config.Source, c config.Corpus, _ bool) (source.Source, error) {
		if c.Path == "song_data" {
			return memSource{handles: songs}, nil
		}
		return memSource{handles: logs}, nil
	}
}

func testConfig() config.Pipeline {
	return config.Pipeline{
		Job: "test",
		Source: config.Source{
			Kind:  "file",
			Songs: config.Corpus{Path: "song_data"},
			Logs:  config.Corpus{Path: "log_data"},
		},
		Storage: config.Storage{Kind: "sqlite", DSN: ":memory:"},
	}
}

func newTestDriver(t *testing.T, cfg config.Pipeline, songs, logs []source.Handle) (*Driver, *load.Coordinator, *recordingRepo) {
	t.Helper()

	repo, err := storage.New(context.Background(), storage.Config{Kind: cfg.Storage.Kind, DSN: cfg.Storage.DSN})
	require.NoError(t, err)
	t.Cleanup(repo.Close)

	rec := &recordingRepo{Repository: repo}
	coord := load.NewCoordinator(rec, warehouse.Tables(), cfg.Runtime.BatchSize)
	d := New(cfg, coord)
	d.Sources = memSources(songs, logs)
	return d, coord, rec
}

const (
	songCasual = `{"num_songs":1,"artist_id":"AR1","artist_latitude":35.1,"artist_longitude":-90.0,"artist_location":"Memphis","artist_name":"Casual","song_id":"SOAAA1","title":"I Didn't Mean To","duration":218.93179,"year":1994}`
	songDupA   = `{"num_songs":1,"artist_id":"AR2","artist_latitude":null,"artist_longitude":null,"artist_location":"","artist_name":"Clone","song_id":"SOBBB2","title":"Same Song","duration":100.5,"year":0}`
	songDupB   = `{"num_songs":1,"artist_id":"AR3","artist_latitude":null,"artist_longitude":null,"artist_location":"","artist_name":"Clone","song_id":"SOCCC3","title":"Same Song","duration":100.5,"year":0}`
)

func logLine(fields map[string]string) string {
	base := map[string]string{
		"artist":    `"Casual"`,
		"firstName": `"Lily"`,
		"gender":    `"F"`,
		"lastName":  `"Koch"`,
		"length":    `218.93179`,
		"level":     `"paid"`,
		"location":  `"Chicago-Naperville-Elgin, IL-IN-WI"`,
		"method":    `"PUT"`,
		"page":      `"NextSong"`,
		"sessionId": `818`,
		"song":      `"I Didn't Mean To"`,
		"status":    `200`,
		"ts":        `1541106106796`,
		"userAgent": `"Mozilla/5.0"`,
		"userId":    `"15"`,
	}
	for k, v := range fields {
		base[k] = v
	}
	var parts []string
	for k, v := range base {
		parts = append(parts, `"`+k+`":`+v)
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func TestRun_EndToEnd(t *testing.T) {
	songs := []source.Handle{
		memHandle{name: "song_data/A/TRAAA.json", data: songCasual},
		memHandle{name: "song_data/B/TRBBB.json", data: songDupA + "\n" + songDupB},
	}
	logLines := []string{
		// Resolves against the catalog.
		logLine(nil),
		// Same song title against the two-entry catalog pair.
		logLine(map[string]string{
			"artist": `"Clone"`, "song": `"Same Song"`, "length": `100.5`,
			"ts": `1541106206796`, "userId": `16`, "firstName": `"Jay"`, "lastName": `"Ng"`, "level": `"free"`,
		}),
		// Unknown song.
		logLine(map[string]string{
			"song": `"Not In Catalog"`, "length": `9.9`, "ts": `1541106306796`,
		}),
		// Anonymous play keeps its time row but produces no fact or user.
		logLine(map[string]string{"userId": `""`, "ts": `1541106406796`}),
		// Browsing events never reach the fact table.
		logLine(map[string]string{"page": `"Home"`, "ts": `1541106506796`}),
		`{not json`,
		// Unusable event (no timestamp).
		logLine(map[string]string{"ts": `0`}),
	}
	logs := []source.Handle{
		memHandle{name: "log_data/2018-11-01-events.json", data: strings.Join(logLines, "\n")},
	}

	d, coord, rec := newTestDriver(t, testConfig(), songs, logs)
	sum, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateDone, sum.State)
	assert.Equal(t, StateDone, d.State())
	assert.Equal(t, 2, sum.Songs.FilesProcessed)
	assert.Equal(t, 1, sum.Logs.FilesProcessed)
	assert.Empty(t, sum.Failures)

	assert.Equal(t, 3, sum.CatalogSize)
	assert.Equal(t, int64(4), sum.PlayEvents)
	assert.Equal(t, int64(1), sum.Unmatched)
	assert.Equal(t, int64(1), sum.Ambiguous)

	assert.Equal(t, int64(1), sum.RowsSkipped[SkipNonPlay])
	assert.Equal(t, int64(1), sum.RowsSkipped[SkipMalformedLine])
	assert.Equal(t, int64(1), sum.RowsSkipped[SkipSchemaMismatch])
	assert.Equal(t, int64(1), sum.RowsSkipped[SkipMissingUser])

	assert.Equal(t, int64(3), sum.RowsLoaded[warehouse.TableSongs])
	assert.Equal(t, int64(3), sum.RowsLoaded[warehouse.TableArtists])
	assert.Equal(t, int64(2), sum.RowsLoaded[warehouse.TableUsers])
	assert.Equal(t, int64(4), sum.RowsLoaded[warehouse.TableTime])
	assert.Equal(t, int64(3), sum.RowsLoaded[warehouse.TableSongplays])

	for table, want := range map[string]int64{
		warehouse.TableSongs:     3,
		warehouse.TableArtists:   3,
		warehouse.TableUsers:     2,
		warehouse.TableTime:      4,
		warehouse.TableSongplays: 3,
	} {
		n, err := coord.CountRows(context.Background(), table)
		require.NoError(t, err)
		assert.Equal(t, want, n, "table %s", table)
	}

	// The resolved play persists its catalog references; the unknown song
	// persists with null references.
	byStart := map[int64][]any{}
	for _, row := range rec.songplays {
		byStart[row[0].(time.Time).UnixMilli()] = row
	}
	matched := byStart[1541106106796]
	require.NotNil(t, matched)
	assert.Equal(t, "SOAAA1", matched[3])
	assert.Equal(t, "AR1", matched[4])

	unmatched := byStart[1541106306796]
	require.NotNil(t, unmatched)
	assert.Nil(t, unmatched[3])
	assert.Nil(t, unmatched[4])
}

func TestRun_FailedTableWriteStillLoadsRemainingTables(t *testing.T) {
	songs := []source.Handle{memHandle{name: "a.json", data: songCasual}}
	logs := []source.Handle{memHandle{name: "e.json", data: logLine(nil)}}

	d, coord, rec := newTestDriver(t, testConfig(), songs, logs)
	rec.failTable = warehouse.TableTime

	sum, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateDone, sum.State)
	assert.Equal(t, 1, sum.Logs.FilesFailed)
	require.Len(t, sum.Failures, 1)
	var sink *SinkError
	require.ErrorAs(t, sum.Failures[0], &sink)
	assert.Equal(t, warehouse.TableTime, sink.Table)

	// The tables after the failed one still received the file's rows.
	for table, want := range map[string]int64{
		warehouse.TableTime:      0,
		warehouse.TableUsers:     1,
		warehouse.TableSongplays: 1,
	} {
		n, err := coord.CountRows(context.Background(), table)
		require.NoError(t, err)
		assert.Equal(t, want, n, "table %s", table)
	}
}

func TestRun_RerunIsIdempotent(t *testing.T) {
	songs := []source.Handle{memHandle{name: "a.json", data: songCasual}}
	logs := []source.Handle{memHandle{name: "e.json", data: logLine(nil)}}

	d, coord, _ := newTestDriver(t, testConfig(), songs, logs)
	_, err := d.Run(context.Background())
	require.NoError(t, err)

	before := map[string]int64{}
	for _, table := range []string{warehouse.TableSongs, warehouse.TableUsers, warehouse.TableTime, warehouse.TableSongplays} {
		before[table], err = coord.CountRows(context.Background(), table)
		require.NoError(t, err)
	}

	sum, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDone, sum.State)

	// Insert-only tables see every replayed row discarded on conflict.
	assert.Zero(t, sum.RowsLoaded[warehouse.TableSongs])
	assert.Zero(t, sum.RowsLoaded[warehouse.TableTime])
	assert.Zero(t, sum.RowsLoaded[warehouse.TableSongplays])

	for table, want := range before {
		n, err := coord.CountRows(context.Background(), table)
		require.NoError(t, err)
		assert.Equal(t, want, n, "table %s", table)
	}
}

func TestRun_FileFailureDoesNotAbort(t *testing.T) {
	songs := []source.Handle{memHandle{name: "a.json", data: songCasual}}
	logs := []source.Handle{
		memHandle{name: "broken.json", openErr: errors.New("permission denied")},
		memHandle{name: "good.json", data: logLine(nil)},
	}

	d, _, _ := newTestDriver(t, testConfig(), songs, logs)
	sum, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateDone, sum.State)
	assert.Equal(t, 1, sum.Logs.FilesFailed)
	assert.Equal(t, 1, sum.Logs.FilesProcessed)
	require.Len(t, sum.Failures, 1)
	assert.Equal(t, "logs", sum.Failures[0].Corpus)
	assert.Equal(t, "broken.json", sum.Failures[0].Name)
	assert.Equal(t, int64(1), sum.RowsLoaded[warehouse.TableSongplays])
}

func TestRun_MidStreamErrorFailsOnlyThatFile(t *testing.T) {
	songs := []source.Handle{
		memHandle{name: "a.json", data: songCasual},
		memHandle{name: "b.json", data: songDupA + "\n", readErr: errors.New("read: connection reset")},
	}

	d, _, _ := newTestDriver(t, testConfig(), songs, nil)
	sum, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Songs.FilesProcessed)
	assert.Equal(t, 1, sum.Songs.FilesFailed)
	// Only the healthy file reached the catalog.
	assert.Equal(t, 1, sum.CatalogSize)
}

func TestRun_EnumerationFailureIsFatal(t *testing.T) {
	d, _, _ := newTestDriver(t, testConfig(), nil, nil)
	d.Sources = func(config.Source, config.Corpus, bool) (source.Source, error) {
		return nil, errors.New("bucket does not exist")
	}

	sum, err := d.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateFailed, sum.State)
	assert.Equal(t, StateFailed, d.State())
}

func TestRun_CanceledContextIsFatal(t *testing.T) {
	songs := []source.Handle{memHandle{name: "a.json", data: songCasual}}

	d, _, _ := newTestDriver(t, testConfig(), songs, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sum, err := d.Run(ctx)
	require.Error(t, err)
	assert.Equal(t, StateFailed, sum.State)
}

func TestRun_RecreateDropsPriorRows(t *testing.T) {
	songs := []source.Handle{memHandle{name: "a.json", data: songCasual}}

	cfg := testConfig()
	d, coord, _ := newTestDriver(t, cfg, songs, nil)
	_, err := d.Run(context.Background())
	require.NoError(t, err)

	// Same sink, fresh driver with recreate set: prior rows are gone and the
	// corpus loads into empty tables.
	cfg.Storage.Recreate = true
	d2 := New(cfg, coord)
	d2.Sources = memSources(songs, nil)
	sum, err := d2.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), sum.RowsLoaded[warehouse.TableSongs])

	n, err := coord.CountRows(context.Background(), warehouse.TableSongs)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRun_UserLevelFollowsLatestEvent(t *testing.T) {
	songs := []source.Handle{memHandle{name: "a.json", data: songCasual}}
	lines := []string{
		logLine(map[string]string{"level": `"free"`, "ts": `1541106106796`}),
		logLine(map[string]string{"level": `"paid"`, "ts": `1541106206796`}),
	}
	logs := []source.Handle{memHandle{name: "e.json", data: strings.Join(lines, "\n")}}

	d, coord, _ := newTestDriver(t, testConfig(), songs, logs)
	sum, err := d.Run(context.Background())
	require.NoError(t, err)

	// Both events belong to one user; the merge keeps a single row.
	assert.Equal(t, int64(1), sum.RowsLoaded[warehouse.TableUsers])
	n, err := coord.CountRows(context.Background(), warehouse.TableUsers)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, int64(2), sum.RowsLoaded[warehouse.TableSongplays])
}
