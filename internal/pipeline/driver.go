// Package pipeline drives one end-to-end run: enumerate both corpora, stream
// and validate records, derive dimension and fact rows, and hand them to the
// load coordinator file by file. The song corpus is processed completely
// before the activity corpus so catalog resolution always sees the full
// catalog of the run.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"playmart/internal/config"
	"playmart/internal/load"
	"playmart/internal/metrics"
	"playmart/internal/model"
	"playmart/internal/parser/jsonl"
	"playmart/internal/source"
	"playmart/internal/transform"
	"playmart/internal/warehouse"
)

// Logger is the minimal logging interface used by the driver.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// SourceFn is a seam for providing corpus sources.
//
// When to use:
//   - Unit tests: inject deterministic in-memory handles without touching
//     the filesystem or S3.
//   - Production: leave nil; source.ForCorpus is used.
type SourceFn func(cfg config.Source, c config.Corpus, recursive bool) (source.Source, error)

const defaultChannelBuffer = 256

// Driver executes the two-corpus run. One Driver runs one pipeline config;
// Run may be called again for an idempotent re-run against the same sink.
type Driver struct {
	Logger  Logger
	Sources SourceFn

	cfg   config.Pipeline
	coord *load.Coordinator

	mu    sync.Mutex
	state State
}

// New builds a driver over a coordinator whose repository is already
// connected. Sink reachability is the caller's startup concern; by the time
// a driver exists, sink failures are per-write.
func New(cfg config.Pipeline, coord *load.Coordinator) *Driver {
	return &Driver{cfg: cfg, coord: coord, state: StateIdle}
}

// State reports the driver's current lifecycle phase.
func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Driver) setState(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

func (d *Driver) logf() func(format string, v ...any) {
	if d.Logger == nil {
		l := log.New(io.Discard, "", 0)
		return l.Printf
	}
	return d.Logger.Printf
}

func (d *Driver) channelBuffer() int {
	if d.cfg.Runtime.ChannelBuffer > 0 {
		return d.cfg.Runtime.ChannelBuffer
	}
	return defaultChannelBuffer
}

func (d *Driver) sourceFor(c config.Corpus, recursive bool) (source.Source, error) {
	if d.Sources != nil {
		return d.Sources(d.cfg.Source, c, recursive)
	}
	return source.ForCorpus(d.cfg.Source, c, recursive)
}

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }

// Run executes the full pipeline and returns its summary.
//
// Errors:
//   - A non-nil error means the run is fatal and incomplete: DDL failure,
//     corpus enumeration failure, or context cancellation.
//   - Per-file failures (unreadable file, mid-stream I/O error, failed sink
//     write) do not abort the run; they are logged, counted, and carried in
//     the summary's Failures.
func (d *Driver) Run(ctx context.Context) (*RunSummary, error) {
	logf := d.logf()
	sum := newRunSummary()
	start := time.Now()

	fail := func(err error) (*RunSummary, error) {
		d.setState(StateFailed)
		sum.State = StateFailed
		sum.Duration = time.Since(start)
		return sum, err
	}

	ddlStart := time.Now()
	if d.cfg.Storage.Recreate {
		if err := d.coord.DropTables(ctx); err != nil {
			return fail(fmt.Errorf("drop tables: %w", err))
		}
		logf("stage=ddl dropped existing tables")
	}
	if err := d.coord.EnsureTables(ctx); err != nil {
		return fail(fmt.Errorf("ensure tables: %w", err))
	}
	logf("stage=ddl ok duration=%s", durMS(ddlStart))

	d.setState(StateReading)

	enumStart := time.Now()
	songsSrc, err := d.sourceFor(d.cfg.Source.Songs, true)
	if err != nil {
		return fail(fmt.Errorf("song corpus: %w", err))
	}
	songFiles, err := songsSrc.Files(ctx)
	if err != nil {
		return fail(fmt.Errorf("song corpus: %w", err))
	}
	logsSrc, err := d.sourceFor(d.cfg.Source.Logs, false)
	if err != nil {
		return fail(fmt.Errorf("log corpus: %w", err))
	}
	logFiles, err := logsSrc.Files(ctx)
	if err != nil {
		return fail(fmt.Errorf("log corpus: %w", err))
	}
	logf("stage=enumerate song_files=%d log_files=%d duration=%s",
		len(songFiles), len(logFiles), durMS(enumStart))

	catalog := transform.NewCatalog(d.cfg.Resolver.DurationTolerance)

	songsStart := time.Now()
	for i, h := range songFiles {
		err := d.processSongFile(ctx, h, catalog, sum)
		if err != nil {
			if ctx.Err() != nil {
				return fail(ctx.Err())
			}
			sum.Songs.FilesFailed++
			fe := &FileError{Corpus: "songs", Name: h.Name(), Err: err}
			sum.Failures = append(sum.Failures, fe)
			metrics.IncCounter(metrics.FilesTotal, 1, metrics.Labels{"corpus": "songs", "status": "failed"})
			logf("stage=songs file=%s status=error err=%v", h.Name(), err)
			continue
		}
		sum.Songs.FilesProcessed++
		metrics.IncCounter(metrics.FilesTotal, 1, metrics.Labels{"corpus": "songs", "status": "ok"})
		logf("stage=songs %d/%d files processed", i+1, len(songFiles))
	}
	sum.CatalogSize = catalog.Size()
	metrics.ObserveHistogram(metrics.StageDurationSeconds, time.Since(songsStart).Seconds(),
		metrics.Labels{"stage": "songs", "status": "ok"})
	logf("stage=songs ok files=%d catalog_size=%d duration=%s",
		sum.Songs.FilesProcessed, sum.CatalogSize, durMS(songsStart))

	logsStart := time.Now()
	for i, h := range logFiles {
		err := d.processLogFile(ctx, h, catalog, sum)
		if err != nil {
			if ctx.Err() != nil {
				return fail(ctx.Err())
			}
			sum.Logs.FilesFailed++
			fe := &FileError{Corpus: "logs", Name: h.Name(), Err: err}
			sum.Failures = append(sum.Failures, fe)
			metrics.IncCounter(metrics.FilesTotal, 1, metrics.Labels{"corpus": "logs", "status": "failed"})
			logf("stage=logs file=%s status=error err=%v", h.Name(), err)
			continue
		}
		sum.Logs.FilesProcessed++
		metrics.IncCounter(metrics.FilesTotal, 1, metrics.Labels{"corpus": "logs", "status": "ok"})
		logf("stage=logs %d/%d files processed", i+1, len(logFiles))
	}
	metrics.ObserveHistogram(metrics.StageDurationSeconds, time.Since(logsStart).Seconds(),
		metrics.Labels{"stage": "logs", "status": "ok"})
	logf("stage=logs ok files=%d plays=%d unmatched=%d ambiguous=%d duration=%s",
		sum.Logs.FilesProcessed, sum.PlayEvents, sum.Unmatched, sum.Ambiguous, durMS(logsStart))

	d.setState(StateDone)
	sum.State = StateDone
	sum.Duration = time.Since(start)
	logf("stage=done songs_files=%d log_files=%d failed_files=%d duration=%s",
		sum.Songs.FilesProcessed, sum.Logs.FilesProcessed,
		sum.Songs.FilesFailed+sum.Logs.FilesFailed, durMS(start))
	return sum, nil
}

// processSongFile streams one catalog file, fills the resolver catalog, and
// loads the songs and artists dimensions. Each sink write is its own
// transaction, so a failed file leaves previously processed files loaded.
func (d *Driver) processSongFile(ctx context.Context, h source.Handle, catalog *transform.Catalog, sum *RunSummary) error {
	rc, err := h.Open(ctx)
	if err != nil {
		return err
	}
	defer rc.Close()

	d.setState(StateReading)
	recs, err := collectRecords(ctx, rc, d.channelBuffer(), jsonl.StreamSongRecords, d.rowSkipper(sum))
	if err != nil {
		return err
	}

	d.setState(StateTransforming)
	songs := make([]model.Song, 0, len(recs))
	artists := make([]model.Artist, 0, len(recs))
	for _, r := range recs {
		if err := r.Validate(); err != nil {
			d.skip(sum, SkipSchemaMismatch)
			continue
		}
		catalog.Add(r)
		songs = append(songs, transform.SongDim(r))
		artists = append(artists, transform.ArtistDim(r))
	}
	songs = transform.DedupeByKey(songs, func(s model.Song) string { return s.SongID })
	artists = transform.DedupeByKey(artists, func(a model.Artist) string { return a.ArtistID })

	d.setState(StateLoading)
	sink := newSinkTracker(d, sum)
	sink.record(warehouse.TableSongs)(d.coord.LoadSongs(ctx, songs))
	sink.record(warehouse.TableArtists)(d.coord.LoadArtists(ctx, artists))
	return sink.err
}

// sinkTracker accounts loaded rows per table and keeps the first failed
// write. A failed table does not stop the remaining tables of its file; the
// file is reported failed and the run moves on.
type sinkTracker struct {
	d   *Driver
	sum *RunSummary
	err error
}

func newSinkTracker(d *Driver, sum *RunSummary) *sinkTracker {
	return &sinkTracker{d: d, sum: sum}
}

func (s *sinkTracker) record(table string) func(int64, error) {
	return func(n int64, err error) {
		s.d.countLoaded(s.sum, table, n)
		if err != nil && s.err == nil {
			s.err = &SinkError{Table: table, Err: err}
		}
	}
}

// processLogFile streams one activity file, filters play events, derives the
// time, users, and songplays rows, and loads them in dependency order.
func (d *Driver) processLogFile(ctx context.Context, h source.Handle, catalog *transform.Catalog, sum *RunSummary) error {
	rc, err := h.Open(ctx)
	if err != nil {
		return err
	}
	defer rc.Close()

	d.setState(StateReading)
	recs, err := collectRecords(ctx, rc, d.channelBuffer(), jsonl.StreamLogRecords, d.rowSkipper(sum))
	if err != nil {
		return err
	}

	d.setState(StateTransforming)
	plays := recs[:0]
	for _, r := range recs {
		if err := r.Validate(); err != nil {
			d.skip(sum, SkipSchemaMismatch)
			continue
		}
		if !r.IsPlay() {
			d.skip(sum, SkipNonPlay)
			continue
		}
		plays = append(plays, r)
	}
	sum.PlayEvents += int64(len(plays))

	times := make([]model.TimeRow, 0, len(plays))
	users := make([]model.User, 0, len(plays))
	facts := make([]model.Songplay, 0, len(plays))
	for _, r := range plays {
		// The time dimension covers every play, including anonymous ones.
		times = append(times, transform.TimeDim(r))
		if u, ok := transform.UserDim(r); ok {
			users = append(users, u)
		}

		res := catalog.Resolve(r.Song, r.Artist, r.Length)
		f, ok := transform.PlayFact(r, res)
		if !ok {
			d.skip(sum, SkipMissingUser)
			continue
		}
		if res.Ambiguous {
			sum.Ambiguous++
			metrics.IncCounter(metrics.EventsAmbiguousTotal, 1, nil)
		}
		if !res.Matched() {
			sum.Unmatched++
			metrics.IncCounter(metrics.EventsUnmatchedTotal, 1, nil)
		}
		facts = append(facts, f)
	}

	times = transform.DedupeByKey(times, func(t model.TimeRow) time.Time { return t.StartTime })
	users = transform.MergeUsers(users)
	facts = transform.DedupeByKey(facts, func(f model.Songplay) playKey {
		return playKey{start: f.StartTime, user: f.UserID, session: f.SessionID}
	})

	d.setState(StateLoading)
	sink := newSinkTracker(d, sum)
	sink.record(warehouse.TableTime)(d.coord.LoadTime(ctx, times))
	sink.record(warehouse.TableUsers)(d.coord.LoadUsers(ctx, users))
	sink.record(warehouse.TableSongplays)(d.coord.LoadSongplays(ctx, facts))
	return sink.err
}

// playKey is the fact identity tuple used for in-batch dedup.
type playKey struct {
	start   time.Time
	user    int64
	session int64
}

func (d *Driver) skip(sum *RunSummary, kind SkipKind) {
	sum.RowsSkipped[kind]++
	metrics.IncCounter(metrics.RowsSkippedTotal, 1, metrics.Labels{"kind": string(kind)})
}

// rowSkipper adapts skip accounting to the parser's row-error callback.
func (d *Driver) rowSkipper(sum *RunSummary) func(error) {
	logf := d.logf()
	return func(err error) {
		kind := classifySkip(err)
		d.skip(sum, kind)
		logf("stage=read status=skipped kind=%s err=%v", kind, err)
	}
}

func (d *Driver) countLoaded(sum *RunSummary, table string, n int64) {
	if n <= 0 {
		return
	}
	sum.RowsLoaded[table] += n
	metrics.IncCounter(metrics.RowsLoadedTotal, float64(n), metrics.Labels{"table": table})
}

// collectRecords drains one file's record stream into memory. Files in both
// corpora are small (single-record catalog files, day-sized activity files),
// so per-file buffering keeps the transform stages simple.
func collectRecords[T any](
	ctx context.Context,
	r io.Reader,
	buf int,
	stream func(context.Context, io.Reader, chan<- T, func(error)) error,
	onRowErr func(error),
) ([]T, error) {
	out := make(chan T, buf)
	errc := make(chan error, 1)
	go func() {
		errc <- stream(ctx, r, out, onRowErr)
		close(out)
	}()

	var recs []T
	for rec := range out {
		recs = append(recs, rec)
	}
	if err := <-errc; err != nil {
		return nil, err
	}
	return recs, nil
}
