// Package warehouse declares the star schema the pipeline loads: the
// songplays fact table and the users, songs, artists, and time dimensions.
// Column types use the portable names understood by every storage backend
// ("text", "integer", "bigint", "double", "timestamp").
package warehouse

import "playmart/internal/storage"

const (
	TableSongs     = "songs"
	TableArtists   = "artists"
	TableUsers     = "users"
	TableTime      = "time"
	TableSongplays = "songplays"
)

// Songs returns the songs dimension spec: insert-only by song_id.
func Songs() storage.TableSpec {
	return storage.TableSpec{
		Name: TableSongs,
		Columns: []storage.ColumnSpec{
			{Name: "song_id", Type: "text"},
			{Name: "title", Type: "text"},
			{Name: "artist_id", Type: "text"},
			{Name: "year", Type: "integer"},
			{Name: "duration", Type: "double"},
		},
		Constraints: []storage.ConstraintSpec{
			{Kind: "unique", Columns: []string{"song_id"}},
		},
		Policy: storage.ConflictPolicy{
			Kind:       storage.InsertIgnore,
			KeyColumns: []string{"song_id"},
		},
	}
}

// Artists returns the artists dimension spec: insert-only by artist_id.
func Artists() storage.TableSpec {
	return storage.TableSpec{
		Name: TableArtists,
		Columns: []storage.ColumnSpec{
			{Name: "artist_id", Type: "text"},
			{Name: "name", Type: "text"},
			{Name: "location", Type: "text", Nullable: true},
			{Name: "latitude", Type: "double", Nullable: true},
			{Name: "longitude", Type: "double", Nullable: true},
		},
		Constraints: []storage.ConstraintSpec{
			{Kind: "unique", Columns: []string{"artist_id"}},
		},
		Policy: storage.ConflictPolicy{
			Kind:       storage.InsertIgnore,
			KeyColumns: []string{"artist_id"},
		},
	}
}

// Users returns the users dimension spec. level is the one mutable
// attribute: on conflict it is overwritten with the incoming value while the
// identity fields keep their first-seen values.
func Users() storage.TableSpec {
	return storage.TableSpec{
		Name: TableUsers,
		Columns: []storage.ColumnSpec{
			{Name: "user_id", Type: "bigint"},
			{Name: "first_name", Type: "text", Nullable: true},
			{Name: "last_name", Type: "text", Nullable: true},
			{Name: "gender", Type: "text", Nullable: true},
			{Name: "level", Type: "text"},
		},
		Constraints: []storage.ConstraintSpec{
			{Kind: "unique", Columns: []string{"user_id"}},
		},
		Policy: storage.ConflictPolicy{
			Kind:          storage.UpsertMerge,
			KeyColumns:    []string{"user_id"},
			UpdateColumns: []string{"level"},
		},
	}
}

// Time returns the time dimension spec: insert-only by start_time, all other
// columns derived from it.
func Time() storage.TableSpec {
	return storage.TableSpec{
		Name: TableTime,
		Columns: []storage.ColumnSpec{
			{Name: "start_time", Type: "timestamp"},
			{Name: "hour", Type: "integer"},
			{Name: "day", Type: "integer"},
			{Name: "week", Type: "integer"},
			{Name: "month", Type: "integer"},
			{Name: "year", Type: "integer"},
			{Name: "weekday", Type: "integer"},
		},
		Constraints: []storage.ConstraintSpec{
			{Kind: "unique", Columns: []string{"start_time"}},
		},
		Policy: storage.ConflictPolicy{
			Kind:       storage.InsertIgnore,
			KeyColumns: []string{"start_time"},
		},
	}
}

// Songplays returns the fact table spec. songplay_id is a sink-assigned
// surrogate; the unique (start_time, user_id, session_id) tuple exists only
// to suppress literal re-ingestion of the same event across repeated runs.
func Songplays() storage.TableSpec {
	return storage.TableSpec{
		Name:       TableSongplays,
		PrimaryKey: &storage.PrimaryKeySpec{Name: "songplay_id", Type: "serial"},
		Columns: []storage.ColumnSpec{
			{Name: "start_time", Type: "timestamp"},
			{Name: "user_id", Type: "bigint"},
			{Name: "level", Type: "text", Nullable: true},
			{Name: "song_id", Type: "text", Nullable: true},
			{Name: "artist_id", Type: "text", Nullable: true},
			{Name: "session_id", Type: "bigint"},
			{Name: "location", Type: "text", Nullable: true},
			{Name: "user_agent", Type: "text", Nullable: true},
		},
		Constraints: []storage.ConstraintSpec{
			{Kind: "unique", Columns: []string{"start_time", "user_id", "session_id"}},
		},
		Policy: storage.ConflictPolicy{
			Kind:       storage.InsertIgnore,
			KeyColumns: []string{"start_time", "user_id", "session_id"},
		},
	}
}

// Tables returns all warehouse table specs, dimensions before the fact table
// so EnsureTables can declare foreign-key-free DDL in a sensible order.
func Tables() []storage.TableSpec {
	return []storage.TableSpec{Songs(), Artists(), Users(), Time(), Songplays()}
}
