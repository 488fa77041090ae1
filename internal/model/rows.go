package model

import "time"

// Song is one songs-dimension row, insert-only by SongID.
type Song struct {
	SongID   string
	Title    string
	ArtistID string
	Year     int
	Duration float64
}

// Artist is one artists-dimension row, insert-only by ArtistID.
type Artist struct {
	ArtistID  string
	Name      string
	Location  string
	Latitude  *float64
	Longitude *float64
}

// User is one users-dimension row. Level is the only mutable attribute; the
// loader overwrites it on conflict while the identity fields keep their
// first-seen values.
type User struct {
	UserID    int64
	FirstName string
	LastName  string
	Gender    string
	Level     string
}

// TimeRow is one time-dimension row, derived purely from StartTime and
// insert-only by StartTime.
type TimeRow struct {
	StartTime time.Time
	Hour      int
	Day       int
	Week      int
	Month     int
	Year      int
	Weekday   int
}

// Songplay is one fact row. SongID/ArtistID are nil when the event did not
// resolve against the catalog. The surrogate songplay_id is assigned by the
// sink; duplicates are suppressed on (StartTime, UserID, SessionID).
type Songplay struct {
	StartTime time.Time
	UserID    int64
	Level     string
	SongID    *string
	ArtistID  *string
	SessionID int64
	Location  string
	UserAgent string
}
