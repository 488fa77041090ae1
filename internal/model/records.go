// Package model defines the source record schemas and the canonical star-schema
// rows derived from them. Source records mirror the raw JSON field names; the
// canonical rows mirror the warehouse columns.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SongRecord is one row of the music catalog corpus (snake_case JSON keys,
// one object per line).
type SongRecord struct {
	NumSongs        int      `json:"num_songs"`
	ArtistID        string   `json:"artist_id"`
	ArtistLatitude  *float64 `json:"artist_latitude"`
	ArtistLongitude *float64 `json:"artist_longitude"`
	ArtistLocation  string   `json:"artist_location"`
	ArtistName      string   `json:"artist_name"`
	SongID          string   `json:"song_id"`
	Title           string   `json:"title"`
	Duration        float64  `json:"duration"`
	Year            int      `json:"year"`
}

// Validate checks the fields without which the record cannot produce a valid
// dimension row.
func (r SongRecord) Validate() error {
	var missing []string
	if strings.TrimSpace(r.SongID) == "" {
		missing = append(missing, "song_id")
	}
	if strings.TrimSpace(r.ArtistID) == "" {
		missing = append(missing, "artist_id")
	}
	if r.Title == "" {
		missing = append(missing, "title")
	}
	if r.ArtistName == "" {
		missing = append(missing, "artist_name")
	}
	if len(missing) > 0 {
		return fmt.Errorf("song record missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// LogRecord is one user-activity event (camelCase JSON keys). Only records
// with Page == PageNextSong represent play events.
type LogRecord struct {
	Artist        string   `json:"artist"`
	Auth          string   `json:"auth"`
	FirstName     string   `json:"firstName"`
	Gender        string   `json:"gender"`
	ItemInSession int      `json:"itemInSession"`
	LastName      string   `json:"lastName"`
	Length        *float64 `json:"length"`
	Level         string   `json:"level"`
	Location      string   `json:"location"`
	Method        string   `json:"method"`
	Page          string   `json:"page"`
	Registration  *float64 `json:"registration"`
	SessionID     int64    `json:"sessionId"`
	Song          string   `json:"song"`
	Status        int      `json:"status"`
	TS            int64    `json:"ts"`
	UserAgent     string   `json:"userAgent"`
	UserID        FlexID   `json:"userId"`
}

// PageNextSong marks the events that represent song plays.
const PageNextSong = "NextSong"

// IsPlay reports whether the record is a play event.
func (r LogRecord) IsPlay() bool { return r.Page == PageNextSong }

// StartTime converts the epoch-millisecond timestamp to UTC, exact to the
// millisecond. The input epoch is treated as UTC; no timezone shift applies.
func (r LogRecord) StartTime() time.Time { return time.UnixMilli(r.TS).UTC() }

// Validate checks the fields a play event must carry to reach the fact table.
func (r LogRecord) Validate() error {
	var missing []string
	if r.Page == "" {
		missing = append(missing, "page")
	}
	if r.TS <= 0 {
		missing = append(missing, "ts")
	}
	if len(missing) > 0 {
		return fmt.Errorf("log record missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// FlexID is an integer identifier that the activity stream serializes
// inconsistently: as a JSON number, as a numeric string, or as the empty
// string / null for anonymous sessions. Absent and empty both decode to an
// invalid (null) id.
type FlexID struct {
	Int64 int64
	Valid bool
}

var jsonNull = []byte("null")

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexID) UnmarshalJSON(b []byte) error {
	f.Int64, f.Valid = 0, false

	if bytes.Equal(b, jsonNull) {
		return nil
	}

	if len(b) >= 2 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("id %q is not an integer", s)
		}
		f.Int64, f.Valid = n, true
		return nil
	}

	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	f.Int64, f.Valid = n, true
	return nil
}

// MarshalJSON implements json.Marshaler. Invalid ids serialize as null.
func (f FlexID) MarshalJSON() ([]byte, error) {
	if !f.Valid {
		return jsonNull, nil
	}
	return []byte(strconv.FormatInt(f.Int64, 10)), nil
}
