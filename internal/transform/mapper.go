// Package transform holds the pure derivation stages between parsed records
// and sink rows: schema mapping, deduplication, time expansion, and catalog
// resolution. Nothing here touches the sink.
package transform

import (
	"strings"

	"playmart/internal/model"
)

// SongDim projects a catalog record onto the songs dimension.
func SongDim(r model.SongRecord) model.Song {
	return model.Song{
		SongID:   strings.TrimSpace(r.SongID),
		Title:    r.Title,
		ArtistID: strings.TrimSpace(r.ArtistID),
		Year:     r.Year,
		Duration: r.Duration,
	}
}

// ArtistDim projects a catalog record onto the artists dimension.
func ArtistDim(r model.SongRecord) model.Artist {
	return model.Artist{
		ArtistID:  strings.TrimSpace(r.ArtistID),
		Name:      r.ArtistName,
		Location:  r.ArtistLocation,
		Latitude:  r.ArtistLatitude,
		Longitude: r.ArtistLongitude,
	}
}

// UserDim projects a play event onto the users dimension. Events without a
// user id (anonymous sessions) carry a null identity key and are dropped
// here, before dedup.
func UserDim(r model.LogRecord) (model.User, bool) {
	if !r.UserID.Valid {
		return model.User{}, false
	}
	return model.User{
		UserID:    r.UserID.Int64,
		FirstName: r.FirstName,
		LastName:  r.LastName,
		Gender:    r.Gender,
		Level:     r.Level,
	}, true
}

// TimeDim derives the time-dimension row for a play event.
func TimeDim(r model.LogRecord) model.TimeRow {
	return ExpandTime(r.StartTime())
}

// PlayFact builds the fact row for a play event, attaching the catalog
// resolution. Events without a user id lack the fact identity tuple
// (start_time, user_id, session_id) and are dropped.
func PlayFact(r model.LogRecord, res Resolution) (model.Songplay, bool) {
	if !r.UserID.Valid {
		return model.Songplay{}, false
	}
	return model.Songplay{
		StartTime: r.StartTime(),
		UserID:    r.UserID.Int64,
		Level:     r.Level,
		SongID:    res.SongID,
		ArtistID:  res.ArtistID,
		SessionID: r.SessionID,
		Location:  r.Location,
		UserAgent: r.UserAgent,
	}, true
}
