package warehouse

import "playmart/internal/model"

// Positional row builders. Column order must match the specs in schema.go;
// backends bind rows positionally.

func SongRow(s model.Song) []any {
	return []any{s.SongID, s.Title, s.ArtistID, s.Year, s.Duration}
}

func ArtistRow(a model.Artist) []any {
	return []any{a.ArtistID, a.Name, nullableString(a.Location), floatOrNil(a.Latitude), floatOrNil(a.Longitude)}
}

func UserRow(u model.User) []any {
	return []any{u.UserID, u.FirstName, u.LastName, u.Gender, u.Level}
}

func TimeRow(t model.TimeRow) []any {
	return []any{t.StartTime, t.Hour, t.Day, t.Week, t.Month, t.Year, t.Weekday}
}

func SongplayRow(p model.Songplay) []any {
	return []any{
		p.StartTime,
		p.UserID,
		p.Level,
		stringOrNil(p.SongID),
		stringOrNil(p.ArtistID),
		p.SessionID,
		p.Location,
		p.UserAgent,
	}
}

func stringOrNil(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func floatOrNil(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
