package transform

import (
	"math"
	"sort"

	"golang.org/x/text/unicode/norm"

	"playmart/internal/model"
)

// Catalog is the in-memory index the entity resolver joins play events
// against. It must contain the complete song corpus before any event is
// resolved; a partially built catalog silently produces false unmatched
// results.
//
// Matching semantics:
//   - title and artist name compare byte-equal after Unicode NFC
//     normalization. NFC folds canonically-equivalent encodings of the same
//     text (e.g. precomposed vs combining accents) without changing case or
//     whitespace, so exact-match semantics are preserved.
//   - duration compares within an absolute tolerance. Tolerance 0 (the
//     default) means exact float equality, matching the upstream join.
//   - multiple candidates resolve deterministically to the lexicographically
//     lowest song_id; the resolution is flagged ambiguous.
type Catalog struct {
	tolerance float64
	entries   map[matchKey][]catalogEntry
}

type matchKey struct {
	title  string
	artist string
}

type catalogEntry struct {
	songID   string
	artistID string
	duration float64
}

// Resolution is the outcome of matching one play event. Both ids are nil
// when no catalog pair matched.
type Resolution struct {
	SongID   *string
	ArtistID *string
	// Ambiguous is set when more than one catalog pair matched and the
	// tie-break picked one.
	Ambiguous bool
}

// Matched reports whether the event resolved to a catalog pair.
func (r Resolution) Matched() bool { return r.SongID != nil }

// NewCatalog creates an empty catalog. tolerance < 0 is treated as 0.
func NewCatalog(tolerance float64) *Catalog {
	if tolerance < 0 {
		tolerance = 0
	}
	return &Catalog{
		tolerance: tolerance,
		entries:   make(map[matchKey][]catalogEntry),
	}
}

// Add indexes one catalog record. Records that failed validation must not
// reach here; Add assumes non-empty ids.
func (c *Catalog) Add(r model.SongRecord) {
	k := matchKey{title: norm.NFC.String(r.Title), artist: norm.NFC.String(r.ArtistName)}
	c.entries[k] = append(c.entries[k], catalogEntry{
		songID:   r.SongID,
		artistID: r.ArtistID,
		duration: r.Duration,
	})
}

// Size returns the number of indexed catalog records.
func (c *Catalog) Size() int {
	n := 0
	for _, es := range c.entries {
		n += len(es)
	}
	return n
}

// Resolve matches one play event against the catalog on
// (song title, artist name, duration). A nil length never matches.
func (c *Catalog) Resolve(song, artist string, length *float64) Resolution {
	if length == nil {
		return Resolution{}
	}

	k := matchKey{title: norm.NFC.String(song), artist: norm.NFC.String(artist)}
	candidates := c.entries[k]
	if len(candidates) == 0 {
		return Resolution{}
	}

	matched := make([]catalogEntry, 0, 1)
	for _, e := range candidates {
		if c.durationMatches(e.duration, *length) {
			matched = append(matched, e)
		}
	}
	if len(matched) == 0 {
		return Resolution{}
	}

	// Deterministic tie-break: lowest song_id wins.
	sort.Slice(matched, func(i, j int) bool { return matched[i].songID < matched[j].songID })

	win := matched[0]
	return Resolution{
		SongID:    &win.songID,
		ArtistID:  &win.artistID,
		Ambiguous: len(matched) > 1,
	}
}

func (c *Catalog) durationMatches(duration, length float64) bool {
	if c.tolerance == 0 {
		return duration == length
	}
	return math.Abs(duration-length) <= c.tolerance
}
