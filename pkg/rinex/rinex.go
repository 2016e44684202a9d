// Package rinex classifies RINEX observation filenames under the fixed
// archive naming grammar.
//
// Two grammars are recognized, both anchored to the whole filename:
//
//   - Plain observation: ssssdddh.yyo (4-char station, 3-digit day of
//     year, 1-char session, 2-digit year).
//   - Compressed observation: ssssdddh.yyd.Z (Hatanaka-compressed then
//     unix-compressed).
//
// Classification is total and side-effect free: any filename that does
// not match a grammar is simply not an archive file, never an error.
package rinex

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"time"
)

// Kind identifies which archive grammar a filename matched.
type Kind string

const (
	// Observation is a plain RINEX observation file (ssssdddh.yyo).
	Observation Kind = "observation"

	// CompressedObservation is a Hatanaka-compressed, unix-compressed
	// observation file (ssssdddh.yyd.Z).
	CompressedObservation Kind = "compressed_observation"
)

// UnassignedNetwork is the network placeholder for stations that have not
// been assigned to a network yet.
const UnassignedNetwork = "???"

// Entry is one classified archive file. Entries are immutable once
// produced; they are created only by a successful classification.
type Entry struct {
	// Path is the path the file was found under (empty when classifying
	// a bare filename).
	Path string `json:"path,omitempty"`

	// Station is the 4-character station code, case preserved.
	Station string `json:"station"`

	// Network is the network the station belongs to. Classification
	// cannot know it, so it is always UnassignedNetwork here; assignment
	// happens downstream.
	Network string `json:"network"`

	// DayOfYear is in 1..366.
	DayOfYear int `json:"doy"`

	// Session is the 1-character session identifier (letter or digit).
	Session string `json:"session"`

	// Year is the two-digit year as embedded in the filename (0..99).
	Year int `json:"year"`

	// Kind reports which grammar matched.
	Kind Kind `json:"kind"`
}

// Filename grammars. Station and session use the word character class the
// archive convention allows; the suffix is case-sensitive.
var (
	compressedPattern = regexp.MustCompile(`^([A-Za-z0-9_]{4})(\d{3})([A-Za-z0-9_])\.(\d{2})d\.Z$`)
	plainPattern      = regexp.MustCompile(`^([A-Za-z0-9_]{4})(\d{3})([A-Za-z0-9_])\.(\d{2})o$`)
)

// Classify decides whether name matches one of the archive grammars and
// extracts its fields. The second return is false when the name is not an
// archive file; that is an expected outcome, not an error. Classify never
// panics for any input, including the empty string.
func Classify(name string) (Entry, bool) {
	if m := compressedPattern.FindStringSubmatch(name); m != nil {
		return newEntry(m, CompressedObservation)
	}
	if m := plainPattern.FindStringSubmatch(name); m != nil {
		return newEntry(m, Observation)
	}
	return Entry{}, false
}

// ClassifyPath classifies the basename of path and records the full path
// on the resulting entry.
func ClassifyPath(path string) (Entry, bool) {
	e, ok := Classify(filepath.Base(path))
	if !ok {
		return Entry{}, false
	}
	e.Path = path
	return e, true
}

func newEntry(m []string, kind Kind) (Entry, bool) {
	doy, err := strconv.Atoi(m[2])
	if err != nil || doy < 1 || doy > 366 {
		return Entry{}, false
	}
	year, err := strconv.Atoi(m[4])
	if err != nil {
		return Entry{}, false
	}
	return Entry{
		Station:   m[1],
		Network:   UnassignedNetwork,
		DayOfYear: doy,
		Session:   m[3],
		Year:      year,
		Kind:      kind,
	}, true
}

// Filename reconstructs the canonical filename the entry was classified
// from. It round-trips with Classify for every valid entry.
func (e Entry) Filename() string {
	suffix := "o"
	if e.Kind == CompressedObservation {
		suffix = "d.Z"
	}
	return fmt.Sprintf("%s%03d%s.%02d%s", e.Station, e.DayOfYear, e.Session, e.Year, suffix)
}

// FullYear expands the two-digit year under the RINEX 2 convention:
// 80..99 are 19xx, 00..79 are 20xx.
func (e Entry) FullYear() int {
	if e.Year >= 80 {
		return 1900 + e.Year
	}
	return 2000 + e.Year
}

// Date returns the UTC calendar date encoded by the entry's year and day
// of year.
func (e Entry) Date() time.Time {
	return time.Date(e.FullYear(), time.January, 1, 0, 0, 0, 0, time.UTC).
		AddDate(0, 0, e.DayOfYear-1)
}

// String implements fmt.Stringer for log output.
func (e Entry) String() string {
	return fmt.Sprintf("%s (station %s doy %03d session %s year %02d)",
		e.Filename(), e.Station, e.DayOfYear, e.Session, e.Year)
}
