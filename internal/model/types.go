// Package model defines shared data structures.
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Selection controls which extractors run during a parse call.
type Selection int

// Recognized selection values.
const (
	SelectAll Selection = iota
	SelectReadingSessions
	SelectDictionaryLookups
	SelectBookmarks
	SelectBrightness
)

// ParseSelection maps a config/flag string to a Selection.
func ParseSelection(s string) (Selection, error) {
	switch s {
	case "", "all":
		return SelectAll, nil
	case "sessions":
		return SelectReadingSessions, nil
	case "lookups":
		return SelectDictionaryLookups, nil
	case "bookmarks":
		return SelectBookmarks, nil
	case "brightness":
		return SelectBrightness, nil
	}
	return SelectAll, fmt.Errorf("unknown selection %q (want all, sessions, lookups, bookmarks or brightness)", s)
}

// WantSessions reports whether reading sessions should be extracted.
func (s Selection) WantSessions() bool {
	return s == SelectAll || s == SelectReadingSessions
}

// WantLookups reports whether dictionary lookups should be extracted.
func (s Selection) WantLookups() bool {
	return s == SelectAll || s == SelectDictionaryLookups
}

// WantBookmarks reports whether bookmarks should be extracted.
func (s Selection) WantBookmarks() bool {
	return s == SelectAll || s == SelectBookmarks
}

// WantBrightness reports whether brightness events should be extracted.
func (s Selection) WantBrightness() bool {
	return s == SelectAll || s == SelectBrightness
}

// Metric selects the numeric dimension for session statistics.
type Metric int

// Session metrics.
const (
	MetricDuration Metric = iota
	MetricPagesTurned
)

// BrightnessMode distinguishes frontlight adjustment sources.
type BrightnessMode int

// Brightness adjustment modes.
const (
	ModeManual BrightnessMode = iota
	ModeNaturalLight
)

func (m BrightnessMode) String() string {
	if m == ModeNaturalLight {
		return "natural-light"
	}
	return "manual"
}

// Book is reference data joined onto events by book ID. Owned by the row
// source; read-only here.
type Book struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Authors string `json:"authors,omitempty"`
}

// ReadingSession is a completed span of reading activity on one book,
// produced by pairing a session start with a later end marker.
type ReadingSession struct {
	ID          uuid.UUID `json:"id"`
	BookID      string    `json:"book_id"`
	BookTitle   string    `json:"book_title,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	PagesTurned int       `json:"pages_turned"`
	// ImplicitEnd marks sessions closed at the previous event's timestamp
	// because a new start arrived without an intervening end marker.
	ImplicitEnd   bool `json:"implicit_end,omitempty"`
	StartProgress int  `json:"start_progress,omitempty"`
	EndProgress   int  `json:"end_progress,omitempty"`
}

// Duration returns the session length. Never negative for sessions built by
// the reconstructor.
func (s ReadingSession) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// OrphanKind classifies an unpaired session boundary.
type OrphanKind int

// Orphan kinds.
const (
	// OrphanOpen is a session start with no matching end (crash, ongoing
	// session, or data loss).
	OrphanOpen OrphanKind = iota
	// OrphanDanglingEnd is a session end with no matching start (truncated
	// history).
	OrphanDanglingEnd
)

func (k OrphanKind) String() string {
	if k == OrphanDanglingEnd {
		return "dangling-end"
	}
	return "open"
}

// OrphanSpan records a session boundary marker lacking its counterpart.
// Retained so callers can audit data completeness.
type OrphanSpan struct {
	BookID    string     `json:"book_id"`
	Kind      OrphanKind `json:"kind"`
	Timestamp time.Time  `json:"timestamp"`
}

// SessionSet holds the reconstructed sessions for a parse call together with
// the orphan spans left over from incomplete data.
type SessionSet struct {
	Sessions []ReadingSession `json:"sessions"`
	Orphans  []OrphanSpan     `json:"orphans,omitempty"`
}

// Count returns the number of completed sessions. Orphans are never counted.
func (ss SessionSet) Count() int {
	return len(ss.Sessions)
}

// WithMinDuration returns a copy keeping only sessions at least min long.
// The device logs many few-second open/close blips; filtering them out
// before reporting matches the vendor tool's notion of a valid session.
func (ss SessionSet) WithMinDuration(min time.Duration) SessionSet {
	if min <= 0 {
		return ss
	}
	kept := make([]ReadingSession, 0, len(ss.Sessions))
	for _, s := range ss.Sessions {
		if s.Duration() >= min {
			kept = append(kept, s)
		}
	}
	return SessionSet{Sessions: kept, Orphans: ss.Orphans}
}

// DictionaryLookup records a single word lookup.
type DictionaryLookup struct {
	Term      string    `json:"term"`
	Language  string    `json:"language,omitempty"`
	BookID    string    `json:"book_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// BrightnessEvent records a frontlight adjustment.
type BrightnessEvent struct {
	Timestamp time.Time      `json:"timestamp"`
	Value     int            `json:"value"`
	Mode      BrightnessMode `json:"mode"`
}

// Bookmark records a saved location, optionally with highlighted text.
type Bookmark struct {
	BookID    string    `json:"book_id"`
	BookTitle string    `json:"book_title,omitempty"`
	Location  string    `json:"location"`
	Note      string    `json:"note,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// AnalysisResult bundles whichever collections were requested by the
// selection. Fields for unrequested kinds are absent (nil), not empty.
type AnalysisResult struct {
	Sessions   *SessionSet        `json:"sessions,omitempty"`
	Lookups    []DictionaryLookup `json:"lookups,omitempty"`
	Brightness []BrightnessEvent  `json:"brightness,omitempty"`
	Bookmarks  []Bookmark         `json:"bookmarks,omitempty"`
	Books      []Book             `json:"books,omitempty"`
	// Malformed counts rows that could not be classified beyond
	// Unrecognized. Non-fatal; kept for completeness audits.
	Malformed int `json:"malformed,omitempty"`
}
