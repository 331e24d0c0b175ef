// Package event defines raw event records and their classification into a
// closed set of typed variants.
package event

import (
	"strconv"
	"time"

	"github.com/verte-zerg/inkstats/internal/model"
)

// Canonical type tags supplied by the row source. Anything else classifies
// as Unrecognized.
const (
	TagSessionStart     = "SessionStart"
	TagSessionEnd       = "SessionEnd"
	TagPageTurn         = "PageTurn"
	TagDictionaryLookup = "DictionaryLookup"
	TagBrightnessChange = "BrightnessChange"
	TagBookmarkAdded    = "BookmarkAdded"
)

// Field keys recognized inside RawEvent.Fields. Presence and shape vary by
// type tag.
const (
	FieldTerm     = "term"
	FieldLanguage = "language"
	FieldValue    = "value"
	FieldMode     = "mode"
	FieldLocation = "location"
	FieldNote     = "note"
	FieldProgress = "progress"
	FieldPages    = "pages"
)

// RawEvent is one storage row as delivered by the row source: a type tag, a
// timestamp, an optional book ID and a flat field map. Immutable.
type RawEvent struct {
	TypeTag   string
	Timestamp time.Time
	BookID    string
	Fields    map[string]string
}

// Kind enumerates the classified event variants.
type Kind int

// Classified event kinds.
const (
	KindUnrecognized Kind = iota
	KindSessionStart
	KindSessionEnd
	KindPageTurn
	KindDictionaryLookup
	KindBrightnessChange
	KindBookmarkAdded
)

func (k Kind) String() string {
	switch k {
	case KindSessionStart:
		return TagSessionStart
	case KindSessionEnd:
		return TagSessionEnd
	case KindPageTurn:
		return TagPageTurn
	case KindDictionaryLookup:
		return TagDictionaryLookup
	case KindBrightnessChange:
		return TagBrightnessChange
	case KindBookmarkAdded:
		return TagBookmarkAdded
	}
	return "Unrecognized"
}

// Event is a classified event. Only the fields relevant to its kind are set;
// Raw is kept on Unrecognized events for diagnostics.
type Event struct {
	Kind      Kind
	BookID    string
	Timestamp time.Time

	// Session boundaries. Pages is the page count the end marker itself
	// reports, -1 when it reports none.
	Progress int
	Pages    int

	// Dictionary lookups.
	Term     string
	Language string

	// Brightness changes.
	Value int
	Mode  model.BrightnessMode

	// Bookmarks.
	Location string
	Note     string

	Raw *RawEvent
}

// Classify maps a raw event into a typed variant. It is total: unknown tags
// and missing or malformed required fields yield an Unrecognized event
// carrying the original record, never an error.
func Classify(raw RawEvent) Event {
	if raw.Timestamp.IsZero() {
		return unrecognized(raw)
	}
	ev := Event{BookID: raw.BookID, Timestamp: raw.Timestamp}
	switch raw.TypeTag {
	case TagSessionStart:
		ev.Kind = KindSessionStart
		ev.Progress = intField(raw, FieldProgress, 0)
	case TagSessionEnd:
		ev.Kind = KindSessionEnd
		ev.Progress = intField(raw, FieldProgress, 0)
		ev.Pages = intField(raw, FieldPages, -1)
	case TagPageTurn:
		ev.Kind = KindPageTurn
	case TagDictionaryLookup:
		term, ok := raw.Fields[FieldTerm]
		if !ok || term == "" {
			return unrecognized(raw)
		}
		ev.Kind = KindDictionaryLookup
		ev.Term = term
		ev.Language = raw.Fields[FieldLanguage]
	case TagBrightnessChange:
		s, ok := raw.Fields[FieldValue]
		if !ok {
			return unrecognized(raw)
		}
		v, err := strconv.Atoi(s)
		if err != nil {
			return unrecognized(raw)
		}
		ev.Kind = KindBrightnessChange
		ev.Value = v
		if raw.Fields[FieldMode] == model.ModeNaturalLight.String() {
			ev.Mode = model.ModeNaturalLight
		}
	case TagBookmarkAdded:
		loc, ok := raw.Fields[FieldLocation]
		if !ok || loc == "" {
			return unrecognized(raw)
		}
		ev.Kind = KindBookmarkAdded
		ev.Location = loc
		ev.Note = raw.Fields[FieldNote]
	default:
		return unrecognized(raw)
	}
	return ev
}

func unrecognized(raw RawEvent) Event {
	return Event{
		Kind:      KindUnrecognized,
		BookID:    raw.BookID,
		Timestamp: raw.Timestamp,
		Raw:       &raw,
	}
}

// intField decodes an optional integer field, falling back to def when the
// field is absent or does not parse. Required numeric fields are handled in
// Classify directly so their failures downgrade the whole event.
func intField(raw RawEvent, key string, def int) int {
	s, ok := raw.Fields[key]
	if !ok {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
