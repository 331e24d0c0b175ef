// Package session reconstructs reading sessions from classified events.
package session

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/verte-zerg/inkstats/internal/event"
	"github.com/verte-zerg/inkstats/internal/model"
)

// Namespace for deriving session IDs. IDs must be stable across runs so that
// parsing the same event log twice yields identical results.
var sessionNamespace = uuid.MustParse("8a6e1b6c-0f3d-4f1e-9f5a-2b7c4d9e0a11")

// perBook is the reconstruction state machine for one book: Idle when start
// is zero, InSession otherwise.
type perBook struct {
	bookID   string
	start    time.Time
	progress int
	pages    int
	// last is the timestamp of the most recent event seen for this book
	// since the session started.
	last time.Time
}

func (b *perBook) inSession() bool {
	return !b.start.IsZero()
}

func (b *perBook) reset() {
	b.start = time.Time{}
	b.progress = 0
	b.pages = 0
	b.last = time.Time{}
}

// Reconstruct walks classified events and pairs session starts with ends,
// per book. Unpaired boundaries are retained as orphan spans rather than
// discarded. The walk is deterministic: events are stably ordered by
// timestamp (ties keep arrival order) before pairing, so every emitted
// session has end >= start by construction.
func Reconstruct(events []event.Event) model.SessionSet {
	ordered := make([]event.Event, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	var set model.SessionSet
	books := map[string]*perBook{}
	// bookOrder keeps end-of-stream orphan reporting in first-seen order.
	var bookOrder []string

	state := func(bookID string) *perBook {
		b, ok := books[bookID]
		if !ok {
			b = &perBook{bookID: bookID}
			books[bookID] = b
			bookOrder = append(bookOrder, bookID)
		}
		return b
	}

	for _, ev := range ordered {
		if ev.Kind == event.KindUnrecognized {
			continue
		}
		b := state(ev.BookID)
		switch ev.Kind {
		case event.KindSessionStart:
			if b.inSession() {
				// Missing end marker: close the running session at the last
				// activity seen, or at the new start when nothing happened
				// in between, so reading time is not silently lost.
				end := b.last
				if !end.After(b.start) {
					end = ev.Timestamp
				}
				set.Sessions = append(set.Sessions, b.emit(end, b.progress, true))
			}
			b.start = ev.Timestamp
			b.progress = ev.Progress
			b.pages = 0
			b.last = ev.Timestamp
		case event.KindSessionEnd:
			if !b.inSession() {
				set.Orphans = append(set.Orphans, model.OrphanSpan{
					BookID:    ev.BookID,
					Kind:      model.OrphanDanglingEnd,
					Timestamp: ev.Timestamp,
				})
				continue
			}
			if ev.Pages >= 0 {
				// The device's end marker reports its own page count,
				// counted page turns are only the fallback.
				b.pages = ev.Pages
			}
			set.Sessions = append(set.Sessions, b.emit(ev.Timestamp, ev.Progress, false))
			b.reset()
		case event.KindPageTurn:
			if b.inSession() {
				b.pages++
				b.last = ev.Timestamp
			}
		default:
			// Any other activity on this book only moves the implicit-close
			// cursor forward.
			if b.inSession() {
				b.last = ev.Timestamp
			}
		}
	}

	// End of stream with a session still open: record an orphan, never
	// synthesize an end time.
	for _, id := range bookOrder {
		if b := books[id]; b.inSession() {
			set.Orphans = append(set.Orphans, model.OrphanSpan{
				BookID:    b.bookID,
				Kind:      model.OrphanOpen,
				Timestamp: b.start,
			})
		}
	}
	return set
}

func (b *perBook) emit(end time.Time, endProgress int, implicit bool) model.ReadingSession {
	s := model.ReadingSession{
		BookID:        b.bookID,
		Start:         b.start,
		End:           end,
		PagesTurned:   b.pages,
		ImplicitEnd:   implicit,
		StartProgress: b.progress,
		EndProgress:   endProgress,
	}
	if implicit {
		// No end marker was seen; the start progress is the best estimate.
		s.EndProgress = b.progress
	}
	s.ID = sessionID(s)
	return s
}

func sessionID(s model.ReadingSession) uuid.UUID {
	key := s.BookID + "|" + s.Start.UTC().Format(time.RFC3339Nano) + "|" + s.End.UTC().Format(time.RFC3339Nano)
	return uuid.NewSHA1(sessionNamespace, []byte(key))
}
