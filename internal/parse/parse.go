// Package parse runs the classification and extraction pipeline over raw
// event rows and assembles the analysis result.
package parse

import (
	"context"
	"fmt"
	"sort"

	"github.com/verte-zerg/inkstats/internal/event"
	"github.com/verte-zerg/inkstats/internal/model"
	"github.com/verte-zerg/inkstats/internal/session"
)

// RowSource supplies ordered raw event rows and book reference data. The
// SQLite store implements it; tests use in-memory fakes.
type RowSource interface {
	// Events returns raw events ordered by timestamp (ties by row order),
	// restricted to the types the selection needs.
	Events(ctx context.Context, sel model.Selection) ([]event.RawEvent, error)
	// Books resolves book reference data for the given IDs.
	Books(ctx context.Context, ids []string) ([]model.Book, error)
}

// Run loads rows from the source, analyzes them and joins book titles onto
// the result. A source that cannot supply data is fatal; no partial result
// is produced.
func Run(ctx context.Context, src RowSource, sel model.Selection) (model.AnalysisResult, error) {
	rows, err := src.Events(ctx, sel)
	if err != nil {
		return model.AnalysisResult{}, fmt.Errorf("load events: %w", err)
	}
	res := Analyze(rows, sel)

	ids := referencedBookIDs(res)
	if len(ids) > 0 {
		books, err := src.Books(ctx, ids)
		if err != nil {
			return model.AnalysisResult{}, fmt.Errorf("load books: %w", err)
		}
		joinBooks(&res, books)
	}
	return res, nil
}

// Analyze classifies rows and runs only the extractors the selection asks
// for. Unrequested result fields stay absent. Per-row anomalies downgrade to
// unrecognized events and are counted, never fatal.
func Analyze(rows []event.RawEvent, sel model.Selection) model.AnalysisResult {
	var res model.AnalysisResult

	classified := make([]event.Event, 0, len(rows))
	for _, raw := range rows {
		ev := event.Classify(raw)
		if ev.Kind == event.KindUnrecognized {
			res.Malformed++
			continue
		}
		classified = append(classified, ev)
	}

	if sel.WantSessions() {
		set := session.Reconstruct(classified)
		res.Sessions = &set
	}
	if sel.WantLookups() {
		res.Lookups = extractLookups(classified)
	}
	if sel.WantBrightness() {
		res.Brightness = extractBrightness(classified)
	}
	if sel.WantBookmarks() {
		res.Bookmarks = extractBookmarks(classified)
	}
	return res
}

// extractLookups keeps dictionary lookups deduplicated by exact
// (term, book, timestamp) triple, in insertion order. Duplicate rows show up
// when the device flushes the same lookup twice.
func extractLookups(events []event.Event) []model.DictionaryLookup {
	lookups := []model.DictionaryLookup{}
	seen := map[model.DictionaryLookup]struct{}{}
	for _, ev := range events {
		if ev.Kind != event.KindDictionaryLookup {
			continue
		}
		l := model.DictionaryLookup{
			Term:      ev.Term,
			Language:  ev.Language,
			BookID:    ev.BookID,
			Timestamp: ev.Timestamp,
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		lookups = append(lookups, l)
	}
	return lookups
}

func extractBrightness(events []event.Event) []model.BrightnessEvent {
	out := []model.BrightnessEvent{}
	for _, ev := range events {
		if ev.Kind != event.KindBrightnessChange {
			continue
		}
		out = append(out, model.BrightnessEvent{
			Timestamp: ev.Timestamp,
			Value:     ev.Value,
			Mode:      ev.Mode,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

func extractBookmarks(events []event.Event) []model.Bookmark {
	out := []model.Bookmark{}
	for _, ev := range events {
		if ev.Kind != event.KindBookmarkAdded {
			continue
		}
		out = append(out, model.Bookmark{
			BookID:    ev.BookID,
			Location:  ev.Location,
			Note:      ev.Note,
			Timestamp: ev.Timestamp,
		})
	}
	return out
}

func referencedBookIDs(res model.AnalysisResult) []string {
	seen := map[string]struct{}{}
	add := func(id string) {
		if id != "" {
			seen[id] = struct{}{}
		}
	}
	if res.Sessions != nil {
		for _, s := range res.Sessions.Sessions {
			add(s.BookID)
		}
	}
	for _, b := range res.Bookmarks {
		add(b.BookID)
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func joinBooks(res *model.AnalysisResult, books []model.Book) {
	if len(books) == 0 {
		return
	}
	byID := make(map[string]model.Book, len(books))
	for _, b := range books {
		byID[b.ID] = b
	}
	if res.Sessions != nil {
		for i := range res.Sessions.Sessions {
			if b, ok := byID[res.Sessions.Sessions[i].BookID]; ok {
				res.Sessions.Sessions[i].BookTitle = b.Title
			}
		}
	}
	for i := range res.Bookmarks {
		if b, ok := byID[res.Bookmarks[i].BookID]; ok {
			res.Bookmarks[i].BookTitle = b.Title
		}
	}
	res.Books = books
}
