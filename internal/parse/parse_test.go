package parse

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/verte-zerg/inkstats/internal/event"
	"github.com/verte-zerg/inkstats/internal/model"
)

var base = time.Date(2023, 1, 1, 10, 0, 0, 0, time.UTC)

func raw(tag, bookID string, sec int, fields map[string]string) event.RawEvent {
	return event.RawEvent{
		TypeTag:   tag,
		Timestamp: base.Add(time.Duration(sec) * time.Second),
		BookID:    bookID,
		Fields:    fields,
	}
}

func sampleRows() []event.RawEvent {
	return []event.RawEvent{
		raw(event.TagSessionStart, "book1", 0, nil),
		raw(event.TagDictionaryLookup, "book1", 60, map[string]string{event.FieldTerm: "sessile"}),
		raw(event.TagPageTurn, "book1", 120, nil),
		raw(event.TagBrightnessChange, "", 150, map[string]string{event.FieldValue: "50"}),
		raw(event.TagSessionEnd, "book1", 300, nil),
		raw(event.TagBookmarkAdded, "book1", 360, map[string]string{event.FieldLocation: "0.5"}),
	}
}

func TestAnalyzeAll(t *testing.T) {
	res := Analyze(sampleRows(), model.SelectAll)
	if res.Sessions == nil || res.Sessions.Count() != 1 {
		t.Fatalf("expected one session, got %+v", res.Sessions)
	}
	if len(res.Lookups) != 1 || res.Lookups[0].Term != "sessile" {
		t.Fatalf("unexpected lookups: %+v", res.Lookups)
	}
	if len(res.Brightness) != 1 || res.Brightness[0].Value != 50 {
		t.Fatalf("unexpected brightness: %+v", res.Brightness)
	}
	if len(res.Bookmarks) != 1 || res.Bookmarks[0].Location != "0.5" {
		t.Fatalf("unexpected bookmarks: %+v", res.Bookmarks)
	}
	if res.Malformed != 0 {
		t.Fatalf("expected no malformed rows, got %d", res.Malformed)
	}
}

func TestAnalyzeSelectionOmitsUnrequested(t *testing.T) {
	res := Analyze(sampleRows(), model.SelectDictionaryLookups)
	if res.Sessions != nil {
		t.Fatalf("sessions must be absent, got %+v", res.Sessions)
	}
	if res.Brightness != nil || res.Bookmarks != nil {
		t.Fatal("unrequested collections must be absent, not empty")
	}
	if res.Lookups == nil {
		t.Fatal("requested collection must be present even when empty")
	}
	if len(res.Lookups) != 1 {
		t.Fatalf("expected 1 lookup, got %d", len(res.Lookups))
	}
}

func TestAnalyzeRequestedButEmptyIsPresent(t *testing.T) {
	res := Analyze(nil, model.SelectBookmarks)
	if res.Bookmarks == nil {
		t.Fatal("requested bookmarks must be an empty collection, not absent")
	}
	if len(res.Bookmarks) != 0 {
		t.Fatalf("expected empty bookmarks, got %+v", res.Bookmarks)
	}
}

func TestAnalyzeDeduplicatesLookups(t *testing.T) {
	rows := []event.RawEvent{
		raw(event.TagDictionaryLookup, "book1", 0, map[string]string{event.FieldTerm: "b"}),
		raw(event.TagDictionaryLookup, "book1", 10, map[string]string{event.FieldTerm: "a"}),
		raw(event.TagDictionaryLookup, "book1", 0, map[string]string{event.FieldTerm: "b"}),
	}
	res := Analyze(rows, model.SelectDictionaryLookups)
	if len(res.Lookups) != 2 {
		t.Fatalf("expected dedup to 2 lookups, got %+v", res.Lookups)
	}
	if res.Lookups[0].Term != "b" || res.Lookups[1].Term != "a" {
		t.Fatalf("insertion order not preserved: %+v", res.Lookups)
	}
}

func TestAnalyzeMalformedRowsAreCountedNotFatal(t *testing.T) {
	rows := []event.RawEvent{
		raw(event.TagSessionStart, "book1", 0, nil),
		raw("SettingsChanged", "book1", 50, nil),
		raw(event.TagSessionEnd, "book1", 100, nil),
	}
	res := Analyze(rows, model.SelectAll)
	if res.Malformed != 1 {
		t.Fatalf("expected 1 malformed row, got %d", res.Malformed)
	}
	if res.Sessions.Count() != 1 {
		t.Fatalf("malformed row must not break pairing, got %d sessions", res.Sessions.Count())
	}
}

func TestAnalyzeIdempotent(t *testing.T) {
	rows := sampleRows()
	first := Analyze(rows, model.SelectAll)
	second := Analyze(rows, model.SelectAll)
	if !reflect.DeepEqual(first, second) {
		t.Fatal("analyzing the same rows twice must yield identical results")
	}
}

type fakeSource struct {
	rows  []event.RawEvent
	books map[string]model.Book
	err   error
}

func (f *fakeSource) Events(_ context.Context, _ model.Selection) ([]event.RawEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.rows, nil
}

func (f *fakeSource) Books(_ context.Context, ids []string) ([]model.Book, error) {
	var out []model.Book
	for _, id := range ids {
		if b, ok := f.books[id]; ok {
			out = append(out, b)
		}
	}
	return out, nil
}

func TestRunJoinsBookTitles(t *testing.T) {
	src := &fakeSource{
		rows: sampleRows(),
		books: map[string]model.Book{
			"book1": {ID: "book1", Title: "The Real Book Title", Authors: "Author One"},
		},
	}
	res, err := Run(context.Background(), src, model.SelectAll)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Sessions.Sessions[0].BookTitle != "The Real Book Title" {
		t.Fatalf("title not joined onto session: %+v", res.Sessions.Sessions[0])
	}
	if res.Bookmarks[0].BookTitle != "The Real Book Title" {
		t.Fatalf("title not joined onto bookmark: %+v", res.Bookmarks[0])
	}
	if len(res.Books) != 1 {
		t.Fatalf("expected book reference data, got %+v", res.Books)
	}
}

func TestRunSourceFailureIsFatal(t *testing.T) {
	wantErr := errors.New("database gone")
	src := &fakeSource{err: wantErr}
	_, err := Run(context.Background(), src, model.SelectAll)
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped source error, got %v", err)
	}
}
