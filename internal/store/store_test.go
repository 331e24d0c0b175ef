package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/verte-zerg/inkstats/internal/event"
	"github.com/verte-zerg/inkstats/internal/model"
	"github.com/verte-zerg/inkstats/internal/parse"
)

const vendorSchema = `
CREATE TABLE AnalyticsEvents (
	Id TEXT PRIMARY KEY,
	Type TEXT NOT NULL,
	Timestamp TEXT NOT NULL,
	Attributes TEXT,
	Metrics TEXT
);
CREATE TABLE content (
	ContentID TEXT PRIMARY KEY,
	ContentType INTEGER,
	Title TEXT,
	Attribution TEXT,
	BookID TEXT
);
CREATE TABLE Bookmark (
	BookmarkID TEXT PRIMARY KEY,
	Text TEXT,
	VolumeID TEXT,
	ChapterProgress REAL,
	DateCreated TEXT
);`

func setupVendorDB(t *testing.T, schema string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "KoboReader.sqlite")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open fixture db: %v", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			t.Fatalf("close fixture db: %v", cerr)
		}
	}()
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return path
}

func insertEvent(t *testing.T, path, id, typ, ts, attrs, metrics string) {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open fixture db: %v", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			t.Fatalf("close fixture db: %v", cerr)
		}
	}()
	_, err = db.Exec(
		`INSERT INTO AnalyticsEvents (Id, Type, Timestamp, Attributes, Metrics) VALUES (?, ?, ?, ?, ?)`,
		id, typ, ts, attrs, metrics)
	if err != nil {
		t.Fatalf("insert event: %v", err)
	}
}

func execFixture(t *testing.T, path, stmt string, args ...any) {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open fixture db: %v", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			t.Fatalf("close fixture db: %v", cerr)
		}
	}()
	if _, err := db.Exec(stmt, args...); err != nil {
		t.Fatalf("exec fixture: %v", err)
	}
}

func openStore(t *testing.T, path string) *Store {
	t.Helper()
	st, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st
}

func TestOpenMissingEventLog(t *testing.T) {
	path := setupVendorDB(t, `CREATE TABLE content (ContentID TEXT PRIMARY KEY);`)
	_, err := Open(path)
	if !errors.Is(err, ErrMissingSource) {
		t.Fatalf("expected ErrMissingSource, got %v", err)
	}
}

func TestEventsNormalizesSessionRows(t *testing.T) {
	path := setupVendorDB(t, vendorSchema)
	insertEvent(t, path, "e1", "OpenContent", "2023-01-01T10:00:00Z",
		`{"progress":"0","volumeid":"book1"}`, "")
	insertEvent(t, path, "e2", "PageTurn", "2023-01-01T10:02:00Z",
		`{"volumeid":"book1"}`, "")
	insertEvent(t, path, "e3", "LeaveContent", "2023-01-01T10:05:00Z",
		`{"progress":"10","volumeid":"book1"}`,
		`{"ButtonPressCount":10,"SecondsRead":300,"PagesTurned":5}`)

	st := openStore(t, path)
	rows, err := st.Events(context.Background(), model.SelectReadingSessions)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	wantTags := []string{event.TagSessionStart, event.TagPageTurn, event.TagSessionEnd}
	for i, tag := range wantTags {
		if rows[i].TypeTag != tag {
			t.Fatalf("row %d: expected tag %s, got %s", i, tag, rows[i].TypeTag)
		}
		if rows[i].BookID != "book1" {
			t.Fatalf("row %d: expected book1, got %q", i, rows[i].BookID)
		}
	}
	if rows[0].Fields[event.FieldProgress] != "0" || rows[2].Fields[event.FieldProgress] != "10" {
		t.Fatalf("progress fields not mapped: %+v", rows)
	}
	if rows[2].Fields[event.FieldPages] != "5" {
		t.Fatalf("PagesTurned metric not mapped onto the end event: %+v", rows[2])
	}
	want := time.Date(2023, 1, 1, 10, 0, 0, 0, time.UTC)
	if !rows[0].Timestamp.Equal(want) {
		t.Fatalf("expected %s, got %s", want, rows[0].Timestamp)
	}
}

func TestSessionPagesComeFromEndMetrics(t *testing.T) {
	// Real devices report the page count in the LeaveContent metrics and log
	// no PageTurn rows at all; the count must survive the whole pipeline.
	path := setupVendorDB(t, vendorSchema)
	insertEvent(t, path, "e1", "OpenContent", "2023-01-01T10:00:00Z",
		`{"progress":"0","volumeid":"book1"}`, "")
	insertEvent(t, path, "e2", "LeaveContent", "2023-01-01T10:05:00Z",
		`{"progress":"10","volumeid":"book1"}`,
		`{"ButtonPressCount":10,"SecondsRead":300,"PagesTurned":5}`)

	st := openStore(t, path)
	res, err := parse.Run(context.Background(), st, model.SelectReadingSessions)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Sessions.Count() != 1 {
		t.Fatalf("expected 1 session, got %d", res.Sessions.Count())
	}
	if got := res.Sessions.Sessions[0].PagesTurned; got != 5 {
		t.Fatalf("expected 5 pages from the end metrics, got %d", got)
	}
}

func TestEventsOrderedByTimestamp(t *testing.T) {
	path := setupVendorDB(t, vendorSchema)
	insertEvent(t, path, "late", "OpenContent", "2023-01-02T10:00:00Z", `{"volumeid":"b"}`, "")
	insertEvent(t, path, "early", "OpenContent", "2023-01-01T10:00:00Z", `{"volumeid":"a"}`, "")

	st := openStore(t, path)
	rows, err := st.Events(context.Background(), model.SelectReadingSessions)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(rows) != 2 || rows[0].BookID != "a" || rows[1].BookID != "b" {
		t.Fatalf("rows not ordered by timestamp: %+v", rows)
	}
}

func TestEventsBrightnessModes(t *testing.T) {
	path := setupVendorDB(t, vendorSchema)
	insertEvent(t, path, "b1", "BrightnessAdjusted", "2023-01-01T10:00:00Z",
		`{"Method":"manual"}`, `{"NewBrightness":50}`)
	insertEvent(t, path, "b2", "NaturalLightAdjusted", "2023-01-01T10:01:00Z",
		`{"Method":"auto"}`, `{"NewNaturalLight":70}`)

	st := openStore(t, path)
	rows, err := st.Events(context.Background(), model.SelectBrightness)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Fields[event.FieldValue] != "50" || rows[0].Fields[event.FieldMode] != "manual" {
		t.Fatalf("manual brightness not mapped: %+v", rows[0])
	}
	if rows[1].Fields[event.FieldValue] != "70" || rows[1].Fields[event.FieldMode] != "natural-light" {
		t.Fatalf("natural light not mapped: %+v", rows[1])
	}
}

func TestEventsDictionaryLookup(t *testing.T) {
	path := setupVendorDB(t, vendorSchema)
	insertEvent(t, path, "d1", "DictionaryLookup", "2023-01-01T10:01:00Z",
		`{"Dictionary":"en","Word":"test"}`, "")

	st := openStore(t, path)
	rows, err := st.Events(context.Background(), model.SelectDictionaryLookups)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].Fields[event.FieldTerm] != "test" || rows[0].Fields[event.FieldLanguage] != "en" {
		t.Fatalf("lookup fields not mapped: %+v", rows[0])
	}
}

func TestEventsMalformedAttributesSurviveLoading(t *testing.T) {
	path := setupVendorDB(t, vendorSchema)
	insertEvent(t, path, "bad", "BrightnessAdjusted", "2023-01-01T10:00:00Z",
		"not json", "also not json")

	st := openStore(t, path)
	rows, err := st.Events(context.Background(), model.SelectBrightness)
	if err != nil {
		t.Fatalf("malformed attributes must not fail the batch: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected the malformed row to be returned, got %d rows", len(rows))
	}
	// The classifier downgrades it later; the store only guarantees that the
	// row flows through.
	if ev := event.Classify(rows[0]); ev.Kind != event.KindUnrecognized {
		t.Fatalf("expected Unrecognized after classification, got %s", ev.Kind)
	}
}

func TestEventsIncludesBookmarkRows(t *testing.T) {
	path := setupVendorDB(t, vendorSchema)
	insertEvent(t, path, "e1", "OpenContent", "2023-01-01T10:00:00Z", `{"volumeid":"book1"}`, "")
	execFixture(t, path,
		`INSERT INTO Bookmark (BookmarkID, Text, VolumeID, ChapterProgress, DateCreated) VALUES (?, ?, ?, ?, ?)`,
		"bm1", "Some text", "book1", 0.5, "2023-01-01T09:00:00Z")

	st := openStore(t, path)
	rows, err := st.Events(context.Background(), model.SelectAll)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	// The bookmark predates the session start and must sort first.
	if rows[0].TypeTag != event.TagBookmarkAdded {
		t.Fatalf("expected bookmark first, got %+v", rows[0])
	}
	if rows[0].Fields[event.FieldNote] != "Some text" {
		t.Fatalf("bookmark note not mapped: %+v", rows[0])
	}
	if rows[0].Fields[event.FieldLocation] != "0.5000" {
		t.Fatalf("bookmark location not mapped: %+v", rows[0])
	}
}

func TestBooks(t *testing.T) {
	path := setupVendorDB(t, vendorSchema)
	execFixture(t, path,
		`INSERT INTO content (ContentID, ContentType, Title, Attribution, BookID) VALUES (?, ?, ?, ?, ?)`,
		"book1", contentTypeBook, "Book One", "Author One", "book1")

	st := openStore(t, path)
	books, err := st.Books(context.Background(), []string{"book1", "missing"})
	if err != nil {
		t.Fatalf("books: %v", err)
	}
	if len(books) != 1 {
		t.Fatalf("expected 1 book, got %+v", books)
	}
	if books[0].Title != "Book One" || books[0].Authors != "Author One" {
		t.Fatalf("unexpected book: %+v", books[0])
	}
}
