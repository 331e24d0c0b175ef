// Package store reads the vendor e-reader SQLite database and exposes its
// analytics rows as raw events.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/verte-zerg/inkstats/internal/event"
	"github.com/verte-zerg/inkstats/internal/model"

	_ "modernc.org/sqlite" // SQLite driver.
)

// ErrMissingSource is returned when the database cannot supply any analytics
// data at all (missing file or missing AnalyticsEvents table).
var ErrMissingSource = errors.New("analytics events table not found")

// Vendor event type names as they appear in the AnalyticsEvents table.
const (
	vendorOpenContent  = "OpenContent"
	vendorLeaveContent = "LeaveContent"
	vendorPageTurn     = "PageTurn"
	vendorDictionary   = "DictionaryLookup"
	vendorBrightness   = "BrightnessAdjusted"
	vendorNaturalLight = "NaturalLightAdjusted"
)

const contentTypeBook = 6

const (
	timestampLayout      = time.RFC3339
	timestampLayoutLoose = "2006-01-02T15:04:05"
)

// Store wraps read access to the vendor database.
type Store struct {
	db *sql.DB
}

// Open opens the vendor SQLite database and verifies it carries the
// analytics event log. The device's own software purges this table, so a
// database without it is treated as a missing source, not an empty one.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	store := &Store{db: db}
	ok, err := store.hasTable(context.Background(), "AnalyticsEvents")
	if err != nil {
		if cerr := db.Close(); cerr != nil {
			_ = cerr
		}
		return nil, fmt.Errorf("inspect database: %w", err)
	}
	if !ok {
		if cerr := db.Close(); cerr != nil {
			_ = cerr
		}
		return nil, ErrMissingSource
	}
	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) hasTable(ctx context.Context, name string) (bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM sqlite_master WHERE type='table' AND name = ? LIMIT 1`, name)
	var one int
	if err := row.Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// vendorTypes returns the AnalyticsEvents type names a selection needs.
func vendorTypes(sel model.Selection) []string {
	var types []string
	if sel.WantSessions() {
		types = append(types, vendorOpenContent, vendorLeaveContent, vendorPageTurn)
	}
	if sel.WantLookups() {
		types = append(types, vendorDictionary)
	}
	if sel.WantBrightness() {
		types = append(types, vendorBrightness, vendorNaturalLight)
	}
	return types
}

// Events returns raw events for the selection, ordered by timestamp with
// ties kept in row order. Vendor type names and JSON attribute blobs are
// normalized into the canonical tag and flat field map here, so malformed
// rows flow through classification instead of failing the batch. Bookmarks
// live in their own vendor table and are folded in as synthetic rows.
func (s *Store) Events(ctx context.Context, sel model.Selection) ([]event.RawEvent, error) {
	var rows []event.RawEvent

	types := vendorTypes(sel)
	if len(types) > 0 {
		loaded, err := s.analyticsEvents(ctx, types)
		if err != nil {
			return nil, err
		}
		rows = loaded
	}
	if sel.WantBookmarks() {
		marks, err := s.bookmarkEvents(ctx)
		if err != nil {
			return nil, err
		}
		rows = append(rows, marks...)
		sort.SliceStable(rows, func(i, j int) bool {
			return rows[i].Timestamp.Before(rows[j].Timestamp)
		})
	}
	return rows, nil
}

func (s *Store) analyticsEvents(ctx context.Context, types []string) ([]event.RawEvent, error) {
	placeholders := make([]string, len(types))
	args := make([]any, len(types))
	for i, t := range types {
		placeholders[i] = "?"
		args[i] = t
	}
	query := `SELECT Type, Timestamp, Attributes, Metrics FROM AnalyticsEvents
		WHERE Type IN (` + strings.Join(placeholders, ", ") + `)
		ORDER BY Timestamp ASC, rowid ASC`

	dbRows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query analytics events: %w", err)
	}
	defer func() {
		if cerr := dbRows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var out []event.RawEvent
	for dbRows.Next() {
		var typ, ts string
		var attrs, metrics sql.NullString
		if err := dbRows.Scan(&typ, &ts, &attrs, &metrics); err != nil {
			return nil, err
		}
		out = append(out, normalizeRow(typ, ts, attrs.String, metrics.String))
	}
	if err := dbRows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// normalizeRow maps one vendor row to a canonical raw event. Undecodable
// timestamps stay zero and undecodable JSON leaves fields unset; the
// classifier downgrades such rows instead of aborting the batch.
func normalizeRow(vendorType, ts, attrJSON, metricsJSON string) event.RawEvent {
	raw := event.RawEvent{Fields: map[string]string{}}
	raw.Timestamp = parseTimestamp(ts)

	attrs := decodeJSONMap(attrJSON)
	metrics := decodeJSONMap(metricsJSON)
	raw.BookID = stringValue(attrs, "volumeid")

	switch vendorType {
	case vendorOpenContent:
		raw.TypeTag = event.TagSessionStart
		setIfPresent(raw.Fields, event.FieldProgress, stringValue(attrs, "progress"))
	case vendorLeaveContent:
		raw.TypeTag = event.TagSessionEnd
		setIfPresent(raw.Fields, event.FieldProgress, stringValue(attrs, "progress"))
		setIfPresent(raw.Fields, event.FieldPages, stringValue(metrics, "PagesTurned"))
	case vendorPageTurn:
		raw.TypeTag = event.TagPageTurn
	case vendorDictionary:
		raw.TypeTag = event.TagDictionaryLookup
		setIfPresent(raw.Fields, event.FieldTerm, stringValue(attrs, "Word"))
		setIfPresent(raw.Fields, event.FieldLanguage, stringValue(attrs, "Dictionary"))
	case vendorBrightness:
		raw.TypeTag = event.TagBrightnessChange
		raw.Fields[event.FieldMode] = model.ModeManual.String()
		setIfPresent(raw.Fields, event.FieldValue, stringValue(metrics, "NewBrightness"))
	case vendorNaturalLight:
		raw.TypeTag = event.TagBrightnessChange
		raw.Fields[event.FieldMode] = model.ModeNaturalLight.String()
		setIfPresent(raw.Fields, event.FieldValue, stringValue(metrics, "NewNaturalLight"))
	default:
		raw.TypeTag = vendorType
	}
	return raw
}

func (s *Store) bookmarkEvents(ctx context.Context) ([]event.RawEvent, error) {
	ok, err := s.hasTable(ctx, "Bookmark")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	dbRows, err := s.db.QueryContext(ctx,
		`SELECT BookmarkID, VolumeID, Text, ChapterProgress, DateCreated FROM Bookmark
		 WHERE Text IS NOT NULL AND Text != ''
		 ORDER BY DateCreated ASC, rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("query bookmarks: %w", err)
	}
	defer func() {
		if cerr := dbRows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var out []event.RawEvent
	for dbRows.Next() {
		var id, volumeID, text, created sql.NullString
		var progress sql.NullFloat64
		if err := dbRows.Scan(&id, &volumeID, &text, &progress, &created); err != nil {
			return nil, err
		}
		raw := event.RawEvent{
			TypeTag:   event.TagBookmarkAdded,
			Timestamp: parseTimestamp(created.String),
			BookID:    volumeID.String,
			Fields:    map[string]string{},
		}
		location := id.String
		if progress.Valid {
			location = strconv.FormatFloat(progress.Float64, 'f', 4, 64)
		}
		raw.Fields[event.FieldLocation] = location
		setIfPresent(raw.Fields, event.FieldNote, text.String)
		out = append(out, raw)
	}
	if err := dbRows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Books resolves book reference data from the content table.
func (s *Store) Books(ctx context.Context, ids []string) ([]model.Book, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	stmt, err := s.db.PrepareContext(ctx,
		`SELECT BookID, Title, Attribution FROM content WHERE ContentType = ? AND BookID = ?`)
	if err != nil {
		return nil, fmt.Errorf("prepare book query: %w", err)
	}
	defer func() {
		if cerr := stmt.Close(); cerr != nil {
			// Best-effort statement close.
			_ = cerr
		}
	}()

	var books []model.Book
	for _, id := range ids {
		row := stmt.QueryRowContext(ctx, contentTypeBook, id)
		var b model.Book
		var title, authors sql.NullString
		if err := row.Scan(&b.ID, &title, &authors); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			return nil, err
		}
		b.Title = title.String
		b.Authors = authors.String
		books = append(books, b)
	}
	return books, nil
}

func parseTimestamp(s string) time.Time {
	if t, err := time.Parse(timestampLayout, s); err == nil {
		return t
	}
	// Some firmware versions drop the zone suffix.
	if t, err := time.Parse(timestampLayoutLoose, s); err == nil {
		return t.UTC()
	}
	return time.Time{}
}

func decodeJSONMap(s string) map[string]any {
	if s == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil
	}
	return m
}

func stringValue(m map[string]any, key string) string {
	v, ok := m[key]
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return ""
}

func setIfPresent(fields map[string]string, key, value string) {
	if value != "" {
		fields[key] = value
	}
}
