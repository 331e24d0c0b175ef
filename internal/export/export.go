// Package export renders analysis collections to table, Markdown, CSV or
// JSON form for reporting collaborators.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/verte-zerg/inkstats/internal/model"
)

// Recognized output formats.
const (
	FormatTable    = "table"
	FormatMarkdown = "markdown"
	FormatCSV      = "csv"
	FormatJSON     = "json"
)

// ErrUnsupportedFormat wraps an unrecognized format string.
func errUnsupportedFormat(format string) error {
	return fmt.Errorf("unsupported format: %s (want table, markdown, csv or json)", format)
}

// render finishes a prepared go-pretty table in the requested format.
func render(t table.Writer, format string) error {
	switch strings.ToLower(format) {
	case "", FormatTable:
		t.Render()
	case FormatMarkdown:
		t.RenderMarkdown()
	case FormatCSV:
		t.RenderCSV()
	default:
		return errUnsupportedFormat(format)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteSessions renders the session set, orphans included, in the requested
// format.
func WriteSessions(w io.Writer, set model.SessionSet, format string) error {
	if strings.ToLower(format) == FormatJSON {
		return writeJSON(w, set)
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Book", "Start", "End", "Duration", "Pages", "Implicit"})
	for _, s := range set.Sessions {
		name := s.BookTitle
		if name == "" {
			name = s.BookID
		}
		implicit := ""
		if s.ImplicitEnd {
			implicit = "yes"
		}
		t.AppendRow(table.Row{
			name,
			s.Start.Format(time.RFC3339),
			s.End.Format(time.RFC3339),
			s.Duration().String(),
			s.PagesTurned,
			implicit,
		})
	}
	if err := render(t, format); err != nil {
		return err
	}
	if len(set.Orphans) == 0 {
		return nil
	}
	ot := table.NewWriter()
	ot.SetOutputMirror(w)
	ot.AppendHeader(table.Row{"Book", "Orphan", "Timestamp"})
	for _, o := range set.Orphans {
		ot.AppendRow(table.Row{o.BookID, o.Kind.String(), o.Timestamp.Format(time.RFC3339)})
	}
	return render(ot, format)
}

// WriteLookups renders dictionary lookups in the requested format.
func WriteLookups(w io.Writer, lookups []model.DictionaryLookup, format string) error {
	if strings.ToLower(format) == FormatJSON {
		return writeJSON(w, lookups)
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Term", "Language", "Book", "Timestamp"})
	for _, l := range lookups {
		t.AppendRow(table.Row{l.Term, l.Language, l.BookID, l.Timestamp.Format(time.RFC3339)})
	}
	return render(t, format)
}

// brightnessReport is the JSON shape of the brightness export: the events
// together with their time-weighted mean.
type brightnessReport struct {
	Events           []model.BrightnessEvent `json:"events"`
	TimeWeightedMean float64                 `json:"time_weighted_mean"`
}

// WriteBrightness renders brightness events and their time-weighted mean in
// the requested format. JSON gets one self-contained document; the other
// formats get the table followed by a mean line.
func WriteBrightness(w io.Writer, events []model.BrightnessEvent, mean float64, format string) error {
	if strings.ToLower(format) == FormatJSON {
		return writeJSON(w, brightnessReport{Events: events, TimeWeightedMean: mean})
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Timestamp", "Value", "Mode"})
	for _, e := range events {
		t.AppendRow(table.Row{e.Timestamp.Format(time.RFC3339), e.Value, e.Mode.String()})
	}
	if err := render(t, format); err != nil {
		return err
	}
	if strings.ToLower(format) == FormatCSV {
		return nil
	}
	_, err := fmt.Fprintf(w, "time-weighted mean: %.1f\n", mean)
	return err
}

// WriteBookmarks renders bookmarks in the requested format.
func WriteBookmarks(w io.Writer, bookmarks []model.Bookmark, format string) error {
	if strings.ToLower(format) == FormatJSON {
		return writeJSON(w, bookmarks)
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Book", "Location", "Note", "Timestamp"})
	for _, b := range bookmarks {
		name := b.BookTitle
		if name == "" {
			name = b.BookID
		}
		t.AppendRow(table.Row{name, b.Location, b.Note, b.Timestamp.Format(time.RFC3339)})
	}
	return render(t, format)
}

// WriteBooks renders book reference data in the requested format.
func WriteBooks(w io.Writer, books []model.Book, format string) error {
	if strings.ToLower(format) == FormatJSON {
		return writeJSON(w, books)
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"ID", "Title", "Authors"})
	for _, b := range books {
		t.AppendRow(table.Row{b.ID, b.Title, b.Authors})
	}
	return render(t, format)
}
