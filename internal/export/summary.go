package export

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
)

// Quantile pairs a requested quantile with its estimated metric value.
type Quantile struct {
	P               float64 `json:"p"`
	DurationSeconds float64 `json:"duration_seconds"`
	PagesTurned     float64 `json:"pages_turned"`
}

// Summary aggregates the headline numbers for the default report.
type Summary struct {
	Sessions           int        `json:"sessions"`
	Orphans            int        `json:"orphans,omitempty"`
	Malformed          int        `json:"malformed,omitempty"`
	AvgDurationSeconds float64    `json:"avg_duration_seconds,omitempty"`
	AvgPagesTurned     float64    `json:"avg_pages_turned,omitempty"`
	Quantiles          []Quantile `json:"quantiles,omitempty"`
	DurationSpark      string     `json:"-"`
}

// WriteSummary renders the session summary in the requested format.
func WriteSummary(w io.Writer, s Summary, format string) error {
	if strings.ToLower(format) == FormatJSON {
		return writeJSON(w, s)
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendRow(table.Row{"Sessions", s.Sessions})
	t.AppendRow(table.Row{"Orphan spans", s.Orphans})
	t.AppendRow(table.Row{"Malformed rows", s.Malformed})
	if s.Sessions > 0 {
		t.AppendRow(table.Row{"Avg duration", (time.Duration(s.AvgDurationSeconds * float64(time.Second))).Round(time.Second).String()})
		t.AppendRow(table.Row{"Avg pages turned", fmt.Sprintf("%.1f", s.AvgPagesTurned)})
		for _, q := range s.Quantiles {
			label := fmt.Sprintf("p%.4g duration", q.P*100)
			t.AppendRow(table.Row{label, (time.Duration(q.DurationSeconds * float64(time.Second))).Round(time.Second).String()})
		}
	}
	if err := render(t, format); err != nil {
		return err
	}
	if s.DurationSpark != "" {
		if _, err := fmt.Fprintf(w, "durations: %s\n", s.DurationSpark); err != nil {
			return err
		}
	}
	return nil
}
