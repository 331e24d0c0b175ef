// Package stats contains statistics calculations over reconstructed
// reading sessions.
package stats

import (
	"errors"
	"math"
	"sort"

	"github.com/verte-zerg/inkstats/internal/model"
)

// ErrEmptyInput is returned when an aggregate is requested over zero
// sessions. Aggregates never silently return 0 for an empty set.
var ErrEmptyInput = errors.New("no sessions to aggregate")

// ErrInvalidArgument is returned for a quantile outside [0, 1].
var ErrInvalidArgument = errors.New("quantile must be in [0, 1]")

// Count returns the number of sessions. Safe on an empty set.
func Count(sessions []model.ReadingSession) int {
	return len(sessions)
}

// Average returns the arithmetic mean of the chosen metric. Duration is
// measured in seconds.
func Average(sessions []model.ReadingSession, metric model.Metric) (float64, error) {
	if len(sessions) == 0 {
		return 0, ErrEmptyInput
	}
	var sum float64
	for _, s := range sessions {
		sum += metricValue(s, metric)
	}
	return sum / float64(len(sessions)), nil
}

// Percentile estimates quantiles of the chosen metric by linear
// interpolation between closest ranks: for quantile p over n ascending
// values, rank r = p*(n-1), interpolating between floor(r) and ceil(r) by
// the fractional part. Duplicate values are retained since they represent
// distinct sessions.
func Percentile(sessions []model.ReadingSession, metric model.Metric, ps []float64) ([]float64, error) {
	if len(sessions) == 0 {
		return nil, ErrEmptyInput
	}
	for _, p := range ps {
		if p < 0 || p > 1 || math.IsNaN(p) {
			return nil, ErrInvalidArgument
		}
	}
	values := metricValues(sessions, metric)
	sort.Float64s(values)

	out := make([]float64, len(ps))
	for i, p := range ps {
		r := p * float64(len(values)-1)
		lo := int(math.Floor(r))
		hi := int(math.Ceil(r))
		frac := r - float64(lo)
		out[i] = values[lo] + (values[hi]-values[lo])*frac
	}
	return out, nil
}

func metricValues(sessions []model.ReadingSession, metric model.Metric) []float64 {
	values := make([]float64, len(sessions))
	for i, s := range sessions {
		values[i] = metricValue(s, metric)
	}
	return values
}

func metricValue(s model.ReadingSession, metric model.Metric) float64 {
	if metric == model.MetricPagesTurned {
		return float64(s.PagesTurned)
	}
	return s.Duration().Seconds()
}
