package stats

import (
	"math"
	"strings"

	"github.com/verte-zerg/inkstats/internal/model"
)

const sparkChars = " .:-=+*#%@"

// MetricSparkline renders a one-line ASCII profile of the metric across the
// sessions in the order given. Useful as a quick shape-of-the-data glance in
// the summary output.
func MetricSparkline(sessions []model.ReadingSession, metric model.Metric) string {
	values := metricValues(sessions, metric)
	if len(values) == 0 {
		return ""
	}
	minVal, maxVal := values[0], values[0]
	for _, v := range values[1:] {
		minVal = math.Min(minVal, v)
		maxVal = math.Max(maxVal, v)
	}
	if maxVal-minVal < 1e-9 {
		return strings.Repeat(string(sparkChars[len(sparkChars)/2]), len(values))
	}
	var b strings.Builder
	for _, v := range values {
		idx := int(math.Round((v - minVal) / (maxVal - minVal) * float64(len(sparkChars)-1)))
		if idx < 0 {
			idx = 0
		} else if idx >= len(sparkChars) {
			idx = len(sparkChars) - 1
		}
		b.WriteByte(sparkChars[idx])
	}
	return b.String()
}
