package stats

import "github.com/verte-zerg/inkstats/internal/model"

// BrightnessMean returns the time-weighted mean brightness over a
// chronological event history. Each value is weighted by how long it stayed
// active, i.e. the gap until the next adjustment. With fewer than two events
// there is nothing to weight and the single value (or 0) is returned.
func BrightnessMean(events []model.BrightnessEvent) float64 {
	if len(events) == 0 {
		return 0
	}
	if len(events) == 1 {
		return float64(events[0].Value)
	}

	var weightedSum, total float64
	for i := 0; i < len(events)-1; i++ {
		gap := events[i+1].Timestamp.Sub(events[i].Timestamp).Seconds()
		if gap <= 0 {
			continue
		}
		weightedSum += float64(events[i].Value) * gap
		total += gap
	}
	if total == 0 {
		// All events share one instant; the last value is what stuck.
		return float64(events[len(events)-1].Value)
	}
	return weightedSum / total
}
