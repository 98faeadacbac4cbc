package features

import (
	"gonum.org/v1/gonum/stat"

	"DeskCast/internal/domain/models"
)

var (
	// Lags are the day offsets copied from the volume series.
	Lags = []int{1, 7, 14}
	// Windows are the rolling-mean lengths over the one-day-shifted volume.
	Windows = []int{7, 14, 28}
)

// Lookback is the number of leading rows per group that lack a full feature set.
const Lookback = 28

// Build derives feature rows for a group-sorted densified series, group by group.
// The first Lookback rows of every group are dropped, so a group with Lookback
// rows or fewer contributes nothing.
func Build(series []models.SeriesPoint) []models.FeatureRow {
	keys, byGroup := SplitByGroup(series)
	var out []models.FeatureRow
	for _, k := range keys {
		out = append(out, BuildGroup(byGroup[k])...)
	}
	return out
}

// BuildGroup derives feature rows for one contiguous, date-ordered group series.
func BuildGroup(points []models.SeriesPoint) []models.FeatureRow {
	if len(points) <= Lookback {
		return nil
	}

	vol := make([]float64, len(points))
	for i, p := range points {
		vol[i] = p.Volume
	}

	out := make([]models.FeatureRow, 0, len(points)-Lookback)
	for i := Lookback; i < len(points); i++ {
		p := points[i]
		out = append(out, models.FeatureRow{
			SeriesPoint:   p,
			Lag1:          vol[i-Lags[0]],
			Lag7:          vol[i-Lags[1]],
			Lag14:         vol[i-Lags[2]],
			RollingMean7:  stat.Mean(vol[i-Windows[0]:i], nil),
			RollingMean14: stat.Mean(vol[i-Windows[1]:i], nil),
			RollingMean28: stat.Mean(vol[i-Windows[2]:i], nil),
			DayOfMonth:    p.Date.Day(),
			DayOfYear:     p.Date.YearDay(),
			HighRiskDay:   IsHighRiskDay(p.Date),
		})
	}
	return out
}

// Matrix returns the feature vectors and targets of rows.
func Matrix(rows []models.FeatureRow) ([][]float64, []float64) {
	x := make([][]float64, len(rows))
	y := make([]float64, len(rows))
	for i, r := range rows {
		x[i] = r.Vector()
		y[i] = r.Volume
	}
	return x, y
}
