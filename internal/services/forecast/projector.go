package forecast

import (
	"fmt"

	"DeskCast/internal/domain/models"
	"DeskCast/internal/services/features"
)

// Predictor scores feature vectors. *gbrt.Model satisfies it.
type Predictor interface {
	PredictBatch(x [][]float64) ([]float64, error)
}

// FutureRows builds the feature rows for the horizon days after last. Calendar
// columns, the high-risk flag and the holiday flag are derived from each future date;
// lag and rolling columns are carried forward unchanged from last.
func FutureRows(last models.FeatureRow, horizon int, holidays features.Holidays) []models.FeatureRow {
	out := make([]models.FeatureRow, horizon)
	for i := range out {
		d := last.Date.AddDate(0, 0, i+1)
		r := last
		r.Date = d
		r.Calendar = features.CalendarFor(d)
		r.IsHoliday = holidays.Contains(d)
		r.DayOfMonth = d.Day()
		r.DayOfYear = d.YearDay()
		r.HighRiskDay = features.IsHighRiskDay(d)
		r.Volume = 0
		r.AvgTTRHours = nil
		out[i] = r
	}
	return out
}

// Project forecasts horizon days after last. P50 is clamped at zero and P90 is
// P50 times the configured multiplier.
func Project(model Predictor, last models.FeatureRow, horizon int, cfg Config) ([]models.ForecastPoint, error) {
	if horizon <= 0 {
		return nil, nil
	}
	rows := FutureRows(last, horizon, cfg.Holidays)
	x, _ := features.Matrix(rows)
	pred, err := model.PredictBatch(x)
	if err != nil {
		return nil, fmt.Errorf("predict future: %w", err)
	}
	clampNonNegative(pred)

	out := make([]models.ForecastPoint, len(rows))
	for i, r := range rows {
		out[i] = models.ForecastPoint{Date: r.Date, P50: pred[i], P90: pred[i] * cfg.P90Multiplier}
	}
	return out, nil
}
