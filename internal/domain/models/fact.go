package models

import (
	"strconv"
	"time"
)

// GroupKey identifies one independently modeled series.
type GroupKey struct {
	Category string `json:"category"`
	EntityID int64  `json:"entity_id"`
}

func (k GroupKey) String() string {
	return k.Category + "/" + strconv.FormatInt(k.EntityID, 10)
}

// Less orders groups by category, then entity.
func (k GroupKey) Less(o GroupKey) bool {
	if k.Category != o.Category {
		return k.Category < o.Category
	}
	return k.EntityID < o.EntityID
}

// Calendar holds the date-derived columns. DayOfWeek runs Monday=0..Sunday=6.
type Calendar struct {
	DayOfWeek int  `json:"day_of_week"`
	IsWeekend bool `json:"is_weekend"`
	Month     int  `json:"month"`
	Year      int  `json:"year"`
}

// DailyFact is one aggregated day of tickets for a group. Date is midnight UTC.
type DailyFact struct {
	Date        time.Time `json:"date"`
	Group       GroupKey  `json:"group"`
	Volume      float64   `json:"volume"`
	AvgTTRHours *float64  `json:"avg_ttr_hours"`
	Calendar
	IsHoliday bool `json:"is_holiday"`
}

// SeriesPoint is a densified fact: every date of the span is present for its group.
type SeriesPoint = DailyFact

// FeatureRow is a series point with its lag, rolling and calendar features.
type FeatureRow struct {
	SeriesPoint
	Lag1          float64
	Lag7          float64
	Lag14         float64
	RollingMean7  float64
	RollingMean14 float64
	RollingMean28 float64
	DayOfMonth    int
	DayOfYear     int
	HighRiskDay   bool
}

// FeatureNames is the fixed model input schema, in column order.
var FeatureNames = []string{
	"day_of_week", "month", "year", "is_holiday",
	"lag_1", "lag_7", "lag_14",
	"rolling_mean_7", "rolling_mean_14", "rolling_mean_28",
	"day", "day_of_year", "is_high_risk_day",
}

// Vector returns the feature values in FeatureNames order.
func (r FeatureRow) Vector() []float64 {
	return []float64{
		float64(r.DayOfWeek), float64(r.Month), float64(r.Year), b2f(r.IsHoliday),
		r.Lag1, r.Lag7, r.Lag14,
		r.RollingMean7, r.RollingMean14, r.RollingMean28,
		float64(r.DayOfMonth), float64(r.DayOfYear), b2f(r.HighRiskDay),
	}
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
