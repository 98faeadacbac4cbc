package models

import (
	"encoding/json"
	"time"
)

// DateLayout is the wire and file format for calendar days.
const DateLayout = "2006-01-02"

// ForecastPoint is one projected day for a group, before horizon tagging.
type ForecastPoint struct {
	Date time.Time
	P50  float64
	P90  float64
}

// OutputRow is one row of the unified forecast artifact. Horizon 0 marks history.
type OutputRow struct {
	Date        time.Time
	Group       GroupKey
	Horizon     int
	VolumeReal  *float64
	P50         int
	P90         int
	AvgTTRHours *float64
}

// IsHistory reports whether the row carries an observed volume.
func (r OutputRow) IsHistory() bool { return r.Horizon == 0 }

type outputRowJSON struct {
	Date        string   `json:"date"`
	Category    string   `json:"category"`
	EntityID    int64    `json:"entities_id"`
	Horizon     int      `json:"horizon"`
	VolumeReal  *float64 `json:"volume_real"`
	P50         int      `json:"volume_pred_p50"`
	P90         int      `json:"volume_pred_p90"`
	AvgTTRHours *float64 `json:"avg_ttr_hours"`
}

func (r OutputRow) MarshalJSON() ([]byte, error) {
	return json.Marshal(outputRowJSON{
		Date:        r.Date.Format(DateLayout),
		Category:    r.Group.Category,
		EntityID:    r.Group.EntityID,
		Horizon:     r.Horizon,
		VolumeReal:  r.VolumeReal,
		P50:         r.P50,
		P90:         r.P90,
		AvgTTRHours: r.AvgTTRHours,
	})
}

func (r *OutputRow) UnmarshalJSON(b []byte) error {
	var raw outputRowJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	d, err := time.Parse(DateLayout, raw.Date)
	if err != nil {
		return err
	}
	*r = OutputRow{
		Date:        d,
		Group:       GroupKey{Category: raw.Category, EntityID: raw.EntityID},
		Horizon:     raw.Horizon,
		VolumeReal:  raw.VolumeReal,
		P50:         raw.P50,
		P90:         raw.P90,
		AvgTTRHours: raw.AvgTTRHours,
	}
	return nil
}

// AccuracyStatus is the verdict of a group's MAPE against the accuracy target.
type AccuracyStatus string

const (
	StatusPass AccuracyStatus = "PASS"
	StatusFail AccuracyStatus = "FAIL"
)

// GroupMetric is one row of the metrics artifact.
type GroupMetric struct {
	Group   GroupKey       `json:"group"`
	ModelID string         `json:"model_id"`
	Horizon int            `json:"horizon"`
	MAPE    float64        `json:"mape_pct"`
	Status  AccuracyStatus `json:"status"`
}
