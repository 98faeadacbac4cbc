package features

import (
	"time"

	"DeskCast/internal/domain/models"
	"DeskCast/pkg/util"
)

// CalendarFor derives the calendar columns of a day.
func CalendarFor(d time.Time) models.Calendar {
	dow := util.MondayIndex(d)
	return models.Calendar{
		DayOfWeek: dow,
		IsWeekend: dow >= 5,
		Month:     int(d.Month()),
		Year:      d.Year(),
	}
}

// IsHighRiskDay flags Mondays and Thursdays, the historical ticket peaks.
func IsHighRiskDay(d time.Time) bool {
	dow := util.MondayIndex(d)
	return dow == 0 || dow == 3
}

// Holidays is a set of calendar days.
type Holidays map[time.Time]struct{}

func NewHolidays(days []time.Time) Holidays {
	h := make(Holidays, len(days))
	for _, d := range days {
		h[util.Day(d)] = struct{}{}
	}
	return h
}

// Contains reports whether d falls on a holiday. A nil set has no holidays.
func (h Holidays) Contains(d time.Time) bool {
	_, ok := h[util.Day(d)]
	return ok
}
