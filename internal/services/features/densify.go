package features

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"DeskCast/internal/domain/models"
	"DeskCast/pkg/util"
)

var ErrDuplicateFact = errors.New("duplicate (date, category, entity) fact")

// Densify expands sparse daily facts into one row per (group, day) over the global
// date span of the input. Every group observed anywhere in the input receives the
// whole span, including days before its first and after its last ticket.
// Missing days get zero volume, no TTR and no holiday flag; calendar columns are
// always recomputed from the date. Output is sorted by group, then date.
func Densify(facts []models.DailyFact) ([]models.SeriesPoint, error) {
	if len(facts) == 0 {
		return nil, nil
	}

	minDate, maxDate := util.Day(facts[0].Date), util.Day(facts[0].Date)
	byGroup := make(map[models.GroupKey]map[time.Time]models.DailyFact)
	for _, f := range facts {
		d := util.Day(f.Date)
		if d.Before(minDate) {
			minDate = d
		}
		if d.After(maxDate) {
			maxDate = d
		}
		days, ok := byGroup[f.Group]
		if !ok {
			days = make(map[time.Time]models.DailyFact)
			byGroup[f.Group] = days
		}
		if _, dup := days[d]; dup {
			return nil, fmt.Errorf("%w: %s %s", ErrDuplicateFact, d.Format(util.DayLayout), f.Group)
		}
		days[d] = f
	}

	groups := make([]models.GroupKey, 0, len(byGroup))
	for g := range byGroup {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Less(groups[j]) })

	span := util.DateRange(minDate, maxDate)
	out := make([]models.SeriesPoint, 0, len(span)*len(groups))
	for _, g := range groups {
		days := byGroup[g]
		for _, d := range span {
			p := models.SeriesPoint{Date: d, Group: g, Calendar: CalendarFor(d)}
			if f, ok := days[d]; ok {
				p.Volume = f.Volume
				p.AvgTTRHours = f.AvgTTRHours
				p.IsHoliday = f.IsHoliday
			}
			out = append(out, p)
		}
	}
	return out, nil
}

// SplitByGroup slices a group-sorted series into per-group runs, preserving order.
func SplitByGroup(series []models.SeriesPoint) ([]models.GroupKey, map[models.GroupKey][]models.SeriesPoint) {
	var keys []models.GroupKey
	out := make(map[models.GroupKey][]models.SeriesPoint)
	start := 0
	for i := 1; i <= len(series); i++ {
		if i < len(series) && series[i].Group == series[start].Group {
			continue
		}
		g := series[start].Group
		if _, seen := out[g]; !seen {
			keys = append(keys, g)
		}
		out[g] = append(out[g], series[start:i]...)
		start = i
	}
	return keys, out
}
