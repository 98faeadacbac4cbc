package etl

import (
	"math"
	"sort"
	"time"

	"DeskCast/internal/domain/models"
	"DeskCast/internal/services/features"
	applogger "DeskCast/pkg/logger"
	"DeskCast/pkg/util"
)

// Transformer turns raw tickets into the daily fact table.
type Transformer struct {
	mapper   *CategoryMapper
	holidays features.Holidays
	l        *applogger.Logger
}

func NewTransformer(mapper *CategoryMapper, holidays features.Holidays, l *applogger.Logger) *Transformer {
	if mapper == nil {
		mapper = NewCategoryMapper(nil, "")
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &Transformer{mapper: mapper, holidays: holidays, l: l}
}

type factKey struct {
	date  time.Time
	group models.GroupKey
}

type factAcc struct {
	count  int
	ttrSum float64
	ttrN   int
}

// Transform cleans, labels and aggregates tickets into one fact per (day, category, entity).
// Tickets without an open date are dropped and the first occurrence of a ticket id wins.
// Resolution time prefers time_to_resolve in seconds and falls back to hours_to_solve;
// tickets with neither get the median of the others.
func (t *Transformer) Transform(tickets []models.Ticket) []models.DailyFact {
	seen := make(map[int64]struct{}, len(tickets))
	kept := make([]models.Ticket, 0, len(tickets))
	ttr := make([]*float64, 0, len(tickets))
	var known []float64
	dropped, dups := 0, 0

	for _, tk := range tickets {
		if tk.OpenedAt.IsZero() {
			dropped++
			continue
		}
		if _, ok := seen[tk.ID]; ok {
			dups++
			continue
		}
		seen[tk.ID] = struct{}{}
		kept = append(kept, tk)

		h := ResolutionHours(tk)
		ttr = append(ttr, h)
		if h != nil {
			known = append(known, *h)
		}
	}

	median, hasMedian := Median(known)
	acc := make(map[factKey]*factAcc)
	for i, tk := range kept {
		k := factKey{
			date:  util.Day(tk.OpenedAt),
			group: models.GroupKey{Category: t.mapper.Map(tk.CategoryPath), EntityID: tk.EntityID},
		}
		a, ok := acc[k]
		if !ok {
			a = &factAcc{}
			acc[k] = a
		}
		a.count++

		h := ttr[i]
		if h == nil && hasMedian {
			h = &median
		}
		if h != nil {
			a.ttrSum += *h
			a.ttrN++
		}
	}

	out := make([]models.DailyFact, 0, len(acc))
	for k, a := range acc {
		f := models.DailyFact{
			Date:      k.date,
			Group:     k.group,
			Volume:    float64(a.count),
			Calendar:  features.CalendarFor(k.date),
			IsHoliday: t.holidays.Contains(k.date),
		}
		if a.ttrN > 0 {
			v := a.ttrSum / float64(a.ttrN)
			f.AvgTTRHours = &v
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].Group.Less(out[j].Group)
	})

	t.l.Info("daily fact table built",
		applogger.Int("tickets", len(tickets)),
		applogger.Int("dropped_no_date", dropped),
		applogger.Int("duplicates", dups),
		applogger.Int("facts", len(out)),
	)
	return out
}

// ResolutionHours is time_to_resolve converted to hours when positive, else hours_to_solve.
func ResolutionHours(tk models.Ticket) *float64 {
	if tk.TimeToResolve != nil && *tk.TimeToResolve > 0 && !math.IsNaN(*tk.TimeToResolve) {
		h := *tk.TimeToResolve / 3600
		return &h
	}
	if tk.HoursToSolve != nil && !math.IsNaN(*tk.HoursToSolve) {
		h := *tk.HoursToSolve
		return &h
	}
	return nil
}

// Median averages the two middle values for even lengths. It reports false for no input.
func Median(v []float64) (float64, bool) {
	if len(v) == 0 {
		return 0, false
	}
	s := append([]float64(nil), v...)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid], true
	}
	return (s[mid-1] + s[mid]) / 2, true
}
