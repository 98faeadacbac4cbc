package repository

import (
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"DeskCast/internal/domain/models"
	domrepo "DeskCast/internal/domain/repository"
	applogger "DeskCast/pkg/logger"
	"DeskCast/pkg/util"
)

var factColumns = []string{
	"date", "category", "entities_id", "volume", "avg_ttr_hours",
	"day_of_week", "is_weekend", "month", "year", "is_holiday",
}

// CSVFactStore reads and writes the daily fact table as CSV.
type CSVFactStore struct {
	path string
	l    *applogger.Logger
}

func NewCSVFactStore(path string, l *applogger.Logger) *CSVFactStore {
	if l == nil {
		l = applogger.Nop()
	}
	return &CSVFactStore{path: path, l: l}
}

// LoadFacts accepts "normalized_category" as an alias of "category".
func (s *CSVFactStore) LoadFacts(ctx context.Context) ([]models.DailyFact, error) {
	start := time.Now()
	idx, records, err := readCSV(s.path)
	if err != nil {
		return nil, fmt.Errorf("load facts %s: %w", s.path, err)
	}
	if _, ok := idx["category"]; !ok {
		if i, ok := idx["normalized_category"]; ok {
			idx["category"] = i
		}
	}
	if err := requireColumns(idx, "date", "category", "entities_id", "volume"); err != nil {
		return nil, fmt.Errorf("load facts %s: %w", s.path, err)
	}

	out := make([]models.DailyFact, 0, len(records))
	for n, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, err := parseFact(rec, idx)
		if err != nil {
			return nil, fmt.Errorf("load facts %s line %d: %w", s.path, n+2, err)
		}
		out = append(out, f)
	}

	s.l.Info("facts loaded",
		applogger.String("path", s.path),
		applogger.Int("rows", len(out)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return out, nil
}

func parseFact(rec []string, idx map[string]int) (models.DailyFact, error) {
	d, err := parseDay(field(rec, idx, "date"))
	if err != nil {
		return models.DailyFact{}, err
	}
	entity, err := strconv.ParseFloat(field(rec, idx, "entities_id"), 64)
	if err != nil {
		return models.DailyFact{}, fmt.Errorf("entities_id: %w", err)
	}
	vol, err := strconv.ParseFloat(field(rec, idx, "volume"), 64)
	if err != nil {
		return models.DailyFact{}, fmt.Errorf("volume: %w", err)
	}
	ttr, err := parseFloatPtr(field(rec, idx, "avg_ttr_hours"))
	if err != nil {
		return models.DailyFact{}, fmt.Errorf("avg_ttr_hours: %w", err)
	}

	return models.DailyFact{
		Date:        d,
		Group:       models.GroupKey{Category: field(rec, idx, "category"), EntityID: int64(entity)},
		Volume:      vol,
		AvgTTRHours: ttr,
		Calendar: models.Calendar{
			DayOfWeek: util.ParseIntDefault(field(rec, idx, "day_of_week"), util.MondayIndex(d)),
			IsWeekend: parseBool(field(rec, idx, "is_weekend")),
			Month:     util.ParseIntDefault(field(rec, idx, "month"), int(d.Month())),
			Year:      util.ParseIntDefault(field(rec, idx, "year"), d.Year()),
		},
		IsHoliday: parseBool(field(rec, idx, "is_holiday")),
	}, nil
}

// SaveFacts replaces the fact table file.
func (s *CSVFactStore) SaveFacts(ctx context.Context, facts []models.DailyFact) error {
	err := writeCSVAtomic(s.path, factColumns, func(w *csv.Writer) error {
		for _, f := range facts {
			if err := ctx.Err(); err != nil {
				return err
			}
			rec := []string{
				f.Date.Format(util.DayLayout),
				f.Group.Category,
				strconv.FormatInt(f.Group.EntityID, 10),
				formatFloat(f.Volume),
				formatFloatPtr(f.AvgTTRHours),
				strconv.Itoa(f.DayOfWeek),
				boolDigit(f.IsWeekend),
				strconv.Itoa(f.Month),
				strconv.Itoa(f.Year),
				boolDigit(f.IsHoliday),
			}
			if err := w.Write(rec); err != nil {
				return fmt.Errorf("write fact: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save facts %s: %w", s.path, err)
	}
	s.l.Info("facts saved", applogger.String("path", s.path), applogger.Int("rows", len(facts)))
	return nil
}

var (
	_ domrepo.FactSource = (*CSVFactStore)(nil)
	_ domrepo.FactSink   = (*CSVFactStore)(nil)
)
