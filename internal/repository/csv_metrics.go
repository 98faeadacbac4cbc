package repository

import (
	"context"
	"encoding/csv"
	"fmt"
	"strconv"

	"DeskCast/internal/domain/models"
	domrepo "DeskCast/internal/domain/repository"
)

var metricsColumns = []string{"category", "entities_id", "model_id", "horizon", "mape_pct", "status"}

// CSVMetricsStore reads and writes the per-group accuracy artifact.
type CSVMetricsStore struct {
	path string
}

func NewCSVMetricsStore(path string) *CSVMetricsStore {
	return &CSVMetricsStore{path: path}
}

// Path is where the artifact is written.
func (s *CSVMetricsStore) Path() string { return s.path }

func (s *CSVMetricsStore) WriteMetrics(ctx context.Context, metrics []models.GroupMetric) error {
	err := writeCSVAtomic(s.path, metricsColumns, func(w *csv.Writer) error {
		for _, m := range metrics {
			if err := ctx.Err(); err != nil {
				return err
			}
			rec := []string{
				m.Group.Category,
				strconv.FormatInt(m.Group.EntityID, 10),
				m.ModelID,
				strconv.Itoa(m.Horizon),
				strconv.FormatFloat(m.MAPE, 'f', 2, 64),
				string(m.Status),
			}
			if err := w.Write(rec); err != nil {
				return fmt.Errorf("write metric: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("write metrics %s: %w", s.path, err)
	}
	return nil
}

func (s *CSVMetricsStore) ReadMetrics(ctx context.Context) ([]models.GroupMetric, error) {
	idx, records, err := readCSV(s.path)
	if err != nil {
		return nil, fmt.Errorf("read metrics %s: %w", s.path, err)
	}
	if err := requireColumns(idx, metricsColumns...); err != nil {
		return nil, fmt.Errorf("read metrics %s: %w", s.path, err)
	}
	out := make([]models.GroupMetric, 0, len(records))
	for n, rec := range records {
		entity, err := strconv.ParseInt(field(rec, idx, "entities_id"), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("read metrics line %d: entities_id: %w", n+2, err)
		}
		horizon, err := strconv.Atoi(field(rec, idx, "horizon"))
		if err != nil {
			return nil, fmt.Errorf("read metrics line %d: horizon: %w", n+2, err)
		}
		mape, err := strconv.ParseFloat(field(rec, idx, "mape_pct"), 64)
		if err != nil {
			return nil, fmt.Errorf("read metrics line %d: mape_pct: %w", n+2, err)
		}
		out = append(out, models.GroupMetric{
			Group:   models.GroupKey{Category: field(rec, idx, "category"), EntityID: entity},
			ModelID: field(rec, idx, "model_id"),
			Horizon: horizon,
			MAPE:    mape,
			Status:  models.AccuracyStatus(field(rec, idx, "status")),
		})
	}
	return out, nil
}

var (
	_ domrepo.MetricsWriter = (*CSVMetricsStore)(nil)
	_ domrepo.MetricsReader = (*CSVMetricsStore)(nil)
)
