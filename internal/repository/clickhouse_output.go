package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"DeskCast/internal/domain/models"
	domrepo "DeskCast/internal/domain/repository"
	pkgch "DeskCast/pkg/clickhouse"
	applogger "DeskCast/pkg/logger"
)

// CHOutputStore mirrors the forecast and metrics artifacts into ClickHouse tables.
// Each write replaces the table contents.
type CHOutputStore struct {
	db       *sql.DB
	forecast string
	metrics  string
	l        *applogger.Logger
}

func NewCHOutputStore(ch *pkgch.Client, database string) *CHOutputStore {
	return &CHOutputStore{
		db:       ch.DB(),
		forecast: database + "." + TableForecastOutput,
		metrics:  database + "." + TableModelMetrics,
		l:        applogger.Nop(),
	}
}

// SetLogger injects a structured logger.
func (s *CHOutputStore) SetLogger(l *applogger.Logger) {
	if l != nil {
		s.l = l
	}
}

func (s *CHOutputStore) WriteForecast(ctx context.Context, rows []models.OutputRow) (domrepo.WriteResult, error) {
	start := time.Now()
	if _, err := s.db.ExecContext(ctx, "TRUNCATE TABLE "+s.forecast); err != nil {
		return domrepo.WriteResult{}, fmt.Errorf("truncate %s: %w", s.forecast, err)
	}
	vals := make([][]interface{}, 0, len(rows))
	for _, r := range rows {
		vals = append(vals, []interface{}{
			r.Date, r.Group.Category, r.Group.EntityID, uint16(r.Horizon),
			nullFloat(r.VolumeReal), int64(r.P50), int64(r.P90), nullFloat(r.AvgTTRHours),
		})
	}
	if err := insertChunked(ctx, s.db, s.forecast, outputColumns, vals); err != nil {
		s.l.Error("clickhouse write_forecast error", applogger.String("table", s.forecast), applogger.Error(err))
		return domrepo.WriteResult{}, fmt.Errorf("write forecast: %w", err)
	}
	s.l.Info("clickhouse write_forecast ok",
		applogger.String("table", s.forecast),
		applogger.Int("rows", len(rows)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return domrepo.WriteResult{Path: "clickhouse://" + s.forecast}, nil
}

func (s *CHOutputStore) ReadForecast(ctx context.Context) ([]models.OutputRow, string, error) {
	q := fmt.Sprintf(`
        SELECT date, category, entities_id, horizon, volume_real,
               volume_pred_p50, volume_pred_p90, avg_ttr_hours
        FROM %s
        ORDER BY category, entities_id, horizon, date`, s.forecast)
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, s.forecast, fmt.Errorf("read forecast: %w", err)
	}
	defer rows.Close()

	var out []models.OutputRow
	for rows.Next() {
		var (
			r           models.OutputRow
			horizon     uint16
			actual, ttr sql.NullFloat64
			p50, p90    int64
		)
		if err := rows.Scan(&r.Date, &r.Group.Category, &r.Group.EntityID, &horizon, &actual, &p50, &p90, &ttr); err != nil {
			return nil, s.forecast, fmt.Errorf("scan forecast row: %w", err)
		}
		r.Horizon = int(horizon)
		r.VolumeReal = floatPtr(actual)
		r.P50, r.P90 = int(p50), int(p90)
		r.AvgTTRHours = floatPtr(ttr)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, s.forecast, fmt.Errorf("rows: %w", err)
	}
	return out, "clickhouse://" + s.forecast, nil
}

func (s *CHOutputStore) WriteMetrics(ctx context.Context, metrics []models.GroupMetric) error {
	if _, err := s.db.ExecContext(ctx, "TRUNCATE TABLE "+s.metrics); err != nil {
		return fmt.Errorf("truncate %s: %w", s.metrics, err)
	}
	vals := make([][]interface{}, 0, len(metrics))
	for _, m := range metrics {
		vals = append(vals, []interface{}{
			m.Group.Category, m.Group.EntityID, m.ModelID, uint16(m.Horizon), m.MAPE, string(m.Status),
		})
	}
	if err := insertChunked(ctx, s.db, s.metrics, metricsColumns, vals); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}

var (
	_ domrepo.ForecastWriter = (*CHOutputStore)(nil)
	_ domrepo.ForecastReader = (*CHOutputStore)(nil)
	_ domrepo.MetricsWriter  = (*CHOutputStore)(nil)
)
