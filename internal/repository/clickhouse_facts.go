package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"DeskCast/internal/domain/models"
	domrepo "DeskCast/internal/domain/repository"
	pkgch "DeskCast/pkg/clickhouse"
	applogger "DeskCast/pkg/logger"
)

const (
	TableDailyFacts     = "daily_facts"
	TableForecastOutput = "forecast_output"
	TableModelMetrics   = "model_metrics"
)

// Schema returns the idempotent DDL for every DeskCast table in database.
func Schema(database string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
            date Date,
            category LowCardinality(String),
            entities_id Int64,
            volume Float64,
            avg_ttr_hours Nullable(Float64),
            day_of_week UInt8,
            is_weekend UInt8,
            month UInt8,
            year UInt16,
            is_holiday UInt8
        ) ENGINE = ReplacingMergeTree
        ORDER BY (category, entities_id, date)`, database, TableDailyFacts),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
            date Date,
            category LowCardinality(String),
            entities_id Int64,
            horizon UInt16,
            volume_real Nullable(Float64),
            volume_pred_p50 Int64,
            volume_pred_p90 Int64,
            avg_ttr_hours Nullable(Float64)
        ) ENGINE = MergeTree
        ORDER BY (category, entities_id, horizon, date)`, database, TableForecastOutput),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
            category LowCardinality(String),
            entities_id Int64,
            model_id String,
            horizon UInt16,
            mape_pct Float64,
            status LowCardinality(String)
        ) ENGINE = MergeTree
        ORDER BY (category, entities_id)`, database, TableModelMetrics),
	}
}

// insertChunked runs multi-row INSERTs of at most chunkSize rows each.
func insertChunked(ctx context.Context, db *sql.DB, table string, cols []string, rows [][]interface{}) error {
	const chunkSize = 2000
	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ") + ")"
	for start := 0; start < len(rows); start += chunkSize {
		end := start + chunkSize
		if end > len(rows) {
			end = len(rows)
		}
		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*len(cols))
		for _, r := range rows[start:end] {
			values = append(values, placeholder)
			args = append(args, r...)
		}
		q := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", table, strings.Join(cols, ", "), strings.Join(values, ","))
		if _, err := db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("insert %s: %w", table, err)
		}
	}
	return nil
}

func nullFloat(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

// CHFactStore keeps the daily fact table in ClickHouse.
type CHFactStore struct {
	db    *sql.DB
	table string
	l     *applogger.Logger
}

func NewCHFactStore(ch *pkgch.Client, database string) *CHFactStore {
	return &CHFactStore{db: ch.DB(), table: database + "." + TableDailyFacts, l: applogger.Nop()}
}

// SetLogger injects a structured logger.
func (s *CHFactStore) SetLogger(l *applogger.Logger) {
	if l != nil {
		s.l = l
	}
}

func (s *CHFactStore) LoadFacts(ctx context.Context) ([]models.DailyFact, error) {
	start := time.Now()
	q := fmt.Sprintf(`
        SELECT date, category, entities_id, volume, avg_ttr_hours,
               day_of_week, is_weekend, month, year, is_holiday
        FROM %s FINAL
        ORDER BY date, category, entities_id`, s.table)
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		s.l.Error("clickhouse load_facts query error", applogger.String("table", s.table), applogger.Error(err))
		return nil, fmt.Errorf("load facts: %w", err)
	}
	defer rows.Close()

	out := make([]models.DailyFact, 0, 4096)
	for rows.Next() {
		var (
			f                 models.DailyFact
			ttr               sql.NullFloat64
			dow, wknd, m, hol uint8
			year              uint16
		)
		if err := rows.Scan(&f.Date, &f.Group.Category, &f.Group.EntityID, &f.Volume, &ttr, &dow, &wknd, &m, &year, &hol); err != nil {
			s.l.Error("clickhouse load_facts scan error", applogger.String("table", s.table), applogger.Error(err))
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		f.AvgTTRHours = floatPtr(ttr)
		f.Calendar = models.Calendar{DayOfWeek: int(dow), IsWeekend: wknd == 1, Month: int(m), Year: int(year)}
		f.IsHoliday = hol == 1
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	s.l.Info("clickhouse load_facts ok",
		applogger.String("table", s.table),
		applogger.Int("rows", len(out)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return out, nil
}

// SaveFacts inserts facts; the ReplacingMergeTree collapses re-extracted days.
func (s *CHFactStore) SaveFacts(ctx context.Context, facts []models.DailyFact) error {
	rows := make([][]interface{}, 0, len(facts))
	for _, f := range facts {
		rows = append(rows, []interface{}{
			f.Date, f.Group.Category, f.Group.EntityID, f.Volume, nullFloat(f.AvgTTRHours),
			uint8(f.DayOfWeek), boolUint8(f.IsWeekend), uint8(f.Month), uint16(f.Year), boolUint8(f.IsHoliday),
		})
	}
	if err := insertChunked(ctx, s.db, s.table, factColumns, rows); err != nil {
		return fmt.Errorf("save facts: %w", err)
	}
	s.l.Info("clickhouse save_facts ok", applogger.String("table", s.table), applogger.Int("rows", len(facts)))
	return nil
}

func boolUint8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

var (
	_ domrepo.FactSource = (*CHFactStore)(nil)
	_ domrepo.FactSink   = (*CHFactStore)(nil)
)
