package repository

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"DeskCast/internal/domain/models"
	domrepo "DeskCast/internal/domain/repository"
)

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    started_at TEXT NOT NULL,
    finished_at TEXT NOT NULL,
    output_path TEXT NOT NULL DEFAULT '',
    used_fallback INTEGER NOT NULL DEFAULT 0,
    metrics_path TEXT NOT NULL DEFAULT '',
    row_count INTEGER NOT NULL DEFAULT 0,
    modeled INTEGER NOT NULL DEFAULT 0,
    skipped INTEGER NOT NULL DEFAULT 0,
    failed INTEGER NOT NULL DEFAULT 0,
    mean_mape REAL NOT NULL DEFAULT 0,
    accuracy_target REAL NOT NULL DEFAULT 0,
    target_met INTEGER NOT NULL DEFAULT 0,
    error TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS run_outcomes (
    run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
    category TEXT NOT NULL,
    entities_id INTEGER NOT NULL,
    kind TEXT NOT NULL,
    reason TEXT NOT NULL DEFAULT '',
    row_count INTEGER NOT NULL DEFAULT 0,
    mape REAL NOT NULL DEFAULT 0,
    PRIMARY KEY (run_id, category, entities_id)
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
`

// SQLiteLedger records pipeline runs and their per-group outcomes.
type SQLiteLedger struct {
	db *sql.DB
}

// NewSQLiteLedger opens (creating if needed) the ledger database at path.
// ":memory:" keeps the ledger in process.
func NewSQLiteLedger(path string) (*SQLiteLedger, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	// One connection: sqlite serializes writers and :memory: is per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec(ledgerSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init ledger schema: %w", err)
	}
	return &SQLiteLedger{db: db}, nil
}

func (l *SQLiteLedger) RecordRun(ctx context.Context, r models.RunReport) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
        INSERT OR REPLACE INTO runs (run_id, started_at, finished_at, output_path, used_fallback, metrics_path,
            row_count, modeled, skipped, failed, mean_mape, accuracy_target, target_met, error)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.StartedAt.UTC().Format(time.RFC3339Nano), r.FinishedAt.UTC().Format(time.RFC3339Nano),
		r.OutputPath, r.UsedFallback, r.MetricsPath,
		r.Rows, r.Modeled, r.Skipped, r.Failed, r.MeanMAPE, r.AccuracyTarget, r.TargetMet, r.Error,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM run_outcomes WHERE run_id = ?", r.RunID); err != nil {
		return fmt.Errorf("clear outcomes: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO run_outcomes (run_id, category, entities_id, kind, reason, row_count, mape)
        VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare outcome: %w", err)
	}
	defer stmt.Close()
	for _, o := range r.Outcomes {
		if _, err := stmt.ExecContext(ctx, r.RunID, o.Group.Category, o.Group.EntityID, string(o.Kind), o.Reason, o.Rows, o.MAPE); err != nil {
			return fmt.Errorf("insert outcome %s: %w", o.Group, err)
		}
	}
	return tx.Commit()
}

// RecentRuns returns the latest runs first, each with its outcomes.
func (l *SQLiteLedger) RecentRuns(ctx context.Context, limit int) ([]models.RunReport, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.QueryContext(ctx, `
        SELECT run_id, started_at, finished_at, output_path, used_fallback, metrics_path,
               row_count, modeled, skipped, failed, mean_mape, accuracy_target, target_met, error
        FROM runs
        ORDER BY started_at DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}

	var out []models.RunReport
	for rows.Next() {
		var (
			r                 models.RunReport
			started, finished string
		)
		if err := rows.Scan(&r.RunID, &started, &finished, &r.OutputPath, &r.UsedFallback, &r.MetricsPath,
			&r.Rows, &r.Modeled, &r.Skipped, &r.Failed, &r.MeanMAPE, &r.AccuracyTarget, &r.TargetMet, &r.Error); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan run: %w", err)
		}
		var err error
		if r.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			rows.Close()
			return nil, fmt.Errorf("run %s: started_at: %w", r.RunID, err)
		}
		if r.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
			rows.Close()
			return nil, fmt.Errorf("run %s: finished_at: %w", r.RunID, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("rows: %w", err)
	}
	rows.Close()

	for i := range out {
		oc, err := l.outcomes(ctx, out[i].RunID)
		if err != nil {
			return nil, err
		}
		out[i].Outcomes = oc
	}
	return out, nil
}

func (l *SQLiteLedger) outcomes(ctx context.Context, runID string) ([]models.GroupOutcome, error) {
	rows, err := l.db.QueryContext(ctx, `
        SELECT category, entities_id, kind, reason, row_count, mape
        FROM run_outcomes
        WHERE run_id = ?
        ORDER BY category, entities_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	var out []models.GroupOutcome
	for rows.Next() {
		var (
			o    models.GroupOutcome
			kind string
		)
		if err := rows.Scan(&o.Group.Category, &o.Group.EntityID, &kind, &o.Reason, &o.Rows, &o.MAPE); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		o.Kind = models.OutcomeKind(kind)
		out = append(out, o)
	}
	return out, rows.Err()
}

func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

var _ domrepo.RunLedger = (*SQLiteLedger)(nil)
