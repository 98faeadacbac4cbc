package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"DeskCast/internal/domain/models"
	domrepo "DeskCast/internal/domain/repository"
	applogger "DeskCast/pkg/logger"
)

const glpiTicketsQuery = `
    SELECT
        t.id,
        t.date,
        t.solvedate,
        t.closedate,
        t.status,
        t.priority,
        t.itilcategories_id,
        COALESCE(c.completename, ''),
        t.entities_id,
        CAST(t.time_to_resolve AS CHAR),
        TIMESTAMPDIFF(HOUR, t.date, t.solvedate)
    FROM glpi_tickets t
    LEFT JOIN glpi_itilcategories c ON c.id = t.itilcategories_id
    WHERE t.date >= ? AND t.date < ?
    ORDER BY t.date`

// GLPITicketSource extracts tickets from a GLPI MySQL database.
type GLPITicketSource struct {
	db      *sql.DB
	timeout time.Duration
	now     func() time.Time
	l       *applogger.Logger
}

// NewGLPITicketSource opens a pool for dsn. parseTime is forced on so DATETIME
// columns scan into time.Time.
func NewGLPITicketSource(dsn string, timeout time.Duration, l *applogger.Logger) (*GLPITicketSource, error) {
	if dsn == "" {
		return nil, fmt.Errorf("glpi dsn is required")
	}
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse glpi dsn: %w", err)
	}
	cfg.ParseTime = true
	if cfg.Loc == nil {
		cfg.Loc = time.UTC
	}
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("glpi connector: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	if l == nil {
		l = applogger.Nop()
	}
	return newGLPITicketSource(db, timeout, l), nil
}

func newGLPITicketSource(db *sql.DB, timeout time.Duration, l *applogger.Logger) *GLPITicketSource {
	return &GLPITicketSource{db: db, timeout: timeout, now: time.Now, l: l}
}

// ExtractTickets returns tickets opened between since and now.
func (s *GLPITicketSource) ExtractTickets(ctx context.Context, since time.Time) ([]models.Ticket, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	start := time.Now()
	until := s.now()

	rows, err := s.db.QueryContext(ctx, glpiTicketsQuery, since.Format("2006-01-02"), until.Format("2006-01-02"))
	if err != nil {
		s.l.Error("glpi extract query error", applogger.Error(err))
		return nil, fmt.Errorf("extract tickets: %w", err)
	}
	defer rows.Close()

	var out []models.Ticket
	for rows.Next() {
		var (
			t                    models.Ticket
			opened               sql.NullTime
			solved, closed       sql.NullTime
			categoryID, entityID sql.NullInt64
			ttr                  sql.NullString
			hours                sql.NullFloat64
		)
		if err := rows.Scan(&t.ID, &opened, &solved, &closed, &t.Status, &t.Priority, &categoryID, &t.CategoryPath, &entityID, &ttr, &hours); err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		if opened.Valid {
			t.OpenedAt = opened.Time
		}
		t.SolvedAt = timePtr(solved)
		t.ClosedAt = timePtr(closed)
		t.CategoryID = categoryID.Int64
		t.EntityID = entityID.Int64
		t.TimeToResolve = numericPtr(ttr)
		t.HoursToSolve = floatPtr(hours)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}

	s.l.Info("glpi tickets extracted",
		applogger.Date("since", since),
		applogger.Date("until", until),
		applogger.Int("tickets", len(out)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return out, nil
}

func (s *GLPITicketSource) Close() error {
	return s.db.Close()
}

func timePtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}

// numericPtr keeps only values that parse as numbers. GLPI stores a deadline
// timestamp in time_to_resolve on some installs; those are treated as missing.
func numericPtr(n sql.NullString) *float64 {
	if !n.Valid {
		return nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(n.String), 64)
	if err != nil {
		return nil
	}
	return &v
}

var _ domrepo.TicketSource = (*GLPITicketSource)(nil)
