package repository

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"DeskCast/internal/domain/models"
	domrepo "DeskCast/internal/domain/repository"
	"DeskCast/pkg/cache"
	applogger "DeskCast/pkg/logger"
	"DeskCast/pkg/util"
)

// ErrOutputLocked means another writer holds the primary artifact.
var ErrOutputLocked = errors.New("forecast output is locked")

var outputColumns = []string{
	"date", "category", "entities_id", "horizon",
	"volume_real", "volume_pred_p50", "volume_pred_p90", "avg_ttr_hours",
}

// CSVForecastStore owns the unified forecast artifact. Writes go to the primary path
// under a lock; when the lock is held or the file cannot be replaced they go to the
// fallback path instead.
type CSVForecastStore struct {
	path     string
	fallback string
	locker   domrepo.Locker
	lockTTL  time.Duration
	l        *applogger.Logger
}

// CSVForecastOption configures CSVForecastStore.
type CSVForecastOption func(*CSVForecastStore)

// WithLocker guards the primary path with a distributed lock.
func WithLocker(locker domrepo.Locker, ttl time.Duration) CSVForecastOption {
	return func(s *CSVForecastStore) {
		s.locker = locker
		if ttl > 0 {
			s.lockTTL = ttl
		}
	}
}

// WithStoreLogger sets the logger.
func WithStoreLogger(l *applogger.Logger) CSVForecastOption {
	return func(s *CSVForecastStore) {
		if l != nil {
			s.l = l
		}
	}
}

func NewCSVForecastStore(path, fallback string, opts ...CSVForecastOption) *CSVForecastStore {
	s := &CSVForecastStore{
		path:     path,
		fallback: fallback,
		lockTTL:  10 * time.Minute,
		l:        applogger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *CSVForecastStore) lockKey() string {
	return cache.GenerateKey("lock", "forecast", s.path)
}

func (s *CSVForecastStore) WriteForecast(ctx context.Context, rows []models.OutputRow) (domrepo.WriteResult, error) {
	err := s.writePrimary(ctx, rows)
	if err == nil {
		s.l.Info("forecast written", applogger.String("path", s.path), applogger.Int("rows", len(rows)))
		return domrepo.WriteResult{Path: s.path}, nil
	}
	if !errors.Is(err, ErrOutputLocked) && !errors.Is(err, fs.ErrPermission) {
		return domrepo.WriteResult{}, err
	}

	s.l.Warn("forecast primary path unavailable, writing fallback",
		applogger.String("path", s.path),
		applogger.String("fallback", s.fallback),
		applogger.Error(err),
	)
	if ferr := writeOutputCSV(ctx, s.fallback, rows); ferr != nil {
		return domrepo.WriteResult{}, fmt.Errorf("write fallback %s: %w", s.fallback, ferr)
	}
	return domrepo.WriteResult{Path: s.fallback, Fallback: true}, nil
}

func (s *CSVForecastStore) writePrimary(ctx context.Context, rows []models.OutputRow) error {
	if s.locker != nil {
		key := s.lockKey()
		ok, err := s.locker.TryLock(ctx, key, s.lockTTL)
		if err != nil {
			return fmt.Errorf("%w: lock backend: %v", ErrOutputLocked, err)
		}
		if !ok {
			return ErrOutputLocked
		}
		defer func() {
			if err := s.locker.Unlock(context.WithoutCancel(ctx), key); err != nil {
				s.l.Error("forecast unlock", applogger.String("key", key), applogger.Error(err))
			}
		}()
	}
	return writeOutputCSV(ctx, s.path, rows)
}

func writeOutputCSV(ctx context.Context, path string, rows []models.OutputRow) error {
	return writeCSVAtomic(path, outputColumns, func(w *csv.Writer) error {
		for _, r := range rows {
			if err := ctx.Err(); err != nil {
				return err
			}
			rec := []string{
				r.Date.Format(util.DayLayout),
				r.Group.Category,
				strconv.FormatInt(r.Group.EntityID, 10),
				strconv.Itoa(r.Horizon),
				formatFloatPtr(r.VolumeReal),
				strconv.Itoa(r.P50),
				strconv.Itoa(r.P90),
				formatFloatPtr(r.AvgTTRHours),
			}
			if err := w.Write(rec); err != nil {
				return fmt.Errorf("write row: %w", err)
			}
		}
		return nil
	})
}

// ReadForecast loads whichever of the primary and fallback artifacts is newer.
func (s *CSVForecastStore) ReadForecast(ctx context.Context) ([]models.OutputRow, string, error) {
	path := s.latestPath()
	idx, records, err := readCSV(path)
	if err != nil {
		return nil, path, fmt.Errorf("read forecast %s: %w", path, err)
	}
	if err := requireColumns(idx, outputColumns...); err != nil {
		return nil, path, fmt.Errorf("read forecast %s: %w", path, err)
	}

	out := make([]models.OutputRow, 0, len(records))
	for n, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, path, err
		}
		r, err := parseOutputRow(rec, idx)
		if err != nil {
			return nil, path, fmt.Errorf("read forecast %s line %d: %w", path, n+2, err)
		}
		out = append(out, r)
	}
	return out, path, nil
}

// ModTime reports when the artifact readers would load was last replaced.
func (s *CSVForecastStore) ModTime() (time.Time, string, error) {
	path := s.latestPath()
	st, err := os.Stat(path)
	if err != nil {
		return time.Time{}, path, err
	}
	return st.ModTime(), path, nil
}

func (s *CSVForecastStore) latestPath() string {
	p, perr := os.Stat(s.path)
	f, ferr := os.Stat(s.fallback)
	switch {
	case ferr != nil:
		return s.path
	case perr != nil:
		return s.fallback
	case f.ModTime().After(p.ModTime()):
		return s.fallback
	default:
		return s.path
	}
}

func parseOutputRow(rec []string, idx map[string]int) (models.OutputRow, error) {
	d, err := parseDay(field(rec, idx, "date"))
	if err != nil {
		return models.OutputRow{}, err
	}
	entity, err := strconv.ParseInt(field(rec, idx, "entities_id"), 10, 64)
	if err != nil {
		return models.OutputRow{}, fmt.Errorf("entities_id: %w", err)
	}
	horizon, err := strconv.Atoi(field(rec, idx, "horizon"))
	if err != nil {
		return models.OutputRow{}, fmt.Errorf("horizon: %w", err)
	}
	actual, err := parseFloatPtr(field(rec, idx, "volume_real"))
	if err != nil {
		return models.OutputRow{}, fmt.Errorf("volume_real: %w", err)
	}
	p50, err := strconv.Atoi(field(rec, idx, "volume_pred_p50"))
	if err != nil {
		return models.OutputRow{}, fmt.Errorf("volume_pred_p50: %w", err)
	}
	p90, err := strconv.Atoi(field(rec, idx, "volume_pred_p90"))
	if err != nil {
		return models.OutputRow{}, fmt.Errorf("volume_pred_p90: %w", err)
	}
	ttr, err := parseFloatPtr(field(rec, idx, "avg_ttr_hours"))
	if err != nil {
		return models.OutputRow{}, fmt.Errorf("avg_ttr_hours: %w", err)
	}
	return models.OutputRow{
		Date:        d,
		Group:       models.GroupKey{Category: field(rec, idx, "category"), EntityID: entity},
		Horizon:     horizon,
		VolumeReal:  actual,
		P50:         p50,
		P90:         p90,
		AvgTTRHours: ttr,
	}, nil
}

var (
	_ domrepo.ForecastWriter = (*CSVForecastStore)(nil)
	_ domrepo.ForecastReader = (*CSVForecastStore)(nil)
)
