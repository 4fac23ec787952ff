package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/marketbrief/marketbrief/internal/models"
)

// StorageError marks a failure of the relational store itself, as
// opposed to a per-unit pipeline failure. Stages abort their run when
// they see one before any per-entity work has begun.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Store wraps the reports and daily_bars tables. All writes are
// single-row upserts or conditional updates keyed by (ticker, date) or
// by row id; no multi-row transactions span pipeline stages.
type Store struct {
	db *gorm.DB
}

// Open connects to Postgres and migrates the schema.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, &StorageError{Op: "open", Err: err}
	}
	return New(db)
}

// New wraps an existing gorm handle. Tests use this with sqlite.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&models.DailyBar{}, &models.Report{}); err != nil {
		return nil, &StorageError{Op: "migrate", Err: err}
	}
	return &Store{db: db}, nil
}

// Ping verifies the store is reachable. Stages call this before
// starting a batch so an unreachable store aborts the run instead of
// producing a batch of spurious per-entity failures.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return &StorageError{Op: "ping", Err: err}
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return &StorageError{Op: "ping", Err: err}
	}
	return nil
}

// UpsertBars writes one logical row per (ticker, day). Re-ingestion
// replaces prior values rather than duplicating rows.
func (s *Store) UpsertBars(ctx context.Context, bars []models.DailyBar) error {
	if len(bars) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "ticker"}, {Name: "day"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"open", "high", "low", "close", "volume", "fetched_at",
		}),
	}).Create(&bars).Error
	if err != nil {
		return &StorageError{Op: "upsert bars", Err: err}
	}
	return nil
}

// RecentBars returns up to limit bars for a ticker, newest day first.
func (s *Store) RecentBars(ctx context.Context, ticker string, limit int) ([]models.DailyBar, error) {
	var bars []models.DailyBar
	err := s.db.WithContext(ctx).
		Where("ticker = ?", ticker).
		Order("day DESC").
		Limit(limit).
		Find(&bars).Error
	if err != nil {
		return nil, &StorageError{Op: "recent bars", Err: err}
	}
	return bars, nil
}

// CreateReportPending inserts a pending report row for (ticker, date)
// and returns the row that ends up in the table. When a row already
// exists — a concurrent or earlier run got there first — the insert is
// a no-op and the existing row is returned unchanged. The unique index
// on (ticker, report_date) is what makes duplicate triggers converge.
func (s *Store) CreateReportPending(ctx context.Context, ticker, date string) (*models.Report, error) {
	row := models.Report{
		Ticker:     ticker,
		ReportDate: date,
		Status:     models.StatusPending,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ticker"}, {Name: "report_date"}},
		DoNothing: true,
	}).Create(&row).Error
	if err != nil {
		return nil, &StorageError{Op: "create report", Err: err}
	}
	return s.GetReport(ctx, ticker, date)
}

// GetReport fetches the report row for (ticker, date), or nil.
func (s *Store) GetReport(ctx context.Context, ticker, date string) (*models.Report, error) {
	var row models.Report
	err := s.db.WithContext(ctx).
		Where("ticker = ? AND report_date = ?", ticker, date).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &StorageError{Op: "get report", Err: err}
	}
	return &row, nil
}

// CompleteReport moves a pending row to completed with its payload.
// The conditional WHERE keeps terminal rows terminal: a row already
// completed or failed is left untouched and false is returned.
func (s *Store) CompleteReport(ctx context.Context, id uint64, body string, metadata []byte) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Report{}).
		Where("id = ? AND status = ?", id, models.StatusPending).
		Updates(map[string]interface{}{
			"status":   models.StatusCompleted,
			"body":     body,
			"metadata": metadata,
		})
	if res.Error != nil {
		return false, &StorageError{Op: "complete report", Err: res.Error}
	}
	return res.RowsAffected == 1, nil
}

// FailReport moves a pending row to failed, recording the error.
func (s *Store) FailReport(ctx context.Context, id uint64, details string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Report{}).
		Where("id = ? AND status = ?", id, models.StatusPending).
		Updates(map[string]interface{}{
			"status":        models.StatusFailed,
			"error_details": details,
		})
	if res.Error != nil {
		return false, &StorageError{Op: "fail report", Err: res.Error}
	}
	return res.RowsAffected == 1, nil
}

// ListRenderable returns the renderer's outstanding work for a date:
// completed reports whose document path is still unset. The list is
// recomputed from the table on every invocation; it is the stage's
// only notion of pending work.
func (s *Store) ListRenderable(ctx context.Context, date string) ([]models.Report, error) {
	var rows []models.Report
	err := s.db.WithContext(ctx).
		Where("report_date = ? AND status = ? AND document_path IS NULL",
			date, models.StatusCompleted).
		Order("ticker ASC").
		Find(&rows).Error
	if err != nil {
		return nil, &StorageError{Op: "list renderable", Err: err}
	}
	return rows, nil
}

// ClaimRender records the rendered document location. The WHERE on a
// NULL document_path makes the claim at-most-once: a second concurrent
// renderer matches zero rows and discards its output.
func (s *Store) ClaimRender(ctx context.Context, id uint64, path string, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Report{}).
		Where("id = ? AND document_path IS NULL", id).
		Updates(map[string]interface{}{
			"document_path": path,
			"rendered_at":   at,
		})
	if res.Error != nil {
		return false, &StorageError{Op: "claim render", Err: res.Error}
	}
	return res.RowsAffected == 1, nil
}

// LatestCompleted returns the most recent completed report for a
// ticker, or nil when none exists.
func (s *Store) LatestCompleted(ctx context.Context, ticker string) (*models.Report, error) {
	var row models.Report
	err := s.db.WithContext(ctx).
		Where("ticker = ? AND status = ?", ticker, models.StatusCompleted).
		Order("report_date DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &StorageError{Op: "latest completed", Err: err}
	}
	return &row, nil
}
