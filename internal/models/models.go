package models

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// DateLayout is the canonical calendar-date form used for artifact keys
// and object-store paths.
const DateLayout = "2006-01-02"

// Report status values. Completed and Failed are terminal; a report
// never moves back to Pending.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Instrument is one registry entry: a tracked ticker.
type Instrument struct {
	Symbol string
	Name   string
}

// DailyBar is one normalized trading day for one ticker. Re-ingestion
// of the same (ticker, day) replaces the row.
type DailyBar struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	Ticker    string    `gorm:"size:12;not null;uniqueIndex:idx_bars_ticker_day,priority:1"`
	Day       string    `gorm:"size:10;not null;uniqueIndex:idx_bars_ticker_day,priority:2"`
	Open      float64   `gorm:"not null"`
	High      float64   `gorm:"not null"`
	Low       float64   `gorm:"not null"`
	Close     float64   `gorm:"not null"`
	Volume    int64     `gorm:"not null"`
	FetchedAt time.Time `gorm:"not null"`
}

func (DailyBar) TableName() string { return "daily_bars" }

// Report is the computed artifact for one (ticker, report date) pair.
// The unique index on that pair is the idempotency fingerprint for the
// whole pipeline: synthesis creates the row once, rendering fills in
// DocumentPath and RenderedAt exactly once.
type Report struct {
	ID           uint64         `gorm:"primaryKey;autoIncrement"`
	Ticker       string         `gorm:"size:12;not null;uniqueIndex:idx_reports_ticker_date,priority:1"`
	ReportDate   string         `gorm:"size:10;not null;uniqueIndex:idx_reports_ticker_date,priority:2"`
	Status       string         `gorm:"size:12;not null;default:pending"`
	Body         string         `gorm:"type:text"`
	Metadata     datatypes.JSON `gorm:"type:jsonb"`
	ErrorDetails string         `gorm:"type:text"`
	DocumentPath *string        `gorm:"size:512"`
	RenderedAt   *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (Report) TableName() string { return "reports" }

// Terminal reports are never re-synthesized.
func (r *Report) Terminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusFailed
}

// RawObjectKey builds the immutable object-store key for a raw fetch.
// The fetch timestamp qualifier guarantees repeat runs on the same day
// never overwrite each other.
func RawObjectKey(ticker string, day string, fetchedAt time.Time) string {
	return fmt.Sprintf("raw/%s/%s/%d.json", ticker, day, fetchedAt.UTC().UnixNano())
}

// DocumentObjectKey builds the object-store key for a rendered report.
func DocumentObjectKey(ticker, day string) string {
	return fmt.Sprintf("reports/%s/%s.pdf", day, ticker)
}
