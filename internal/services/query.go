package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/marketbrief/marketbrief/internal/logger"
	"github.com/marketbrief/marketbrief/internal/store"
)

// NotReadySentinel is the fixed response returned for any lookup that
// cannot produce a completed report. Internal errors, missing rows, and
// still-pending rows all collapse to this one payload.
var NotReadySentinel = ReportView{
	Status:  "not_ready",
	Message: "Today's brief is not ready yet. Please check back later.",
}

// ReportView is the read model served to chat consumers.
type ReportView struct {
	Status       string          `json:"status"`
	Message      string          `json:"message,omitempty"`
	Ticker       string          `json:"ticker,omitempty"`
	Date         string          `json:"date,omitempty"`
	Body         string          `json:"body,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	DocumentPath string          `json:"documentPath,omitempty"`
}

// Query is the read-only lookup layer. It never triggers synthesis:
// read traffic can not cause pipeline work, only observe it.
type Query struct {
	store *store.Store
	cache Cache
	ttl   time.Duration
	log   *logger.Logger
}

// NewQuery wires the lookup layer. cache may be nil; lookups then go
// straight to the store.
func NewQuery(st *store.Store, cache Cache, ttl time.Duration, log *logger.Logger) *Query {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Query{
		store: st,
		cache: cache,
		ttl:   ttl,
		log:   log.With("component", "query"),
	}
}

// Lookup returns the most recent completed report for a ticker, or the
// sentinel. It never returns an error to its caller.
func (q *Query) Lookup(ctx context.Context, ticker string) ReportView {
	cacheKey := "report:" + ticker

	if q.cache != nil {
		if raw, ok := q.cache.Get(ctx, cacheKey); ok {
			var view ReportView
			if err := json.Unmarshal(raw, &view); err == nil {
				return view
			}
			q.log.Warn("Dropping malformed cache entry.", "ticker", ticker)
		}
	}

	row, err := q.store.LatestCompleted(ctx, ticker)
	if err != nil {
		q.log.Error("Report lookup failed, serving sentinel.", "ticker", ticker, "error", err)
		return NotReadySentinel
	}
	if row == nil {
		return NotReadySentinel
	}

	view := ReportView{
		Status:   "ready",
		Ticker:   row.Ticker,
		Date:     row.ReportDate,
		Body:     row.Body,
		Metadata: json.RawMessage(row.Metadata),
	}
	if row.DocumentPath != nil {
		view.DocumentPath = *row.DocumentPath
	}

	if q.cache != nil {
		if raw, err := json.Marshal(view); err == nil {
			q.cache.Set(ctx, cacheKey, raw, q.ttl)
		}
	}
	return view
}
