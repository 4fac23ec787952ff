package models

import "time"

// These structs define the payloads carried on the event bus and the
// job queue. Events are at-least-once and carry no per-entity detail;
// every consumer re-derives its work list from the reports table.

// IngestCompletedEvent announces that a scheduled ingest batch finished.
// Partial failure does not suppress the event.
type IngestCompletedEvent struct {
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	RunAt     string `json:"runAt"`
}

// ReportsReadyEvent wakes the rendering stage. Date is optional: when
// empty the renderer targets today in the pipeline timezone.
type ReportsReadyEvent struct {
	Date string `json:"date,omitempty"`
}

// JobRequest is an on-demand synthesis request. It exists only inside
// the durable queue.
type JobRequest struct {
	RequestID   string `json:"requestId"`
	Ticker      string `json:"ticker"`
	RequestedBy string `json:"requestedBy"`
}

// TargetDate is the renderer's date input: either an explicit calendar
// date or "today" resolved at run time. The two cases are a plain
// branch, not a primary value with a fallback, so there is nothing here
// that can fail.
type TargetDate struct {
	date     string
	explicit bool
}

// ExplicitDate pins the renderer to a specific calendar date.
func ExplicitDate(date string) TargetDate {
	return TargetDate{date: date, explicit: true}
}

// DefaultToday resolves to the current date in the pipeline timezone at
// the moment Resolve is called.
func DefaultToday() TargetDate {
	return TargetDate{}
}

// Resolve returns the concrete date string.
func (t TargetDate) Resolve(loc *time.Location) string {
	if t.explicit {
		return t.date
	}
	return time.Now().In(loc).Format(DateLayout)
}

// TargetFromEvent maps an event payload onto a TargetDate: present
// field means explicit, absent means today.
func TargetFromEvent(e ReportsReadyEvent) TargetDate {
	if e.Date != "" {
		return ExplicitDate(e.Date)
	}
	return DefaultToday()
}
