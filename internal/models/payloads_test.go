package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExplicitDateResolvesToItself(t *testing.T) {
	target := ExplicitDate("2026-08-31")
	assert.Equal(t, "2026-08-31", target.Resolve(time.UTC))
}

func TestDefaultTodayResolvesInLocation(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	target := DefaultToday()
	assert.Equal(t, time.Now().In(loc).Format(DateLayout), target.Resolve(loc))
}

func TestTargetFromEventMapsPresenceToExplicitness(t *testing.T) {
	explicit := TargetFromEvent(ReportsReadyEvent{Date: "2026-08-28"})
	assert.Equal(t, "2026-08-28", explicit.Resolve(time.UTC))

	today := TargetFromEvent(ReportsReadyEvent{})
	assert.Equal(t, time.Now().UTC().Format(DateLayout), today.Resolve(time.UTC))
}

func TestTerminalStatuses(t *testing.T) {
	assert.False(t, (&Report{Status: StatusPending}).Terminal())
	assert.True(t, (&Report{Status: StatusCompleted}).Terminal())
	assert.True(t, (&Report{Status: StatusFailed}).Terminal())
}

func TestObjectKeys(t *testing.T) {
	at := time.Date(2026, 8, 31, 21, 0, 0, 0, time.UTC)
	raw := RawObjectKey("AAPL", "2026-08-31", at)
	assert.Contains(t, raw, "raw/AAPL/2026-08-31/")

	assert.Equal(t, "reports/2026-08-31/AAPL.pdf", DocumentObjectKey("AAPL", "2026-08-31"))
}
