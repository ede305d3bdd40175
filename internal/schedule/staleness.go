package schedule

import "time"

// Staleness is a data-quality signal reported next to, never merged into,
// the due status.
type Staleness struct {
	Stale           bool `json:"stale"`
	DaysSinceUpdate int  `json:"days_since_update"`
	NeverRead       bool `json:"never_read"`
}

// DetectStaleness reports whether the last reading is older than threshold.
// An asset that was never read is stale.
func DetectStaleness(lastReadingAt *time.Time, now time.Time, threshold time.Duration) Staleness {
	if lastReadingAt == nil {
		return Staleness{Stale: true, NeverRead: true}
	}
	age := now.Sub(*lastReadingAt)
	if age < 0 {
		age = 0
	}
	return Staleness{
		Stale:           age > threshold,
		DaysSinceUpdate: int(age / day),
	}
}
