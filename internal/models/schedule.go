package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DueStatus is the service due state of an asset or policy.
type DueStatus string

const (
	DueOK      DueStatus = "ok"
	DueSoon    DueStatus = "due_soon"
	DueOverdue DueStatus = "overdue"
)

// Rank orders statuses by urgency; higher is more urgent.
func (s DueStatus) Rank() int {
	switch s {
	case DueOverdue:
		return 2
	case DueSoon:
		return 1
	default:
		return 0
	}
}

// MoreUrgent returns the more urgent of a and b.
func MoreUrgent(a, b DueStatus) DueStatus {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// ForecastKind says how much a forecast can be trusted.
type ForecastKind string

const (
	ForecastKnown     ForecastKind = "known"
	ForecastOverdue   ForecastKind = "overdue"
	ForecastUnbounded ForecastKind = "unbounded"
	ForecastUnknown   ForecastKind = "unknown"
)

// Forecast estimates when the hourmeter target will be reached. Days and Date
// are only set for ForecastKnown.
type Forecast struct {
	Kind ForecastKind `json:"kind"`
	Days *float64     `json:"days,omitempty"`
	Date *time.Time   `json:"date,omitempty"`
}

// FleetServiceOverview is a derived per-asset row. It is rebuilt on demand
// and never stored.
type FleetServiceOverview struct {
	AssetID               primitive.ObjectID `json:"asset_id"`
	Name                  string             `json:"name"`
	Type                  AssetType          `json:"type"`
	LastServicedHourmeter float64            `json:"last_serviced_hourmeter"`
	CurrentHourmeter      float64            `json:"current_hourmeter"`
	NextTargetHour        *float64           `json:"next_target_hour,omitempty"`
	HoursOverdue          float64            `json:"hours_overdue"`
	Status                DueStatus          `json:"status"`
	DrivingPolicy         string             `json:"driving_policy,omitempty"`
	Forecast              Forecast           `json:"forecast"`
	Stale                 bool               `json:"stale"`
	DaysSinceUpdate       int                `json:"days_since_update"`
	NeverRead             bool               `json:"never_read,omitempty"`
}
