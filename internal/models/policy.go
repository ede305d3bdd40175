package models

import (
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ServiceIntervalPolicy describes how often an asset type needs a given kind
// of service. Either axis may be zero (unused) but not both.
type ServiceIntervalPolicy struct {
	ID                   primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	AssetType            AssetType          `bson:"asset_type" json:"asset_type"`
	Name                 string             `bson:"name" json:"name"`
	HourmeterInterval    float64            `bson:"hourmeter_interval" json:"hourmeter_interval"`
	CalendarIntervalDays int                `bson:"calendar_interval_days" json:"calendar_interval_days"`
	Priority             int                `bson:"priority" json:"priority"` // lower is more important
}

// Validate checks the policy is usable by the scheduler.
func (p ServiceIntervalPolicy) Validate() error {
	if !p.AssetType.Valid() {
		return &ValidationError{Field: "asset_type", Message: "unknown asset type " + string(p.AssetType)}
	}
	if p.HourmeterInterval < 0 {
		return &ValidationError{Field: "hourmeter_interval", Message: "must not be negative"}
	}
	if p.CalendarIntervalDays < 0 {
		return &ValidationError{Field: "calendar_interval_days", Message: "must not be negative"}
	}
	if p.HourmeterInterval == 0 && p.CalendarIntervalDays == 0 {
		return &ValidationError{Field: "hourmeter_interval", Message: "policy needs an hour or calendar interval"}
	}
	return nil
}
