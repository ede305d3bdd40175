package models

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// AssetType is the forklift power type. Interval policies are keyed by it.
type AssetType string

const (
	AssetDiesel   AssetType = "Diesel"
	AssetElectric AssetType = "Electric"
	AssetLPG      AssetType = "LPG"
	AssetPetrol   AssetType = "Petrol"
)

// Valid reports whether t is one of the known asset types.
func (t AssetType) Valid() bool {
	switch t {
	case AssetDiesel, AssetElectric, AssetLPG, AssetPetrol:
		return true
	default:
		return false
	}
}

// Asset represents a forklift tracked by the maintenance engine.
type Asset struct {
	ID                    primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name                  string             `bson:"name" json:"name"`
	Type                  AssetType          `bson:"type" json:"type"`
	CurrentHourmeter      float64            `bson:"current_hourmeter" json:"current_hourmeter"`
	LastServicedHourmeter float64            `bson:"last_serviced_hourmeter" json:"last_serviced_hourmeter"`
	LastServicedAt        *time.Time         `bson:"last_serviced_at,omitempty" json:"last_serviced_at,omitempty"`
	LastReadingAt         *time.Time         `bson:"last_reading_at,omitempty" json:"last_reading_at,omitempty"`

	// Written by the daily service check so the next run can detect transitions.
	LastDueStatus DueStatus  `bson:"last_due_status,omitempty" json:"last_due_status,omitempty"`
	LastStale     bool       `bson:"last_stale" json:"last_stale"`
	LastCheckedAt *time.Time `bson:"last_checked_at,omitempty" json:"last_checked_at,omitempty"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// Validate checks a new asset before it is registered.
func (a Asset) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return &ValidationError{Field: "name", Message: "is required"}
	}
	if !a.Type.Valid() {
		return &ValidationError{Field: "type", Message: "unknown asset type " + string(a.Type)}
	}
	if a.CurrentHourmeter < 0 || a.LastServicedHourmeter < 0 {
		return &ValidationError{Field: "current_hourmeter", Message: "hourmeters must not be negative"}
	}
	if a.LastServicedHourmeter > a.CurrentHourmeter {
		return &ValidationError{Field: "last_serviced_hourmeter", Message: "must not exceed current_hourmeter"}
	}
	return nil
}

// CheckState is the slice of an asset the service check persists between runs.
type CheckState struct {
	DueStatus DueStatus
	Stale     bool
	CheckedAt time.Time
}
