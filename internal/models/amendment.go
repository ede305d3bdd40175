package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// AmendmentStatus is the review state of an amendment.
type AmendmentStatus string

const (
	AmendmentPending  AmendmentStatus = "pending"
	AmendmentApproved AmendmentStatus = "approved"
	AmendmentRejected AmendmentStatus = "rejected"
)

// Terminal reports whether no further transition is allowed.
func (s AmendmentStatus) Terminal() bool {
	return s == AmendmentApproved || s == AmendmentRejected
}

// Amendment is a proposed correction to an asset's hourmeter. The amended
// value only reaches the asset once the amendment is approved.
type Amendment struct {
	ID                primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	AssetID           primitive.ObjectID  `bson:"asset_id" json:"asset_id"`
	JobID             *primitive.ObjectID `bson:"job_id,omitempty" json:"job_id,omitempty"`
	ReadingID         *primitive.ObjectID `bson:"reading_id,omitempty" json:"reading_id,omitempty"`
	OriginalReading   float64             `bson:"original_reading" json:"original_reading"`
	AmendedReading    float64             `bson:"amended_reading" json:"amended_reading"`
	AmendedRecordedAt time.Time           `bson:"amended_recorded_at" json:"amended_recorded_at"`
	FlagReasons       FlagSet             `bson:"flag_reasons" json:"flag_reasons"`
	Status            AmendmentStatus     `bson:"status" json:"status"`
	RequestedBy       string              `bson:"requested_by" json:"requested_by"`
	RequestedAt       time.Time           `bson:"requested_at" json:"requested_at"`
	ReviewedBy        string              `bson:"reviewed_by,omitempty" json:"reviewed_by,omitempty"`
	ReviewedAt        *time.Time          `bson:"reviewed_at,omitempty" json:"reviewed_at,omitempty"`
	ReviewNotes       string              `bson:"review_notes,omitempty" json:"review_notes,omitempty"`
	Version           int64               `bson:"version" json:"version"`
}

// Resolution carries the fields written when an amendment leaves pending.
type Resolution struct {
	Status     AmendmentStatus
	ReviewedBy string
	ReviewedAt time.Time
	Notes      string
}
