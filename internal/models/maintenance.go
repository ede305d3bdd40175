package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// JobType is the kind of maintenance work a job covers.
type JobType string

const (
	JobMinorService JobType = "minor_service"
	JobFullService  JobType = "full_service"
	JobRepair       JobType = "repair"
	JobInspection   JobType = "inspection"
)

// JobStatus is the lifecycle state of a maintenance job.
type JobStatus string

const (
	JobScheduled  JobStatus = "scheduled"
	JobInProgress JobStatus = "in_progress"
	JobCompleted  JobStatus = "completed"
	JobCancelled  JobStatus = "cancelled"
)

// IsOpen reports whether a job in this status still blocks a new service job.
func (s JobStatus) IsOpen() bool {
	return s == JobScheduled || s == JobInProgress
}

// MaintenanceJob represents a maintenance job on an asset. Jobs are owned by
// the job management service; the engine reads them and may change JobType.
type MaintenanceJob struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	AssetID   primitive.ObjectID `bson:"asset_id" json:"asset_id"`
	JobType   JobType            `bson:"job_type" json:"job_type"`
	Status    JobStatus          `bson:"status" json:"status"`
	Open      bool               `bson:"open" json:"open"`
	Notes     string             `bson:"notes" json:"notes"`
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time          `bson:"updated_at" json:"updated_at"`
}

// UpgradeChoice is the operator's answer to the service upgrade prompt.
type UpgradeChoice string

const (
	UpgradeAccepted UpgradeChoice = "upgraded"
	UpgradeDeclined UpgradeChoice = "declined"
)

// Valid reports whether c is a recognised choice.
func (c UpgradeChoice) Valid() bool {
	return c == UpgradeAccepted || c == UpgradeDeclined
}

// ServiceUpgradeDecision is the audit record of a resolved upgrade prompt.
// One per job, never updated.
type ServiceUpgradeDecision struct {
	ID               primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	JobID            primitive.ObjectID `bson:"job_id" json:"job_id"`
	AssetID          primitive.ObjectID `bson:"asset_id" json:"asset_id"`
	Decision         UpgradeChoice      `bson:"decision" json:"decision"`
	CurrentHourmeter float64            `bson:"current_hourmeter" json:"current_hourmeter"`
	TargetHourmeter  float64            `bson:"target_hourmeter" json:"target_hourmeter"`
	OriginalJobType  JobType            `bson:"original_job_type" json:"original_job_type"`
	DecidedBy        string             `bson:"decided_by" json:"decided_by"`
	DecidedAt        time.Time          `bson:"decided_at" json:"decided_at"`
}
