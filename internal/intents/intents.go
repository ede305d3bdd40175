// Package intents carries the side effects the engine asks other services to
// perform. The engine never creates jobs or sends notifications itself.
package intents

import (
	"context"
	"fmt"
	"time"

	"github.com/ph0en1x29/FT-sub001/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Kind identifies what the receiving service should do.
type Kind string

const (
	KindCreateJob Kind = "create_job"
	KindNotify    Kind = "notify"
)

// Event says why a notification was raised.
type Event string

const (
	EventDueStatusChanged Event = "due_status_changed"
	EventBecameStale      Event = "became_stale"
)

// Intent is one abstract command for the job or notification service.
type Intent struct {
	ID        string             `json:"id"`
	Kind      Kind               `json:"kind"`
	AssetID   primitive.ObjectID `json:"asset_id"`
	AssetName string             `json:"asset_name"`
	// DedupKey is stable for the same asset, kind and day so consumers can
	// drop redeliveries.
	DedupKey  string    `json:"dedup_key"`
	CreatedAt time.Time `json:"created_at"`

	// create_job
	JobType models.JobType `json:"job_type,omitempty"`
	Policy  string         `json:"policy,omitempty"`

	// notify
	Event           Event            `json:"event,omitempty"`
	PreviousStatus  models.DueStatus `json:"previous_status,omitempty"`
	Status          models.DueStatus `json:"status,omitempty"`
	Stale           bool             `json:"stale,omitempty"`
	DaysSinceUpdate int              `json:"days_since_update,omitempty"`
}

// Sink delivers intents. Implementations must be safe for concurrent use.
type Sink interface {
	Publish(ctx context.Context, intent Intent) error
}

// CreateJob builds a service job request for an asset that became overdue.
func CreateJob(asset models.Asset, policy string, at time.Time) Intent {
	return Intent{
		ID:        primitive.NewObjectID().Hex(),
		Kind:      KindCreateJob,
		AssetID:   asset.ID,
		AssetName: asset.Name,
		DedupKey:  dedupKey(KindCreateJob, asset.ID, at),
		CreatedAt: at,
		JobType:   models.JobMinorService,
		Policy:    policy,
	}
}

// Notify builds a notification about a change in an asset's state.
func Notify(asset models.Asset, event Event, previous, current models.DueStatus, stale bool, daysSinceUpdate int, at time.Time) Intent {
	return Intent{
		ID:              primitive.NewObjectID().Hex(),
		Kind:            KindNotify,
		AssetID:         asset.ID,
		AssetName:       asset.Name,
		DedupKey:        dedupKey(KindNotify, asset.ID, at) + ":" + string(event),
		CreatedAt:       at,
		Event:           event,
		PreviousStatus:  previous,
		Status:          current,
		Stale:           stale,
		DaysSinceUpdate: daysSinceUpdate,
	}
}

func dedupKey(kind Kind, assetID primitive.ObjectID, at time.Time) string {
	return fmt.Sprintf("%s:%s:%s", kind, assetID.Hex(), at.UTC().Format("2006-01-02"))
}
