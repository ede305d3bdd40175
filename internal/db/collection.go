package db

import (
	"context"
	"time"

	"github.com/ph0en1x29/FT-sub001/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// AssetCollection defines the interface for asset data operations.
type AssetCollection interface {
	InsertAsset(ctx context.Context, asset models.Asset) (models.Asset, error)
	FindAssetByID(ctx context.Context, id primitive.ObjectID) (*models.Asset, error)
	FindAssets(ctx context.Context) ([]models.Asset, error)
	// SetHourmeter writes the asset's current reading. With onlyIfNewer set the
	// write only lands when at is after the stored last_reading_at, otherwise
	// models.ErrConcurrentUpdate is returned.
	SetHourmeter(ctx context.Context, id primitive.ObjectID, value float64, at time.Time, onlyIfNewer bool) error
	SaveCheckState(ctx context.Context, id primitive.ObjectID, state models.CheckState) error
}

// ReadingCollection defines the interface for hourmeter reading operations.
type ReadingCollection interface {
	InsertReading(ctx context.Context, reading models.Reading) (models.Reading, error)
	// FindReadings returns the asset's readings recorded at or after since,
	// oldest first, superseded ones included.
	FindReadings(ctx context.Context, assetID primitive.ObjectID, since time.Time) ([]models.Reading, error)
	FindReadingByID(ctx context.Context, id primitive.ObjectID) (*models.Reading, error)
}

// PolicyCollection defines the interface for service interval policies.
type PolicyCollection interface {
	InsertPolicy(ctx context.Context, policy models.ServiceIntervalPolicy) (models.ServiceIntervalPolicy, error)
	FindPolicies(ctx context.Context) ([]models.ServiceIntervalPolicy, error)
	FindPoliciesByType(ctx context.Context, assetType models.AssetType) ([]models.ServiceIntervalPolicy, error)
}

// AmendmentCollection defines the interface for amendment records.
type AmendmentCollection interface {
	InsertAmendment(ctx context.Context, amendment models.Amendment) (models.Amendment, error)
	FindAmendmentByID(ctx context.Context, id primitive.ObjectID) (*models.Amendment, error)
	FindAmendments(ctx context.Context, status models.AmendmentStatus) ([]models.Amendment, error)
	// ResolveAmendment moves a pending amendment to a terminal status. The
	// write is a compare-and-set on status and version; when it does not match
	// models.ErrAmendmentResolved is returned and nothing is changed.
	ResolveAmendment(ctx context.Context, id primitive.ObjectID, version int64, res models.Resolution) (*models.Amendment, error)
}

// JobCollection defines the interface for maintenance job lookups.
type JobCollection interface {
	// InsertJob fails with models.ErrOpenJobExists when the job is open and
	// the asset already has an open job.
	InsertJob(ctx context.Context, job models.MaintenanceJob) (models.MaintenanceJob, error)
	FindJobByID(ctx context.Context, id primitive.ObjectID) (*models.MaintenanceJob, error)
	HasOpenJob(ctx context.Context, assetID primitive.ObjectID) (bool, error)
	UpdateJobType(ctx context.Context, id primitive.ObjectID, jobType models.JobType) error
}

// DecisionCollection defines the interface for the upgrade decision log.
type DecisionCollection interface {
	// InsertDecision appends a decision. A second decision for the same job
	// fails with models.ErrDecisionExists.
	InsertDecision(ctx context.Context, decision models.ServiceUpgradeDecision) (models.ServiceUpgradeDecision, error)
	FindDecisionByJob(ctx context.Context, jobID primitive.ObjectID) (*models.ServiceUpgradeDecision, error)
}

// Transactor runs fn so that all writes made through ctx commit together.
type Transactor interface {
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Store bundles every collection the engine uses.
type Store interface {
	Transactor
	Assets() AssetCollection
	Readings() ReadingCollection
	Policies() PolicyCollection
	Amendments() AmendmentCollection
	Jobs() JobCollection
	Decisions() DecisionCollection
}

// Authoritative drops readings that a later amendment superseded.
func Authoritative(readings []models.Reading) []models.Reading {
	superseded := make(map[primitive.ObjectID]bool)
	for _, r := range readings {
		if r.SupersedesID != nil {
			superseded[*r.SupersedesID] = true
		}
	}
	out := make([]models.Reading, 0, len(readings))
	for _, r := range readings {
		if !superseded[r.ID] {
			out = append(out, r)
		}
	}
	return out
}
