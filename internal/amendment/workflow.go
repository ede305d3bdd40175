// Package amendment implements the review workflow for disputed hourmeter
// readings. An amendment starts pending and ends approved or rejected.
package amendment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ph0en1x29/FT-sub001/internal/db"
	"github.com/ph0en1x29/FT-sub001/internal/metrics"
	"github.com/ph0en1x29/FT-sub001/internal/models"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// RequestInput is a manual correction raised by a reviewer or technician.
type RequestInput struct {
	AssetID           primitive.ObjectID  `json:"asset_id"`
	ReadingID         *primitive.ObjectID `json:"reading_id,omitempty"`
	JobID             *primitive.ObjectID `json:"job_id,omitempty"`
	AmendedReading    float64             `json:"amended_reading"`
	AmendedRecordedAt time.Time           `json:"amended_recorded_at"`
	RequestedBy       string              `json:"-"`
}

// Workflow resolves amendments. Resolution is a compare-and-set at the store,
// so concurrent reviewers on different instances cannot both succeed.
type Workflow struct {
	store   db.Store
	log     logrus.FieldLogger
	metrics *metrics.Recorder
	now     func() time.Time
}

// NewWorkflow creates an amendment workflow.
func NewWorkflow(store db.Store, logger logrus.FieldLogger) *Workflow {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Workflow{
		store: store,
		log:   logger.WithField("component", "amendment"),
		now:   time.Now,
	}
}

// WithMetrics counts resolutions on m.
func (w *Workflow) WithMetrics(m *metrics.Recorder) *Workflow {
	w.metrics = m
	return w
}

// Get returns one amendment.
func (w *Workflow) Get(ctx context.Context, id primitive.ObjectID) (*models.Amendment, error) {
	return w.store.Amendments().FindAmendmentByID(ctx, id)
}

// List returns amendments in status, or all of them when status is empty.
func (w *Workflow) List(ctx context.Context, status models.AmendmentStatus) ([]models.Amendment, error) {
	if status != "" && status != models.AmendmentPending && !status.Terminal() {
		return nil, &models.ValidationError{Field: "status", Message: "unknown status " + string(status)}
	}
	return w.store.Amendments().FindAmendments(ctx, status)
}

// ListPending returns the review queue, oldest first.
func (w *Workflow) ListPending(ctx context.Context) ([]models.Amendment, error) {
	return w.List(ctx, models.AmendmentPending)
}

// Request opens a manual amendment. When ReadingID names an accepted reading
// that reading is superseded on approval.
func (w *Workflow) Request(ctx context.Context, in RequestInput) (*models.Amendment, error) {
	if in.AmendedRecordedAt.IsZero() {
		return nil, &models.ValidationError{Field: "amended_recorded_at", Message: "is required"}
	}
	if in.AmendedReading < 0 {
		return nil, &models.ValidationError{Field: "amended_reading", Message: "must not be negative"}
	}
	if strings.TrimSpace(in.RequestedBy) == "" {
		return nil, &models.ValidationError{Field: "requested_by", Message: "is required"}
	}

	asset, err := w.store.Assets().FindAssetByID(ctx, in.AssetID)
	if err != nil {
		return nil, err
	}
	original := asset.CurrentHourmeter
	if in.ReadingID != nil {
		r, err := w.store.Readings().FindReadingByID(ctx, *in.ReadingID)
		if err != nil {
			return nil, err
		}
		if r.AssetID != asset.ID {
			return nil, &models.ValidationError{Field: "reading_id", Message: "reading belongs to another asset"}
		}
		original = r.Value
	}

	a, err := w.store.Amendments().InsertAmendment(ctx, models.Amendment{
		AssetID:           asset.ID,
		JobID:             in.JobID,
		ReadingID:         in.ReadingID,
		OriginalReading:   original,
		AmendedReading:    in.AmendedReading,
		AmendedRecordedAt: in.AmendedRecordedAt,
		FlagReasons:       models.NewFlagSet(models.FlagManual),
		Status:            models.AmendmentPending,
		RequestedBy:       in.RequestedBy,
		RequestedAt:       w.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("store amendment: %w", err)
	}
	w.log.WithFields(logrus.Fields{
		"amendment_id": a.ID.Hex(),
		"asset_id":     a.AssetID.Hex(),
		"requested_by": a.RequestedBy,
	}).Info("Manual amendment requested")
	return &a, nil
}

// Approve resolves a pending amendment and applies the amended value to the
// asset. The asset update, the superseding reading and the status change
// commit together.
func (w *Workflow) Approve(ctx context.Context, id primitive.ObjectID, reviewer, notes string) (*models.Amendment, error) {
	if strings.TrimSpace(reviewer) == "" {
		return nil, &models.ValidationError{Field: "reviewed_by", Message: "is required"}
	}

	var resolved *models.Amendment
	err := w.store.RunInTransaction(ctx, func(ctx context.Context) error {
		a, err := w.resolve(ctx, id, models.Resolution{
			Status:     models.AmendmentApproved,
			ReviewedBy: reviewer,
			ReviewedAt: w.now(),
			Notes:      strings.TrimSpace(notes),
		})
		if err != nil {
			return err
		}

		if err := w.store.Assets().SetHourmeter(ctx, a.AssetID, a.AmendedReading, a.AmendedRecordedAt, false); err != nil {
			return fmt.Errorf("apply amendment to asset: %w", err)
		}
		amendmentID := a.ID
		if _, err := w.store.Readings().InsertReading(ctx, models.Reading{
			AssetID:      a.AssetID,
			Value:        a.AmendedReading,
			RecordedAt:   a.AmendedRecordedAt,
			SourceJobID:  a.JobID,
			SubmittedBy:  reviewer,
			SupersedesID: a.ReadingID,
			AmendmentID:  &amendmentID,
		}); err != nil {
			return fmt.Errorf("store amended reading: %w", err)
		}
		resolved = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	w.log.WithFields(logrus.Fields{
		"amendment_id": resolved.ID.Hex(),
		"asset_id":     resolved.AssetID.Hex(),
		"reviewed_by":  reviewer,
		"hourmeter":    resolved.AmendedReading,
	}).Info("Amendment approved")
	return resolved, nil
}

// Reject resolves a pending amendment without touching the asset. A reason is
// mandatory.
func (w *Workflow) Reject(ctx context.Context, id primitive.ObjectID, reviewer, notes string) (*models.Amendment, error) {
	if strings.TrimSpace(reviewer) == "" {
		return nil, &models.ValidationError{Field: "reviewed_by", Message: "is required"}
	}
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return nil, &models.ValidationError{Field: "review_notes", Message: "a rejection needs a reason"}
	}

	a, err := w.resolve(ctx, id, models.Resolution{
		Status:     models.AmendmentRejected,
		ReviewedBy: reviewer,
		ReviewedAt: w.now(),
		Notes:      notes,
	})
	if err != nil {
		return nil, err
	}
	w.log.WithFields(logrus.Fields{
		"amendment_id": a.ID.Hex(),
		"asset_id":     a.AssetID.Hex(),
		"reviewed_by":  reviewer,
	}).Info("Amendment rejected")
	return a, nil
}

// resolve performs the pending-to-terminal transition. Losing the
// compare-and-set is reported as an InvalidStateError carrying the status
// that won.
func (w *Workflow) resolve(ctx context.Context, id primitive.ObjectID, res models.Resolution) (*models.Amendment, error) {
	current, err := w.store.Amendments().FindAmendmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != models.AmendmentPending {
		return nil, invalidState(current, nil)
	}

	a, err := w.store.Amendments().ResolveAmendment(ctx, id, current.Version, res)
	if errors.Is(err, models.ErrAmendmentResolved) {
		if latest, ferr := w.store.Amendments().FindAmendmentByID(ctx, id); ferr == nil {
			current = latest
		}
		return nil, invalidState(current, err)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve amendment: %w", err)
	}
	w.metrics.ObserveAmendment(string(a.Status))
	return a, nil
}

func invalidState(a *models.Amendment, cause error) error {
	if cause == nil {
		cause = models.ErrAmendmentResolved
	}
	return &models.InvalidStateError{
		Entity:  "amendment",
		ID:      a.ID.Hex(),
		Current: string(a.Status),
		Wanted:  string(models.AmendmentPending),
		Err:     cause,
	}
}
