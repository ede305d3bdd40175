package readings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ph0en1x29/FT-sub001/internal/db"
	"github.com/ph0en1x29/FT-sub001/internal/metrics"
	"github.com/ph0en1x29/FT-sub001/internal/models"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// SubmitRequest is a reading as submitted by an operator or a job.
type SubmitRequest struct {
	AssetID     primitive.ObjectID  `json:"asset_id"`
	Value       float64             `json:"value"`
	RecordedAt  time.Time           `json:"recorded_at"`
	SourceJobID *primitive.ObjectID `json:"source_job_id,omitempty"`
	SubmittedBy string              `json:"-"`
}

// SubmitResult tells the caller whether the reading took effect. Exactly one
// of Reading and Amendment is set.
type SubmitResult struct {
	Accepted  bool              `json:"accepted"`
	Flags     models.FlagSet    `json:"flags"`
	Reading   *models.Reading   `json:"reading,omitempty"`
	Amendment *models.Amendment `json:"amendment,omitempty"`
}

// Service ingests readings: clean ones update the asset, flagged ones become
// pending amendments.
type Service struct {
	store     db.Store
	validator *Validator
	log       logrus.FieldLogger
	metrics   *metrics.Recorder
	now       func() time.Time
}

// NewService creates a reading service.
func NewService(store db.Store, validator *Validator, logger logrus.FieldLogger) *Service {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{
		store:     store,
		validator: validator,
		log:       logger.WithField("component", "readings"),
		now:       time.Now,
	}
}

// WithMetrics counts submissions on m.
func (s *Service) WithMetrics(m *metrics.Recorder) *Service {
	s.metrics = m
	return s
}

// Submit validates the reading and either applies it or parks it in a
// pending amendment. The asset's hourmeter is never changed by a flagged
// reading.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	asset, err := s.store.Assets().FindAssetByID(ctx, req.AssetID)
	if err != nil {
		return nil, err
	}

	candidate := models.Reading{
		AssetID:     req.AssetID,
		Value:       req.Value,
		RecordedAt:  req.RecordedAt,
		SourceJobID: req.SourceJobID,
		SubmittedBy: req.SubmittedBy,
	}

	// an asset that was never read still carries the hourmeter it was
	// registered with; the value checks run against it
	previous := &models.Reading{AssetID: asset.ID, Value: asset.CurrentHourmeter}
	var history []models.Reading
	if asset.LastReadingAt != nil {
		previous.RecordedAt = *asset.LastReadingAt
		history, err = s.history(ctx, asset.ID, *asset.LastReadingAt)
		if err != nil {
			return nil, err
		}
	}

	now := s.now()
	flags, err := s.validator.Validate(candidate, previous, history, now)
	if err != nil {
		return nil, err
	}

	entry := s.log.WithFields(logrus.Fields{
		"asset_id": asset.ID.Hex(),
		"value":    req.Value,
	})

	if flags.Empty() {
		stored, err := s.accept(ctx, candidate)
		if err != nil {
			return nil, err
		}
		entry.Info("Reading accepted")
		s.metrics.ObserveReading(true, nil)
		return &SubmitResult{Accepted: true, Reading: &stored}, nil
	}

	amendment, err := s.store.Amendments().InsertAmendment(ctx, models.Amendment{
		AssetID:           asset.ID,
		JobID:             req.SourceJobID,
		OriginalReading:   asset.CurrentHourmeter,
		AmendedReading:    req.Value,
		AmendedRecordedAt: req.RecordedAt,
		FlagReasons:       flags,
		Status:            models.AmendmentPending,
		RequestedBy:       req.SubmittedBy,
		RequestedAt:       now,
	})
	if err != nil {
		return nil, fmt.Errorf("store amendment: %w", err)
	}
	entry.WithFields(logrus.Fields{
		"flags":        flags.String(),
		"amendment_id": amendment.ID.Hex(),
	}).Warn("Reading flagged, amendment pending")
	s.metrics.ObserveReading(false, flags.Strings())
	return &SubmitResult{Flags: flags, Amendment: &amendment}, nil
}

func (s *Service) accept(ctx context.Context, candidate models.Reading) (models.Reading, error) {
	var stored models.Reading
	err := s.store.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error
		stored, err = s.store.Readings().InsertReading(ctx, candidate)
		if err != nil {
			return fmt.Errorf("store reading: %w", err)
		}
		return s.store.Assets().SetHourmeter(ctx, candidate.AssetID, candidate.Value, candidate.RecordedAt, true)
	})
	if errors.Is(err, models.ErrConcurrentUpdate) {
		return stored, &models.InvalidStateError{
			Entity:  "asset",
			ID:      candidate.AssetID.Hex(),
			Current: "holding a newer reading",
			Wanted:  "older than " + candidate.RecordedAt.Format(time.RFC3339),
			Err:     err,
		}
	}
	return stored, err
}

// history returns the authoritative readings in the estimator's window ending
// at asOf.
func (s *Service) history(ctx context.Context, assetID primitive.ObjectID, asOf time.Time) ([]models.Reading, error) {
	var since time.Time
	if s.validator.Estimator != nil {
		since = asOf.Add(-s.validator.Estimator.Lookback)
	}
	readings, err := s.store.Readings().FindReadings(ctx, assetID, since)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return db.Authoritative(readings), nil
}
