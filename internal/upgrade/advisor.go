// Package upgrade decides when a minor service on an overdue asset has to be
// confirmed or escalated to a full service, and records the operator's
// answer.
package upgrade

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ph0en1x29/FT-sub001/internal/db"
	"github.com/ph0en1x29/FT-sub001/internal/models"
	"github.com/ph0en1x29/FT-sub001/internal/schedule"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Prompt describes the upgrade decision point for a job.
type Prompt struct {
	JobID            primitive.ObjectID             `json:"job_id"`
	AssetID          primitive.ObjectID             `json:"asset_id"`
	JobType          models.JobType                 `json:"job_type"`
	DueStatus        models.DueStatus               `json:"due_status"`
	DrivingPolicy    string                         `json:"driving_policy,omitempty"`
	CurrentHourmeter float64                        `json:"current_hourmeter"`
	TargetHourmeter  float64                        `json:"target_hourmeter"`
	HoursOverdue     float64                        `json:"hours_overdue"`
	Required         bool                           `json:"required"`
	Decision         *models.ServiceUpgradeDecision `json:"decision,omitempty"`
}

// Advisor guards the start of minor service jobs on overdue assets.
type Advisor struct {
	store   db.Store
	planner *schedule.Planner
	log     logrus.FieldLogger
	now     func() time.Time
}

// NewAdvisor creates an advisor.
func NewAdvisor(store db.Store, planner *schedule.Planner, logger logrus.FieldLogger) *Advisor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Advisor{
		store:   store,
		planner: planner,
		log:     logger.WithField("component", "upgrade"),
		now:     time.Now,
	}
}

// Prompt reports whether the job needs an upgrade decision. Required is false
// once a decision has been recorded.
func (a *Advisor) Prompt(ctx context.Context, jobID primitive.ObjectID) (*Prompt, error) {
	job, err := a.store.Jobs().FindJobByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	asset, err := a.store.Assets().FindAssetByID(ctx, job.AssetID)
	if err != nil {
		return nil, err
	}
	assessment, err := a.planner.Assess(ctx, *asset, a.now())
	if err != nil {
		return nil, err
	}

	p := &Prompt{
		JobID:            job.ID,
		AssetID:          asset.ID,
		JobType:          job.JobType,
		DueStatus:        assessment.Schedule.Status,
		DrivingPolicy:    assessment.Schedule.DrivingPolicy,
		CurrentHourmeter: asset.CurrentHourmeter,
	}
	if d := assessment.Schedule.Driving; d != nil {
		if d.NextTargetHour != nil {
			p.TargetHourmeter = *d.NextTargetHour
		}
		p.HoursOverdue = d.HoursOverdue
	}

	decision, err := a.store.Decisions().FindDecisionByJob(ctx, job.ID)
	switch {
	case err == nil:
		p.Decision = decision
	case !errors.Is(err, models.ErrNotFound):
		return nil, err
	}

	p.Required = p.Decision == nil && applies(job, p.DueStatus)
	return p, nil
}

// applies is the precondition of the prompt: an open minor service on an
// overdue asset.
func applies(job *models.MaintenanceJob, status models.DueStatus) bool {
	return job.JobType == models.JobMinorService && job.Status.IsOpen() && status == models.DueOverdue
}

// Decide records the operator's answer. Upgrading promotes the job to a full
// service; declining leaves it as it is and the asset stays overdue. Exactly
// one decision is ever stored per job.
func (a *Advisor) Decide(ctx context.Context, jobID primitive.ObjectID, choice models.UpgradeChoice, decidedBy string) (*models.ServiceUpgradeDecision, error) {
	if !choice.Valid() {
		return nil, &models.ValidationError{Field: "decision", Message: "must be upgraded or declined"}
	}
	if strings.TrimSpace(decidedBy) == "" {
		return nil, &models.ValidationError{Field: "decided_by", Message: "is required"}
	}

	p, err := a.Prompt(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if p.Decision != nil {
		return nil, alreadyDecided(jobID, nil)
	}
	if !p.Required {
		return nil, &models.InvalidStateError{
			Entity:  "job",
			ID:      jobID.Hex(),
			Current: fmt.Sprintf("%s on %s asset", p.JobType, p.DueStatus),
			Wanted:  fmt.Sprintf("open %s on %s asset", models.JobMinorService, models.DueOverdue),
		}
	}

	decision := models.ServiceUpgradeDecision{
		JobID:            jobID,
		AssetID:          p.AssetID,
		Decision:         choice,
		CurrentHourmeter: p.CurrentHourmeter,
		TargetHourmeter:  p.TargetHourmeter,
		OriginalJobType:  p.JobType,
		DecidedBy:        decidedBy,
		DecidedAt:        a.now(),
	}
	err = a.store.RunInTransaction(ctx, func(ctx context.Context) error {
		stored, err := a.store.Decisions().InsertDecision(ctx, decision)
		if err != nil {
			return err
		}
		decision = stored
		if choice == models.UpgradeAccepted {
			return a.store.Jobs().UpdateJobType(ctx, jobID, models.JobFullService)
		}
		return nil
	})
	if errors.Is(err, models.ErrDecisionExists) {
		return nil, alreadyDecided(jobID, err)
	}
	if err != nil {
		return nil, fmt.Errorf("record upgrade decision: %w", err)
	}

	a.log.WithFields(logrus.Fields{
		"job_id":     jobID.Hex(),
		"asset_id":   p.AssetID.Hex(),
		"decision":   choice,
		"decided_by": decidedBy,
	}).Info("Service upgrade decision recorded")
	return &decision, nil
}

// EnsureResolved is the start gate for a job. It fails with
// models.ErrDecisionRequired while the prompt is outstanding.
func (a *Advisor) EnsureResolved(ctx context.Context, jobID primitive.ObjectID) error {
	p, err := a.Prompt(ctx, jobID)
	if err != nil {
		return err
	}
	if p.Required {
		return fmt.Errorf("job %s: %w", jobID.Hex(), models.ErrDecisionRequired)
	}
	return nil
}

func alreadyDecided(jobID primitive.ObjectID, cause error) error {
	if cause == nil {
		cause = models.ErrDecisionExists
	}
	return &models.InvalidStateError{
		Entity:  "job",
		ID:      jobID.Hex(),
		Current: "decided",
		Wanted:  "awaiting upgrade decision",
		Err:     cause,
	}
}
