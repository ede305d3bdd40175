package schedule

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ph0en1x29/FT-sub001/internal/db"
	"github.com/ph0en1x29/FT-sub001/internal/models"
	"github.com/ph0en1x29/FT-sub001/internal/usage"
	"github.com/sirupsen/logrus"
)

// Assessment is everything the engine derives for one asset at one instant.
type Assessment struct {
	Asset     models.Asset   `json:"asset"`
	Usage     usage.Estimate `json:"usage"`
	Schedule  AssetSchedule  `json:"schedule"`
	Staleness Staleness      `json:"staleness"`
}

// Planner assembles assessments from raw asset, reading and policy records.
type Planner struct {
	store              db.Store
	calculator         *Calculator
	estimator          *usage.Estimator
	stalenessThreshold time.Duration
	log                logrus.FieldLogger
	now                func() time.Time
}

// NewPlanner creates a planner.
func NewPlanner(store db.Store, calculator *Calculator, estimator *usage.Estimator, stalenessThreshold time.Duration, logger logrus.FieldLogger) *Planner {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Planner{
		store:              store,
		calculator:         calculator,
		estimator:          estimator,
		stalenessThreshold: stalenessThreshold,
		log:                logger.WithField("component", "schedule"),
		now:                time.Now,
	}
}

// Now returns the planner's clock.
func (p *Planner) Now() time.Time { return p.now() }

// Assess evaluates one asset as of now.
func (p *Planner) Assess(ctx context.Context, asset models.Asset, now time.Time) (*Assessment, error) {
	policies, err := p.store.Policies().FindPoliciesByType(ctx, asset.Type)
	if err != nil {
		return nil, fmt.Errorf("load policies: %w", err)
	}
	readings, err := p.store.Readings().FindReadings(ctx, asset.ID, now.Add(-p.estimator.Lookback))
	if err != nil {
		return nil, fmt.Errorf("load readings: %w", err)
	}

	est := p.estimator.Estimate(db.Authoritative(readings), now)
	sched, err := p.calculator.Evaluate(asset, policies, est, now)
	if err != nil {
		return nil, err
	}
	return &Assessment{
		Asset:     asset,
		Usage:     est,
		Schedule:  sched,
		Staleness: DetectStaleness(asset.LastReadingAt, now, p.stalenessThreshold),
	}, nil
}

// AssessByID loads the asset and assesses it.
func (p *Planner) AssessByID(ctx context.Context, id string) (*Assessment, error) {
	oid, err := models.ParseID("asset_id", id)
	if err != nil {
		return nil, err
	}
	asset, err := p.store.Assets().FindAssetByID(ctx, oid)
	if err != nil {
		return nil, err
	}
	return p.Assess(ctx, *asset, p.now())
}

// Overview builds the fleet read model, most urgent first.
func (p *Planner) Overview(ctx context.Context) ([]models.FleetServiceOverview, error) {
	assets, err := p.store.Assets().FindAssets(ctx)
	if err != nil {
		return nil, fmt.Errorf("load assets: %w", err)
	}
	now := p.now()
	rows := make([]models.FleetServiceOverview, 0, len(assets))
	for _, asset := range assets {
		a, err := p.Assess(ctx, asset, now)
		if err != nil {
			p.log.WithError(err).WithField("asset_id", asset.ID.Hex()).Error("Failed to assess asset")
			return nil, err
		}
		rows = append(rows, BuildOverview(a))
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Status.Rank() != rows[j].Status.Rank() {
			return rows[i].Status.Rank() > rows[j].Status.Rank()
		}
		return rows[i].HoursOverdue > rows[j].HoursOverdue
	})
	return rows, nil
}

// BuildOverview flattens an assessment into a fleet overview row.
func BuildOverview(a *Assessment) models.FleetServiceOverview {
	row := models.FleetServiceOverview{
		AssetID:               a.Asset.ID,
		Name:                  a.Asset.Name,
		Type:                  a.Asset.Type,
		LastServicedHourmeter: a.Asset.LastServicedHourmeter,
		CurrentHourmeter:      a.Asset.CurrentHourmeter,
		Status:                a.Schedule.Status,
		DrivingPolicy:         a.Schedule.DrivingPolicy,
		Forecast:              models.Forecast{Kind: models.ForecastUnknown},
		Stale:                 a.Staleness.Stale,
		DaysSinceUpdate:       a.Staleness.DaysSinceUpdate,
		NeverRead:             a.Staleness.NeverRead,
	}
	if d := a.Schedule.Driving; d != nil {
		row.NextTargetHour = d.NextTargetHour
		row.HoursOverdue = d.HoursOverdue
		row.Forecast = d.Forecast
	}
	return row
}
