// Package schedule works out when assets are due for service.
package schedule

import (
	"math"
	"sort"
	"time"

	"github.com/ph0en1x29/FT-sub001/internal/config"
	"github.com/ph0en1x29/FT-sub001/internal/models"
	"github.com/ph0en1x29/FT-sub001/internal/usage"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const day = 24 * time.Hour

// PolicyEvaluation is the due state of one asset under one policy.
type PolicyEvaluation struct {
	PolicyID   primitive.ObjectID `json:"policy_id"`
	PolicyName string             `json:"policy_name"`
	Priority   int                `json:"priority"`
	Status     models.DueStatus   `json:"status"`

	// Hour axis, nil when the policy has no hour interval.
	NextTargetHour *float64 `json:"next_target_hour,omitempty"`
	HoursRemaining *float64 `json:"hours_remaining,omitempty"`
	HoursOverdue   float64  `json:"hours_overdue"`

	// Date axis, nil when the policy has no calendar interval or the asset
	// was never serviced.
	NextTargetDate *time.Time `json:"next_target_date,omitempty"`

	Forecast models.Forecast `json:"forecast"`
}

// AssetSchedule is the overall due state of an asset. The driving policy is
// the one that set Status.
type AssetSchedule struct {
	AssetID       primitive.ObjectID `json:"asset_id"`
	Status        models.DueStatus   `json:"status"`
	DrivingPolicy string             `json:"driving_policy,omitempty"`
	Driving       *PolicyEvaluation  `json:"driving,omitempty"`
	Policies      []PolicyEvaluation `json:"policies"`
}

// Calculator evaluates interval policies against an asset.
type Calculator struct {
	DueSoonFraction float64       // of the hour interval
	DueSoonWindow   time.Duration // calendar lead window
	ForecastCapDays float64
}

// NewCalculator builds a calculator from the engine config.
func NewCalculator(e config.Engine) *Calculator {
	return &Calculator{
		DueSoonFraction: e.DueSoonPercent / 100,
		DueSoonWindow:   time.Duration(e.DueSoonDays) * day,
		ForecastCapDays: float64(e.ForecastCapDays),
	}
}

// Evaluate computes the asset's due state under every policy for its type.
// Policies for other types are ignored. An invalid policy is a
// ValidationError; missing usage data only makes forecasts unknown.
func (c *Calculator) Evaluate(asset models.Asset, policies []models.ServiceIntervalPolicy, est usage.Estimate, now time.Time) (AssetSchedule, error) {
	out := AssetSchedule{AssetID: asset.ID, Status: models.DueOK, Policies: []PolicyEvaluation{}}

	for _, p := range policies {
		if p.AssetType != asset.Type {
			continue
		}
		if err := p.Validate(); err != nil {
			return out, err
		}
		out.Policies = append(out.Policies, c.evaluatePolicy(asset, p, est, now))
	}
	if len(out.Policies) == 0 {
		return out, nil
	}

	ranked := make([]PolicyEvaluation, len(out.Policies))
	copy(ranked, out.Policies)
	sort.SliceStable(ranked, func(i, j int) bool { return drivesBefore(ranked[i], ranked[j]) })

	driving := ranked[0]
	out.Status = driving.Status
	out.DrivingPolicy = driving.PolicyName
	out.Driving = &driving
	return out, nil
}

// drivesBefore orders evaluations by urgency, then policy priority, then
// hours remaining.
func drivesBefore(a, b PolicyEvaluation) bool {
	if a.Status.Rank() != b.Status.Rank() {
		return a.Status.Rank() > b.Status.Rank()
	}
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return remaining(a) < remaining(b)
}

func remaining(e PolicyEvaluation) float64 {
	if e.HoursRemaining == nil {
		return math.Inf(1)
	}
	return *e.HoursRemaining
}

func (c *Calculator) evaluatePolicy(asset models.Asset, p models.ServiceIntervalPolicy, est usage.Estimate, now time.Time) PolicyEvaluation {
	ev := PolicyEvaluation{
		PolicyID:   p.ID,
		PolicyName: p.Name,
		Priority:   p.Priority,
		Status:     models.DueOK,
		Forecast:   models.Forecast{Kind: models.ForecastUnknown},
	}

	var hourForecast, dateForecast *models.Forecast

	if p.HourmeterInterval > 0 {
		target := asset.LastServicedHourmeter + p.HourmeterInterval
		left := target - asset.CurrentHourmeter
		hoursRemaining := math.Max(left, 0)
		ev.NextTargetHour = &target
		ev.HoursRemaining = &hoursRemaining
		ev.HoursOverdue = math.Max(-left, 0)

		f := c.hourForecast(left, est, now)
		hourForecast = &f

		switch {
		case left <= 0:
			ev.Status = models.DueOverdue
		case left <= c.DueSoonFraction*p.HourmeterInterval:
			ev.Status = models.DueSoon
		case f.Kind == models.ForecastKnown && *f.Days <= c.DueSoonWindow.Hours()/24:
			ev.Status = models.DueSoon
		}
	}

	if p.CalendarIntervalDays > 0 && asset.LastServicedAt != nil {
		target := asset.LastServicedAt.AddDate(0, 0, p.CalendarIntervalDays)
		ev.NextTargetDate = &target

		dateStatus := models.DueOK
		switch {
		case !now.Before(target):
			dateStatus = models.DueOverdue
		case target.Sub(now) <= c.DueSoonWindow:
			dateStatus = models.DueSoon
		}
		ev.Status = models.MoreUrgent(ev.Status, dateStatus)

		f := c.dateForecast(target, now)
		dateForecast = &f
	}

	ev.Forecast = earliest(hourForecast, dateForecast)
	return ev
}

// hourForecast projects when the hour target is reached. It never reports a
// date for a target that is already reached.
func (c *Calculator) hourForecast(left float64, est usage.Estimate, now time.Time) models.Forecast {
	if left <= 0 {
		return models.Forecast{Kind: models.ForecastOverdue}
	}
	if !est.Sufficient || est.AvgDailyHours <= 0 {
		return models.Forecast{Kind: models.ForecastUnknown}
	}
	return c.known(left/est.AvgDailyHours, now)
}

func (c *Calculator) dateForecast(target, now time.Time) models.Forecast {
	if !now.Before(target) {
		return models.Forecast{Kind: models.ForecastOverdue}
	}
	return c.known(target.Sub(now).Hours()/24, now)
}

func (c *Calculator) known(days float64, now time.Time) models.Forecast {
	if days > c.ForecastCapDays {
		return models.Forecast{Kind: models.ForecastUnbounded}
	}
	date := now.Add(time.Duration(days * float64(day)))
	return models.Forecast{Kind: models.ForecastKnown, Days: &days, Date: &date}
}

// earliest picks the forecast that arrives first. Overdue beats everything,
// a known date beats unbounded, and unknown only wins when nothing else is
// available.
func earliest(a, b *models.Forecast) models.Forecast {
	switch {
	case a == nil && b == nil:
		return models.Forecast{Kind: models.ForecastUnknown}
	case a == nil:
		return *b
	case b == nil:
		return *a
	}
	ra, rb := forecastRank(*a), forecastRank(*b)
	if ra != rb {
		if ra < rb {
			return *a
		}
		return *b
	}
	if a.Kind == models.ForecastKnown && *b.Days < *a.Days {
		return *b
	}
	return *a
}

func forecastRank(f models.Forecast) int {
	switch f.Kind {
	case models.ForecastOverdue:
		return 0
	case models.ForecastKnown:
		return 1
	case models.ForecastUnbounded:
		return 2
	default:
		return 3
	}
}
