// Package readings validates and ingests hourmeter readings.
package readings

import (
	"math"
	"time"

	"github.com/ph0en1x29/FT-sub001/internal/config"
	"github.com/ph0en1x29/FT-sub001/internal/models"
	"github.com/ph0en1x29/FT-sub001/internal/usage"
)

// Thresholds are the ceilings the validator checks against.
type Thresholds struct {
	MaxHoursPerDay    float64       // accrual ceiling per elapsed day
	MaxAbsoluteJump   float64       // single-submission ceiling regardless of time
	PatternMultiplier float64       // multiple of the asset's own average rate
	PatternMinPoints  int           // history needed before pattern checks run
	PatternFlagSlow   bool          // also flag accrual below the average divided by the multiple
	FutureSkew        time.Duration // tolerated clock drift for recorded_at
}

// ThresholdsFrom takes the validator tunables from the engine config.
func ThresholdsFrom(e config.Engine) Thresholds {
	return Thresholds{
		MaxHoursPerDay:    e.JumpMaxHoursPerDay,
		MaxAbsoluteJump:   e.JumpMaxAbsolute,
		PatternMultiplier: e.PatternMultiplier,
		PatternMinPoints:  e.PatternMinPoints,
		PatternFlagSlow:   e.PatternFlagSlow,
		FutureSkew:        e.FutureSkew,
	}
}

// Validator classifies a candidate reading against the asset's history.
type Validator struct {
	Thresholds Thresholds
	Estimator  *usage.Estimator
}

// NewValidator builds a validator. The estimator supplies the rolling
// average used by the pattern check.
func NewValidator(t Thresholds, estimator *usage.Estimator) *Validator {
	return &Validator{Thresholds: t, Estimator: estimator}
}

// Validate returns the automatic flags raised by candidate. previous is the
// asset's last accepted reading, nil for an asset with no known hourmeter.
// A previous with a zero RecordedAt is a registered baseline: it has a value
// but no time, so only the value checks run against it. history holds the
// authoritative readings up to previous; it is only used for the pattern
// check. An empty set means the reading can be accepted.
func (v *Validator) Validate(candidate models.Reading, previous *models.Reading, history []models.Reading, now time.Time) (models.FlagSet, error) {
	if err := checkCandidate(candidate); err != nil {
		return 0, err
	}

	var flags models.FlagSet
	if candidate.RecordedAt.After(now.Add(v.Thresholds.FutureSkew)) {
		flags = flags.With(models.FlagTimestampMismatch)
	}
	if previous == nil {
		return flags, nil
	}

	delta := candidate.Value - previous.Value
	if delta < 0 {
		flags = flags.With(models.FlagLowerThanPrevious)
	}
	if delta > v.Thresholds.MaxAbsoluteJump {
		flags = flags.With(models.FlagExcessiveJump)
	}
	if previous.RecordedAt.IsZero() {
		return flags, nil
	}

	elapsed := candidate.RecordedAt.Sub(previous.RecordedAt)
	if elapsed <= 0 {
		flags = flags.With(models.FlagTimestampMismatch)
	}
	if v.excessiveJump(delta, elapsed) {
		flags = flags.With(models.FlagExcessiveJump)
	}
	if v.patternMismatch(delta, elapsed, previous.RecordedAt, history) {
		flags = flags.With(models.FlagPatternMismatch)
	}
	return flags, nil
}

func checkCandidate(r models.Reading) error {
	if r.AssetID.IsZero() {
		return &models.ValidationError{Field: "asset_id", Message: "is required"}
	}
	if r.RecordedAt.IsZero() {
		return &models.ValidationError{Field: "recorded_at", Message: "is required"}
	}
	if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
		return &models.ValidationError{Field: "value", Message: "must be a finite number"}
	}
	if r.Value < 0 {
		return &models.ValidationError{Field: "value", Message: "must not be negative"}
	}
	return nil
}

// excessiveJump is the per-day ceiling; the absolute one is checked in Validate.
func (v *Validator) excessiveJump(delta float64, elapsed time.Duration) bool {
	if delta <= 0 || elapsed <= 0 {
		return false
	}
	return delta/days(elapsed) > v.Thresholds.MaxHoursPerDay
}

// patternMismatch compares the candidate's daily rate with the rate the asset
// sustained up to its previous reading. A rate above the multiple is always
// flagged; one below the average divided by the multiple only with
// PatternFlagSlow.
func (v *Validator) patternMismatch(delta float64, elapsed time.Duration, asOf time.Time, history []models.Reading) bool {
	if v.Estimator == nil || delta < 0 || elapsed <= 0 {
		return false
	}
	if len(history) < v.Thresholds.PatternMinPoints {
		return false
	}
	est := v.Estimator.Estimate(history, asOf)
	if !est.Sufficient || est.Points < v.Thresholds.PatternMinPoints || est.AvgDailyHours <= 0 {
		return false
	}
	rate := delta / days(elapsed)
	if rate > v.Thresholds.PatternMultiplier*est.AvgDailyHours {
		return true
	}
	return v.Thresholds.PatternFlagSlow && rate < est.AvgDailyHours/v.Thresholds.PatternMultiplier
}

func days(d time.Duration) float64 {
	return d.Hours() / 24
}
