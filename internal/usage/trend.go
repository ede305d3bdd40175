// Package usage estimates how fast an asset accrues engine hours.
package usage

import (
	"sort"
	"time"

	"github.com/ph0en1x29/FT-sub001/internal/models"
)

// Trend classifies how the accrual rate is moving within the window.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendFlat       Trend = "flat"
)

const (
	minPoints      = 2
	minTrendPoints = 4
	day            = 24 * time.Hour
)

// Estimate is the result of a usage estimation. When Sufficient is false the
// rate is unknown and AvgDailyHours must not be used.
type Estimate struct {
	Sufficient      bool      `json:"sufficient"`
	AvgDailyHours   float64   `json:"avg_daily_hours"`
	Trend           Trend     `json:"trend"`
	TrendSufficient bool      `json:"trend_sufficient"`
	Points          int       `json:"points"`
	From            time.Time `json:"from"`
	To              time.Time `json:"to"`
}

// Insufficient is the estimate returned when no rate can be derived.
func Insufficient(points int) Estimate {
	return Estimate{Trend: TrendFlat, Points: points}
}

// Estimator computes average daily hours and a split-half trend.
type Estimator struct {
	Lookback       time.Duration
	TrendThreshold float64 // fraction, 0.10 means 10%
}

// NewEstimator builds an estimator. thresholdPercent is in percent.
func NewEstimator(lookback time.Duration, thresholdPercent float64) *Estimator {
	return &Estimator{Lookback: lookback, TrendThreshold: thresholdPercent / 100}
}

// Estimate evaluates the readings recorded in (asOf-Lookback, asOf]. The input
// does not need to be sorted and is not modified.
func (e *Estimator) Estimate(readings []models.Reading, asOf time.Time) Estimate {
	window := e.window(readings, asOf)
	if len(window) < minPoints {
		return Insufficient(len(window))
	}

	first, last := window[0], window[len(window)-1]
	elapsed := days(last.RecordedAt.Sub(first.RecordedAt))
	accrued := last.Value - first.Value
	if elapsed <= 0 || accrued < 0 {
		return Insufficient(len(window))
	}

	est := Estimate{
		Sufficient:    true,
		AvgDailyHours: accrued / elapsed,
		Trend:         TrendFlat,
		Points:        len(window),
		From:          first.RecordedAt,
		To:            last.RecordedAt,
	}
	if len(window) >= minTrendPoints {
		est.Trend = e.trend(window)
		est.TrendSufficient = true
	}
	return est
}

func (e *Estimator) window(readings []models.Reading, asOf time.Time) []models.Reading {
	start := asOf.Add(-e.Lookback)
	out := make([]models.Reading, 0, len(readings))
	for _, r := range readings {
		if r.RecordedAt.After(start) && !r.RecordedAt.After(asOf) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RecordedAt.Before(out[j].RecordedAt)
	})
	return out
}

// trend compares the accrual rates of the two halves of the window, split at
// its time midpoint. The hourmeter at the midpoint is interpolated between
// the readings around it.
func (e *Estimator) trend(window []models.Reading) Trend {
	first, last := window[0], window[len(window)-1]
	mid := models.Reading{
		RecordedAt: first.RecordedAt.Add(last.RecordedAt.Sub(first.RecordedAt) / 2),
	}
	mid.Value = valueAt(window, mid.RecordedAt)

	firstRate, ok1 := rate(first, mid)
	secondRate, ok2 := rate(mid, last)
	if !ok1 || !ok2 {
		return TrendFlat
	}
	if firstRate == 0 {
		if secondRate > 0 {
			return TrendIncreasing
		}
		return TrendFlat
	}

	change := (secondRate - firstRate) / firstRate
	switch {
	case change > e.TrendThreshold:
		return TrendIncreasing
	case change < -e.TrendThreshold:
		return TrendDecreasing
	default:
		return TrendFlat
	}
}

// valueAt interpolates linearly between the sorted readings around at.
func valueAt(window []models.Reading, at time.Time) float64 {
	for i := 1; i < len(window); i++ {
		a, b := window[i-1], window[i]
		if b.RecordedAt.Before(at) {
			continue
		}
		span := b.RecordedAt.Sub(a.RecordedAt)
		if span <= 0 {
			return b.Value
		}
		frac := float64(at.Sub(a.RecordedAt)) / float64(span)
		return a.Value + (b.Value-a.Value)*frac
	}
	return window[len(window)-1].Value
}

func rate(from, to models.Reading) (float64, bool) {
	d := days(to.RecordedAt.Sub(from.RecordedAt))
	if d <= 0 {
		return 0, false
	}
	return (to.Value - from.Value) / d, true
}

func days(d time.Duration) float64 {
	return d.Hours() / 24
}
