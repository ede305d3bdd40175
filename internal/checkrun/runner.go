// Package checkrun sweeps the fleet and emits job and notification intents
// for assets whose service state changed.
package checkrun

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ph0en1x29/FT-sub001/internal/db"
	"github.com/ph0en1x29/FT-sub001/internal/intents"
	"github.com/ph0en1x29/FT-sub001/internal/metrics"
	"github.com/ph0en1x29/FT-sub001/internal/models"
	"github.com/ph0en1x29/FT-sub001/internal/schedule"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Summary counts what one run did.
type Summary struct {
	StartedAt            time.Time `json:"started_at"`
	FinishedAt           time.Time `json:"finished_at"`
	AssetsChecked        int       `json:"assets_checked"`
	JobsEmitted          int       `json:"jobs_emitted"`
	NotificationsEmitted int       `json:"notifications_emitted"`
	Overdue              int       `json:"overdue"`
	DueSoon              int       `json:"due_soon"`
	Stale                int       `json:"stale"`
	Failed               int       `json:"failed"`
}

// Runner is the daily service check.
type Runner struct {
	store   db.Store
	planner *schedule.Planner
	sink    intents.Sink
	workers int
	log     logrus.FieldLogger
	metrics *metrics.Recorder
	now     func() time.Time

	// one run at a time per process; instances coordinate through the store
	running sync.Mutex
}

// NewRunner creates a runner that checks up to workers assets at once.
func NewRunner(store db.Store, planner *schedule.Planner, sink intents.Sink, workers int, logger logrus.FieldLogger) *Runner {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Runner{
		store:   store,
		planner: planner,
		sink:    sink,
		workers: workers,
		log:     logger.WithField("component", "checkrun"),
		now:     time.Now,
	}
}

type outcome struct {
	status models.DueStatus
	stale  bool
	jobs   int
	notes  int
}

// WithMetrics records each run on m.
func (r *Runner) WithMetrics(m *metrics.Recorder) *Runner {
	r.metrics = m
	return r
}

// Run checks every asset once. Per-asset failures do not stop the sweep; they
// are counted in Failed and returned joined. An asset whose intents could not
// be published keeps its previous check state, so the next run retries it.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	r.running.Lock()
	defer r.running.Unlock()

	now := r.now()
	summary := Summary{StartedAt: now}

	assets, err := r.store.Assets().FindAssets(ctx)
	if err != nil {
		return summary, fmt.Errorf("load assets: %w", err)
	}

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(r.workers)

	for _, asset := range assets {
		g.Go(func() error {
			out, err := r.checkAsset(ctx, asset, now)

			mu.Lock()
			defer mu.Unlock()
			summary.JobsEmitted += out.jobs
			summary.NotificationsEmitted += out.notes
			if err != nil {
				summary.Failed++
				errs = append(errs, fmt.Errorf("asset %s: %w", asset.ID.Hex(), err))
				return nil
			}
			summary.AssetsChecked++
			switch out.status {
			case models.DueOverdue:
				summary.Overdue++
			case models.DueSoon:
				summary.DueSoon++
			}
			if out.stale {
				summary.Stale++
			}
			return nil
		})
	}
	_ = g.Wait()

	summary.FinishedAt = r.now()
	r.metrics.ObserveCheckRun(metrics.CheckRun{
		Duration:      summary.FinishedAt.Sub(summary.StartedAt),
		Checked:       summary.AssetsChecked,
		Overdue:       summary.Overdue,
		DueSoon:       summary.DueSoon,
		Stale:         summary.Stale,
		Failed:        summary.Failed,
		Jobs:          summary.JobsEmitted,
		Notifications: summary.NotificationsEmitted,
	})
	entry := r.log.WithFields(logrus.Fields{
		"assets_checked":        summary.AssetsChecked,
		"jobs_emitted":          summary.JobsEmitted,
		"notifications_emitted": summary.NotificationsEmitted,
		"overdue":               summary.Overdue,
		"due_soon":              summary.DueSoon,
		"stale":                 summary.Stale,
		"failed":                summary.Failed,
		"duration":              summary.FinishedAt.Sub(summary.StartedAt).String(),
	})
	if len(errs) > 0 {
		err := errors.Join(errs...)
		entry.WithError(err).Warn("Service check finished with failures")
		return summary, err
	}
	entry.Info("Service check finished")
	return summary, nil
}

// checkAsset emits the intents for one asset and then records its state.
// Intents are driven by transitions against the state saved by the previous
// run, which keeps repeated runs from emitting duplicates.
func (r *Runner) checkAsset(ctx context.Context, asset models.Asset, now time.Time) (outcome, error) {
	var out outcome
	a, err := r.planner.Assess(ctx, asset, now)
	if err != nil {
		return out, err
	}
	out.status = a.Schedule.Status
	out.stale = a.Staleness.Stale

	previous := asset.LastDueStatus
	if previous == "" {
		previous = models.DueOK
	}

	if out.status == models.DueOverdue && previous != models.DueOverdue {
		open, err := r.store.Jobs().HasOpenJob(ctx, asset.ID)
		if err != nil {
			return out, fmt.Errorf("check open jobs: %w", err)
		}
		if !open {
			if err := r.sink.Publish(ctx, intents.CreateJob(asset, a.Schedule.DrivingPolicy, now)); err != nil {
				return out, err
			}
			out.jobs++
		}
	}

	if out.status != previous {
		n := intents.Notify(asset, intents.EventDueStatusChanged, previous, out.status, out.stale, a.Staleness.DaysSinceUpdate, now)
		if err := r.sink.Publish(ctx, n); err != nil {
			return out, err
		}
		out.notes++
	}
	if out.stale && !asset.LastStale {
		n := intents.Notify(asset, intents.EventBecameStale, previous, out.status, true, a.Staleness.DaysSinceUpdate, now)
		if err := r.sink.Publish(ctx, n); err != nil {
			return out, err
		}
		out.notes++
	}

	state := models.CheckState{DueStatus: out.status, Stale: out.stale, CheckedAt: now}
	if err := r.store.Assets().SaveCheckState(ctx, asset.ID, state); err != nil {
		return out, fmt.Errorf("save check state: %w", err)
	}
	return out, nil
}

// Schedule runs the check immediately and then every interval until ctx is
// done.
func (r *Runner) Schedule(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.log.WithField("interval", interval.String()).Info("Service check job started")
	r.runLogged(ctx)

	for {
		select {
		case <-ctx.Done():
			r.log.Info("Service check job stopped")
			return
		case <-ticker.C:
			r.runLogged(ctx)
		}
	}
}

func (r *Runner) runLogged(ctx context.Context) {
	if _, err := r.Run(ctx); err != nil {
		r.log.WithError(err).Error("Service check run failed")
	}
}
