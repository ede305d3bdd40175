package db

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ph0en1x29/FT-sub001/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MemoryStore is a process-local Store used by tests and STORE=memory.
// Transactions are serialised and roll back on error.
type MemoryStore struct {
	txMu sync.Mutex
	mu   sync.RWMutex

	assets     map[primitive.ObjectID]models.Asset
	readings   map[primitive.ObjectID]models.Reading
	policies   map[primitive.ObjectID]models.ServiceIntervalPolicy
	amendments map[primitive.ObjectID]models.Amendment
	jobs       map[primitive.ObjectID]models.MaintenanceJob
	decisions  map[primitive.ObjectID]models.ServiceUpgradeDecision

	now func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		assets:     make(map[primitive.ObjectID]models.Asset),
		readings:   make(map[primitive.ObjectID]models.Reading),
		policies:   make(map[primitive.ObjectID]models.ServiceIntervalPolicy),
		amendments: make(map[primitive.ObjectID]models.Amendment),
		jobs:       make(map[primitive.ObjectID]models.MaintenanceJob),
		decisions:  make(map[primitive.ObjectID]models.ServiceUpgradeDecision),
		now:        time.Now,
	}
}

func (s *MemoryStore) Assets() AssetCollection         { return memAssets{s} }
func (s *MemoryStore) Readings() ReadingCollection     { return memReadings{s} }
func (s *MemoryStore) Policies() PolicyCollection      { return memPolicies{s} }
func (s *MemoryStore) Amendments() AmendmentCollection { return memAmendments{s} }
func (s *MemoryStore) Jobs() JobCollection             { return memJobs{s} }
func (s *MemoryStore) Decisions() DecisionCollection   { return memDecisions{s} }

type memSnapshot struct {
	assets     map[primitive.ObjectID]models.Asset
	readings   map[primitive.ObjectID]models.Reading
	amendments map[primitive.ObjectID]models.Amendment
	jobs       map[primitive.ObjectID]models.MaintenanceJob
	decisions  map[primitive.ObjectID]models.ServiceUpgradeDecision
}

type memTxKey struct{}

// lockWrite takes the locks a write needs. Writes outside a transaction also
// wait for running transactions so a rollback cannot discard them.
func (s *MemoryStore) lockWrite(ctx context.Context) func() {
	if ctx.Value(memTxKey{}) == s {
		s.mu.Lock()
		return s.mu.Unlock
	}
	s.txMu.Lock()
	s.mu.Lock()
	return func() {
		s.mu.Unlock()
		s.txMu.Unlock()
	}
}

// RunInTransaction runs fn with other transactions excluded. If fn fails,
// every write it made is discarded.
func (s *MemoryStore) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	ctx = context.WithValue(ctx, memTxKey{}, s)

	s.mu.RLock()
	snap := memSnapshot{
		assets:     cloneMap(s.assets),
		readings:   cloneMap(s.readings),
		amendments: cloneMap(s.amendments),
		jobs:       cloneMap(s.jobs),
		decisions:  cloneMap(s.decisions),
	}
	s.mu.RUnlock()

	if err := fn(ctx); err != nil {
		s.mu.Lock()
		s.assets = snap.assets
		s.readings = snap.readings
		s.amendments = snap.amendments
		s.jobs = snap.jobs
		s.decisions = snap.decisions
		s.mu.Unlock()
		return err
	}
	return nil
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

type memAssets struct{ s *MemoryStore }

func (c memAssets) InsertAsset(ctx context.Context, asset models.Asset) (models.Asset, error) {
	defer c.s.lockWrite(ctx)()
	if asset.ID.IsZero() {
		asset.ID = primitive.NewObjectID()
	}
	asset.CreatedAt = c.s.now()
	asset.UpdatedAt = asset.CreatedAt
	c.s.assets[asset.ID] = asset
	return asset, nil
}

func (c memAssets) FindAssetByID(_ context.Context, id primitive.ObjectID) (*models.Asset, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()
	asset, ok := c.s.assets[id]
	if !ok {
		return nil, fmt.Errorf("asset %s: %w", id.Hex(), models.ErrNotFound)
	}
	return &asset, nil
}

func (c memAssets) FindAssets(_ context.Context) ([]models.Asset, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()
	out := make([]models.Asset, 0, len(c.s.assets))
	for _, a := range c.s.assets {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Hex() < out[j].ID.Hex() })
	return out, nil
}

func (c memAssets) SetHourmeter(ctx context.Context, id primitive.ObjectID, value float64, at time.Time, onlyIfNewer bool) error {
	defer c.s.lockWrite(ctx)()
	asset, ok := c.s.assets[id]
	if !ok {
		return fmt.Errorf("asset %s: %w", id.Hex(), models.ErrNotFound)
	}
	if onlyIfNewer && asset.LastReadingAt != nil && !at.After(*asset.LastReadingAt) {
		return fmt.Errorf("asset %s: %w", id.Hex(), models.ErrConcurrentUpdate)
	}
	asset.CurrentHourmeter = value
	asset.LastReadingAt = &at
	asset.UpdatedAt = c.s.now()
	c.s.assets[id] = asset
	return nil
}

func (c memAssets) SaveCheckState(ctx context.Context, id primitive.ObjectID, state models.CheckState) error {
	defer c.s.lockWrite(ctx)()
	asset, ok := c.s.assets[id]
	if !ok {
		return fmt.Errorf("asset %s: %w", id.Hex(), models.ErrNotFound)
	}
	checked := state.CheckedAt
	asset.LastDueStatus = state.DueStatus
	asset.LastStale = state.Stale
	asset.LastCheckedAt = &checked
	c.s.assets[id] = asset
	return nil
}

type memReadings struct{ s *MemoryStore }

func (c memReadings) InsertReading(ctx context.Context, reading models.Reading) (models.Reading, error) {
	defer c.s.lockWrite(ctx)()
	if reading.ID.IsZero() {
		reading.ID = primitive.NewObjectID()
	}
	reading.CreatedAt = c.s.now()
	c.s.readings[reading.ID] = reading
	return reading, nil
}

func (c memReadings) FindReadings(_ context.Context, assetID primitive.ObjectID, since time.Time) ([]models.Reading, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()
	var out []models.Reading
	for _, r := range c.s.readings {
		if r.AssetID == assetID && !r.RecordedAt.Before(since) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].RecordedAt.Equal(out[j].RecordedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].RecordedAt.Before(out[j].RecordedAt)
	})
	return out, nil
}

func (c memReadings) FindReadingByID(_ context.Context, id primitive.ObjectID) (*models.Reading, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()
	r, ok := c.s.readings[id]
	if !ok {
		return nil, fmt.Errorf("reading %s: %w", id.Hex(), models.ErrNotFound)
	}
	return &r, nil
}

type memPolicies struct{ s *MemoryStore }

func (c memPolicies) InsertPolicy(ctx context.Context, policy models.ServiceIntervalPolicy) (models.ServiceIntervalPolicy, error) {
	if err := policy.Validate(); err != nil {
		return policy, err
	}
	defer c.s.lockWrite(ctx)()
	if policy.ID.IsZero() {
		policy.ID = primitive.NewObjectID()
	}
	c.s.policies[policy.ID] = policy
	return policy, nil
}

func (c memPolicies) FindPolicies(_ context.Context) ([]models.ServiceIntervalPolicy, error) {
	return c.filter(func(models.ServiceIntervalPolicy) bool { return true }), nil
}

func (c memPolicies) FindPoliciesByType(_ context.Context, assetType models.AssetType) ([]models.ServiceIntervalPolicy, error) {
	return c.filter(func(p models.ServiceIntervalPolicy) bool { return p.AssetType == assetType }), nil
}

func (c memPolicies) filter(keep func(models.ServiceIntervalPolicy) bool) []models.ServiceIntervalPolicy {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()
	var out []models.ServiceIntervalPolicy
	for _, p := range c.s.policies {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID.Hex() < out[j].ID.Hex()
	})
	return out
}

type memAmendments struct{ s *MemoryStore }

func (c memAmendments) InsertAmendment(ctx context.Context, amendment models.Amendment) (models.Amendment, error) {
	defer c.s.lockWrite(ctx)()
	if amendment.ID.IsZero() {
		amendment.ID = primitive.NewObjectID()
	}
	c.s.amendments[amendment.ID] = amendment
	return amendment, nil
}

func (c memAmendments) FindAmendmentByID(_ context.Context, id primitive.ObjectID) (*models.Amendment, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()
	a, ok := c.s.amendments[id]
	if !ok {
		return nil, fmt.Errorf("amendment %s: %w", id.Hex(), models.ErrNotFound)
	}
	return &a, nil
}

func (c memAmendments) FindAmendments(_ context.Context, status models.AmendmentStatus) ([]models.Amendment, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()
	var out []models.Amendment
	for _, a := range c.s.amendments {
		if status == "" || a.Status == status {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out, nil
}

func (c memAmendments) ResolveAmendment(ctx context.Context, id primitive.ObjectID, version int64, res models.Resolution) (*models.Amendment, error) {
	defer c.s.lockWrite(ctx)()
	a, ok := c.s.amendments[id]
	if !ok {
		return nil, fmt.Errorf("amendment %s: %w", id.Hex(), models.ErrNotFound)
	}
	if a.Status != models.AmendmentPending || a.Version != version {
		return nil, fmt.Errorf("amendment %s: %w", id.Hex(), models.ErrAmendmentResolved)
	}
	reviewedAt := res.ReviewedAt
	a.Status = res.Status
	a.ReviewedBy = res.ReviewedBy
	a.ReviewedAt = &reviewedAt
	a.ReviewNotes = res.Notes
	a.Version++
	c.s.amendments[id] = a
	return &a, nil
}

type memJobs struct{ s *MemoryStore }

func (c memJobs) InsertJob(ctx context.Context, job models.MaintenanceJob) (models.MaintenanceJob, error) {
	defer c.s.lockWrite(ctx)()
	job.Open = job.Status.IsOpen()
	if job.Open {
		for _, j := range c.s.jobs {
			if j.AssetID == job.AssetID && j.Open {
				return job, fmt.Errorf("asset %s: %w", job.AssetID.Hex(), models.ErrOpenJobExists)
			}
		}
	}
	if job.ID.IsZero() {
		job.ID = primitive.NewObjectID()
	}
	job.CreatedAt = c.s.now()
	job.UpdatedAt = job.CreatedAt
	c.s.jobs[job.ID] = job
	return job, nil
}

func (c memJobs) FindJobByID(_ context.Context, id primitive.ObjectID) (*models.MaintenanceJob, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()
	j, ok := c.s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id.Hex(), models.ErrNotFound)
	}
	return &j, nil
}

func (c memJobs) HasOpenJob(_ context.Context, assetID primitive.ObjectID) (bool, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()
	for _, j := range c.s.jobs {
		if j.AssetID == assetID && j.Open {
			return true, nil
		}
	}
	return false, nil
}

func (c memJobs) UpdateJobType(ctx context.Context, id primitive.ObjectID, jobType models.JobType) error {
	defer c.s.lockWrite(ctx)()
	j, ok := c.s.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id.Hex(), models.ErrNotFound)
	}
	j.JobType = jobType
	j.UpdatedAt = c.s.now()
	c.s.jobs[id] = j
	return nil
}

type memDecisions struct{ s *MemoryStore }

func (c memDecisions) InsertDecision(ctx context.Context, decision models.ServiceUpgradeDecision) (models.ServiceUpgradeDecision, error) {
	defer c.s.lockWrite(ctx)()
	for _, d := range c.s.decisions {
		if d.JobID == decision.JobID {
			return decision, fmt.Errorf("job %s: %w", decision.JobID.Hex(), models.ErrDecisionExists)
		}
	}
	if decision.ID.IsZero() {
		decision.ID = primitive.NewObjectID()
	}
	c.s.decisions[decision.ID] = decision
	return decision, nil
}

func (c memDecisions) FindDecisionByJob(_ context.Context, jobID primitive.ObjectID) (*models.ServiceUpgradeDecision, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()
	for _, d := range c.s.decisions {
		if d.JobID == jobID {
			return &d, nil
		}
	}
	return nil, fmt.Errorf("decision for job %s: %w", jobID.Hex(), models.ErrNotFound)
}
