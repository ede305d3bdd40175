package db

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ph0en1x29/FT-sub001/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestAuthoritative(t *testing.T) {
	orig := models.Reading{ID: primitive.NewObjectID(), Value: 1800}
	other := models.Reading{ID: primitive.NewObjectID(), Value: 900}
	amended := models.Reading{ID: primitive.NewObjectID(), Value: 1080, SupersedesID: &orig.ID}

	got := Authoritative([]models.Reading{other, orig, amended})

	require.Len(t, got, 2)
	assert.Equal(t, other.ID, got[0].ID)
	assert.Equal(t, amended.ID, got[1].ID)
}

func TestMemoryStore_SetHourmeterOnlyIfNewer(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	asset, err := s.Assets().InsertAsset(ctx, models.Asset{Name: "FL-7", Type: models.AssetLPG})
	require.NoError(t, err)

	at := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, s.Assets().SetHourmeter(ctx, asset.ID, 120, at, true))

	err = s.Assets().SetHourmeter(ctx, asset.ID, 110, at, true)
	assert.ErrorIs(t, err, models.ErrConcurrentUpdate)

	require.NoError(t, s.Assets().SetHourmeter(ctx, asset.ID, 110, at, false))
	got, err := s.Assets().FindAssetByID(ctx, asset.ID)
	require.NoError(t, err)
	assert.Equal(t, 110.0, got.CurrentHourmeter)

	err = s.Assets().SetHourmeter(ctx, primitive.NewObjectID(), 1, at, false)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestMemoryStore_ResolveAmendmentIsCompareAndSet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	a, err := s.Amendments().InsertAmendment(ctx, models.Amendment{Status: models.AmendmentPending})
	require.NoError(t, err)

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status := models.AmendmentApproved
			if i%2 == 1 {
				status = models.AmendmentRejected
			}
			_, err := s.Amendments().ResolveAmendment(ctx, a.ID, 0, models.Resolution{Status: status, ReviewedAt: time.Now()})
			if err == nil {
				atomic.AddInt32(&wins, 1)
				return
			}
			assert.ErrorIs(t, err, models.ErrAmendmentResolved)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
	got, err := s.Amendments().FindAmendmentByID(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.Status.Terminal())
	assert.Equal(t, int64(1), got.Version)
}

func TestMemoryStore_UniqueConstraints(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	assetID := primitive.NewObjectID()

	_, err := s.Jobs().InsertJob(ctx, models.MaintenanceJob{AssetID: assetID, Status: models.JobCompleted})
	require.NoError(t, err)
	job, err := s.Jobs().InsertJob(ctx, models.MaintenanceJob{AssetID: assetID, Status: models.JobScheduled})
	require.NoError(t, err)
	_, err = s.Jobs().InsertJob(ctx, models.MaintenanceJob{AssetID: assetID, Status: models.JobInProgress})
	assert.ErrorIs(t, err, models.ErrOpenJobExists)

	open, err := s.Jobs().HasOpenJob(ctx, assetID)
	require.NoError(t, err)
	assert.True(t, open)

	_, err = s.Decisions().InsertDecision(ctx, models.ServiceUpgradeDecision{JobID: job.ID, Decision: models.UpgradeDeclined})
	require.NoError(t, err)
	_, err = s.Decisions().InsertDecision(ctx, models.ServiceUpgradeDecision{JobID: job.ID, Decision: models.UpgradeAccepted})
	assert.ErrorIs(t, err, models.ErrDecisionExists)
}

func TestMemoryStore_TransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	asset, err := s.Assets().InsertAsset(ctx, models.Asset{Name: "FL-2", Type: models.AssetElectric})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.RunInTransaction(ctx, func(ctx context.Context) error {
		if _, err := s.Readings().InsertReading(ctx, models.Reading{AssetID: asset.ID, Value: 50, RecordedAt: time.Now()}); err != nil {
			return err
		}
		if err := s.Assets().SetHourmeter(ctx, asset.ID, 50, time.Now(), true); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	readings, err := s.Readings().FindReadings(ctx, asset.ID, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, readings)
	got, err := s.Assets().FindAssetByID(ctx, asset.ID)
	require.NoError(t, err)
	assert.Zero(t, got.CurrentHourmeter)
	assert.Nil(t, got.LastReadingAt)
}

func TestMemoryStore_FindReadingsOrdersOldestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	assetID := primitive.NewObjectID()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for _, d := range []int{3, 1, 2, 0} {
		_, err := s.Readings().InsertReading(ctx, models.Reading{
			AssetID:    assetID,
			Value:      float64(d * 10),
			RecordedAt: base.AddDate(0, 0, d),
		})
		require.NoError(t, err)
	}

	got, err := s.Readings().FindReadings(ctx, assetID, base.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 10.0, got[0].Value)
	assert.Equal(t, 20.0, got[1].Value)
	assert.Equal(t, 30.0, got[2].Value)
}
