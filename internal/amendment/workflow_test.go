package amendment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ph0en1x29/FT-sub001/internal/db"
	"github.com/ph0en1x29/FT-sub001/internal/models"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var now = time.Date(2026, 4, 20, 14, 30, 0, 0, time.UTC)

type fixture struct {
	wf    *Workflow
	store *db.MemoryStore
	asset models.Asset
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := db.NewMemoryStore()
	logger, _ := test.NewNullLogger()
	wf := NewWorkflow(store, logger)
	wf.now = func() time.Time { return now }

	asset, err := store.Assets().InsertAsset(ctx, models.Asset{Name: "FL-12", Type: models.AssetDiesel})
	require.NoError(t, err)
	require.NoError(t, store.Assets().SetHourmeter(ctx, asset.ID, 1000, now.Add(-72*time.Hour), false))
	return &fixture{wf: wf, store: store, asset: asset}
}

// pending stores a flagged submission the way reading ingestion does.
func (f *fixture) pending(t *testing.T, amended float64) models.Amendment {
	t.Helper()
	a, err := f.store.Amendments().InsertAmendment(context.Background(), models.Amendment{
		AssetID:           f.asset.ID,
		OriginalReading:   1000,
		AmendedReading:    amended,
		AmendedRecordedAt: now.Add(-time.Hour),
		FlagReasons:       models.NewFlagSet(models.FlagExcessiveJump),
		Status:            models.AmendmentPending,
		RequestedBy:       "tech1",
		RequestedAt:       now.Add(-time.Hour),
	})
	require.NoError(t, err)
	return a
}

func (f *fixture) hourmeter(t *testing.T) float64 {
	t.Helper()
	a, err := f.store.Assets().FindAssetByID(context.Background(), f.asset.ID)
	require.NoError(t, err)
	return a.CurrentHourmeter
}

func TestApprove_AppliesAmendedReading(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.pending(t, 1800)

	got, err := f.wf.Approve(ctx, a.ID, "manager1", "engine swap, meter verified")
	require.NoError(t, err)

	assert.Equal(t, models.AmendmentApproved, got.Status)
	assert.Equal(t, "manager1", got.ReviewedBy)
	require.NotNil(t, got.ReviewedAt)
	assert.Equal(t, now, *got.ReviewedAt)
	assert.Equal(t, got.AmendedReading, f.hourmeter(t))

	readings, err := f.store.Readings().FindReadings(ctx, f.asset.ID, time.Time{})
	require.NoError(t, err)
	require.Len(t, readings, 1)
	assert.Equal(t, 1800.0, readings[0].Value)
	require.NotNil(t, readings[0].AmendmentID)
	assert.Equal(t, a.ID, *readings[0].AmendmentID)
}

func TestReject_LeavesAssetUnchanged(t *testing.T) {
	f := newFixture(t)
	a := f.pending(t, 1800)

	got, err := f.wf.Reject(context.Background(), a.ID, "manager1", "meter photo shows 1024")
	require.NoError(t, err)

	assert.Equal(t, models.AmendmentRejected, got.Status)
	assert.Equal(t, "meter photo shows 1024", got.ReviewNotes)
	assert.Equal(t, 1000.0, f.hourmeter(t))
}

func TestReject_RequiresNotes(t *testing.T) {
	f := newFixture(t)
	a := f.pending(t, 1800)

	for _, notes := range []string{"", "   ", "\n\t"} {
		_, err := f.wf.Reject(context.Background(), a.ID, "manager1", notes)
		var verr *models.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "review_notes", verr.Field)
	}

	still, err := f.wf.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AmendmentPending, still.Status)
}

func TestResolve_OnlyOnce(t *testing.T) {
	ctx := context.Background()

	second := []struct {
		name string
		call func(wf *Workflow, id primitive.ObjectID) error
	}{
		{"approve again", func(wf *Workflow, id primitive.ObjectID) error {
			_, err := wf.Approve(ctx, id, "manager2", "")
			return err
		}},
		{"reject after approve", func(wf *Workflow, id primitive.ObjectID) error {
			_, err := wf.Reject(ctx, id, "manager2", "too late")
			return err
		}},
	}

	for _, tt := range second {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			a := f.pending(t, 1090)
			_, err := f.wf.Approve(ctx, a.ID, "manager1", "")
			require.NoError(t, err)

			err = tt.call(f.wf, a.ID)
			var serr *models.InvalidStateError
			require.ErrorAs(t, err, &serr)
			assert.Equal(t, string(models.AmendmentApproved), serr.Current)
			assert.ErrorIs(t, err, models.ErrAmendmentResolved)
			assert.Equal(t, 1090.0, f.hourmeter(t))
		})
	}
}

func TestResolve_ConcurrentReviewersExactlyOneWins(t *testing.T) {
	f := newFixture(t)
	a := f.pending(t, 1500)
	ctx := context.Background()

	const reviewers = 10
	errs := make([]error, reviewers)
	var wg sync.WaitGroup
	for i := 0; i < reviewers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, errs[i] = f.wf.Approve(ctx, a.ID, "approver", "")
			} else {
				_, errs[i] = f.wf.Reject(ctx, a.ID, "rejecter", "bad reading")
			}
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.True(t, models.IsInvalidState(err), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, wins)

	final, err := f.wf.Get(ctx, a.ID)
	require.NoError(t, err)
	switch final.Status {
	case models.AmendmentApproved:
		assert.Equal(t, 1500.0, f.hourmeter(t))
	case models.AmendmentRejected:
		assert.Equal(t, 1000.0, f.hourmeter(t))
	default:
		t.Fatalf("amendment left in %s", final.Status)
	}
}

func TestRequest_ManualAmendmentSupersedesReading(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	wrong, err := f.store.Readings().InsertReading(ctx, models.Reading{
		AssetID:    f.asset.ID,
		Value:      1000,
		RecordedAt: now.Add(-72 * time.Hour),
	})
	require.NoError(t, err)

	a, err := f.wf.Request(ctx, RequestInput{
		AssetID:           f.asset.ID,
		ReadingID:         &wrong.ID,
		AmendedReading:    1010,
		AmendedRecordedAt: wrong.RecordedAt,
		RequestedBy:       "tech2",
	})
	require.NoError(t, err)
	assert.Equal(t, models.NewFlagSet(models.FlagManual), a.FlagReasons)
	assert.Equal(t, 1000.0, a.OriginalReading)
	assert.Equal(t, 1000.0, f.hourmeter(t))

	pending, err := f.wf.ListPending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	_, err = f.wf.Approve(ctx, a.ID, "manager1", "typo")
	require.NoError(t, err)
	assert.Equal(t, 1010.0, f.hourmeter(t))

	readings, err := f.store.Readings().FindReadings(ctx, f.asset.ID, time.Time{})
	require.NoError(t, err)
	current := db.Authoritative(readings)
	require.Len(t, current, 1)
	assert.Equal(t, 1010.0, current[0].Value)
}

func TestRequest_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := primitive.NewObjectID()
	foreign, err := f.store.Readings().InsertReading(ctx, models.Reading{AssetID: other, Value: 5, RecordedAt: now})
	require.NoError(t, err)

	tests := []struct {
		name  string
		in    RequestInput
		field string
	}{
		{"no timestamp", RequestInput{AssetID: f.asset.ID, AmendedReading: 1, RequestedBy: "t"}, "amended_recorded_at"},
		{"negative value", RequestInput{AssetID: f.asset.ID, AmendedReading: -1, AmendedRecordedAt: now, RequestedBy: "t"}, "amended_reading"},
		{"no requester", RequestInput{AssetID: f.asset.ID, AmendedReading: 1, AmendedRecordedAt: now}, "requested_by"},
		{"reading of another asset", RequestInput{AssetID: f.asset.ID, ReadingID: &foreign.ID, AmendedReading: 1, AmendedRecordedAt: now, RequestedBy: "t"}, "reading_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.wf.Request(ctx, tt.in)
			var verr *models.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}

	_, err = f.wf.Request(ctx, RequestInput{AssetID: other, AmendedReading: 1, AmendedRecordedAt: now, RequestedBy: "t"})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestList_UnknownStatus(t *testing.T) {
	f := newFixture(t)
	_, err := f.wf.List(context.Background(), "archived")
	assert.True(t, models.IsValidation(err))
}
