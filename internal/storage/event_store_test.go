package storage

import (
	"context"
	"testing"
	"time"

	"github.com/pulsemetric/attribution-engine/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryEventStore_QueryRangeOrderedAndBounded(t *testing.T) {
	store := NewInMemoryEventStore()
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	// Append out of order.
	require.NoError(t, store.Append(ctx, &models.MarketingEvent{ID: "e2", BrandID: "b1", Type: models.EventPageView, Timestamp: t0.Add(2 * time.Hour)}))
	require.NoError(t, store.Append(ctx, &models.MarketingEvent{ID: "e1", BrandID: "b1", Type: models.EventPageView, Timestamp: t0}))
	require.NoError(t, store.Append(ctx, &models.MarketingEvent{ID: "e3", BrandID: "b1", Type: models.EventPageView, Timestamp: t0.Add(4 * time.Hour)}))

	events, err := store.QueryRange(ctx, "b1", t0, t0.Add(4*time.Hour))
	require.NoError(t, err)

	// Ascending by timestamp, [from, to) bounds: e3 sits on the
	// exclusive upper bound.
	require.Len(t, events, 2)
	assert.Equal(t, "e1", events[0].ID)
	assert.Equal(t, "e2", events[1].ID)
}

func TestInMemoryEventStore_DuplicateAppendIgnored(t *testing.T) {
	store := NewInMemoryEventStore()
	ctx := context.Background()

	ev := &models.MarketingEvent{ID: "e1", BrandID: "b1", Type: models.EventPageView, Timestamp: time.Now()}
	require.NoError(t, store.Append(ctx, ev))
	require.NoError(t, store.Append(ctx, ev))

	assert.Equal(t, 1, store.Len())
}

func TestInMemoryEventStore_CountByType(t *testing.T) {
	store := NewInMemoryEventStore()
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.Append(ctx, &models.MarketingEvent{ID: "e1", BrandID: "b1", Type: models.EventPageView, Timestamp: t0}))
	require.NoError(t, store.Append(ctx, &models.MarketingEvent{ID: "e2", BrandID: "b1", Type: models.EventPageView, Timestamp: t0.Add(time.Hour)}))
	require.NoError(t, store.Append(ctx, &models.MarketingEvent{ID: "e3", BrandID: "b1", Type: models.EventTrialStarted, Timestamp: t0.Add(time.Hour)}))

	counts, err := store.CountByType(ctx, "b1", t0, t0.Add(24*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, int64(2), counts[models.EventPageView])
	assert.Equal(t, int64(1), counts[models.EventTrialStarted])
	assert.Zero(t, counts[models.EventChurned])
}

func TestInMemoryBrandRepo_IndexesStayConsistent(t *testing.T) {
	repo := NewInMemoryBrandRepo()
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, &models.Brand{ID: "b1", TrackingID: "trk1", APIKey: "key1"}))

	// Rotating the API key must drop the old index entry.
	require.NoError(t, repo.Upsert(ctx, &models.Brand{ID: "b1", TrackingID: "trk1", APIKey: "key2"}))

	stale, err := repo.GetByAPIKey(ctx, "key1")
	require.NoError(t, err)
	assert.Nil(t, stale)

	current, err := repo.GetByAPIKey(ctx, "key2")
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, "b1", current.ID)
}

func TestInMemorySpendRepo_OverwriteAndRange(t *testing.T) {
	repo := NewInMemorySpendRepo()
	ctx := context.Background()
	day1 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)

	require.NoError(t, repo.RecordSpend(ctx, "b1", day1, 100))
	require.NoError(t, repo.RecordSpend(ctx, "b1", day2, 50))
	// Re-recording a day overwrites, not accumulates.
	require.NoError(t, repo.RecordSpend(ctx, "b1", day1, 80))

	total, err := repo.SpendInRange(ctx, "b1", day1, day1.AddDate(0, 0, 7))
	require.NoError(t, err)
	assert.InDelta(t, 130.0, total, 1e-9)

	// [from, to): day2 is excluded when it is the upper bound.
	total, err = repo.SpendInRange(ctx, "b1", day1, day2)
	require.NoError(t, err)
	assert.InDelta(t, 80.0, total, 1e-9)
}
