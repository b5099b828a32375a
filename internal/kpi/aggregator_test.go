package kpi

import (
	"context"
	"testing"
	"time"

	"github.com/pulsemetric/attribution-engine/internal/channel"
	"github.com/pulsemetric/attribution-engine/internal/models"
	"github.com/pulsemetric/attribution-engine/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAggregator(t *testing.T) (*Aggregator, *storage.InMemoryEventStore, *storage.InMemorySpendRepo) {
	t.Helper()
	store := storage.NewInMemoryEventStore()
	spend := storage.NewInMemorySpendRepo()
	agg := NewAggregator(store, spend, channel.NewClassifier(channel.DefaultRules()), nil)
	return agg, store, spend
}

func seedEvent(t *testing.T, store *storage.InMemoryEventStore, ev *models.MarketingEvent) {
	t.Helper()
	require.NoError(t, store.Append(context.Background(), ev))
}

func TestWindowFor(t *testing.T) {
	asOf := time.Date(2026, 3, 18, 14, 35, 12, 0, time.UTC) // a Wednesday

	t.Run("hourly", func(t *testing.T) {
		start, end := WindowFor(Hourly, asOf)
		assert.Equal(t, time.Date(2026, 3, 18, 14, 0, 0, 0, time.UTC), start)
		assert.Equal(t, time.Date(2026, 3, 18, 15, 0, 0, 0, time.UTC), end)
	})

	t.Run("daily", func(t *testing.T) {
		start, end := WindowFor(Daily, asOf)
		assert.Equal(t, time.Date(2026, 3, 18, 0, 0, 0, 0, time.UTC), start)
		assert.Equal(t, time.Date(2026, 3, 19, 0, 0, 0, 0, time.UTC), end)
	})

	t.Run("weekly starts monday", func(t *testing.T) {
		start, end := WindowFor(Weekly, asOf)
		assert.Equal(t, time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC), start)
		assert.Equal(t, time.Date(2026, 3, 23, 0, 0, 0, 0, time.UTC), end)
		assert.Equal(t, time.Monday, start.Weekday())
	})

	t.Run("monthly", func(t *testing.T) {
		start, end := WindowFor(Monthly, asOf)
		assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), start)
		assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), end)
	})

	t.Run("realtime ends at asOf", func(t *testing.T) {
		start, end := WindowFor(Realtime, asOf)
		assert.Equal(t, asOf, end)
		assert.Equal(t, asOf.Add(-5*time.Minute), start)
	})
}

func TestAggregator_Snapshot_FunnelCounts(t *testing.T) {
	agg, store, spend := newTestAggregator(t)
	day := time.Date(2026, 3, 18, 10, 0, 0, 0, time.UTC)

	seedEvent(t, store, &models.MarketingEvent{ID: "e1", BrandID: "b1", Type: models.EventPageView, Timestamp: day, AnonymousID: "a1", UTMSource: "google", UTMMedium: "cpc"})
	seedEvent(t, store, &models.MarketingEvent{ID: "e2", BrandID: "b1", Type: models.EventPageView, Timestamp: day.Add(time.Hour), AnonymousID: "a2"})
	seedEvent(t, store, &models.MarketingEvent{ID: "e3", BrandID: "b1", Type: models.EventLeadCaptured, Timestamp: day.Add(2 * time.Hour), AnonymousID: "a1"})
	seedEvent(t, store, &models.MarketingEvent{ID: "e4", BrandID: "b1", Type: models.EventTrialStarted, Timestamp: day.Add(3 * time.Hour), AnonymousID: "a1"})
	seedEvent(t, store, &models.MarketingEvent{ID: "e5", BrandID: "b1", Type: models.EventSubscriptionStarted, Timestamp: day.Add(4 * time.Hour), AnonymousID: "a1", Revenue: 199})
	require.NoError(t, spend.RecordSpend(context.Background(), "b1", day, 100))

	s, err := agg.Snapshot(context.Background(), "b1", Daily, day)
	require.NoError(t, err)

	assert.Equal(t, int64(2), s.PageViews)
	assert.Equal(t, int64(2), s.UniqueVisitors)
	assert.Equal(t, int64(1), s.Leads)
	assert.Equal(t, int64(1), s.Trials)
	assert.Equal(t, int64(1), s.Conversions)
	assert.InDelta(t, 199.0, s.Revenue, 1e-9)
	assert.InDelta(t, 100.0, s.AdSpend, 1e-9)

	// Traffic breakdown classifies navigation events only.
	assert.Equal(t, int64(1), s.TrafficByChannel[channel.PaidSearch])
	assert.Equal(t, int64(1), s.TrafficByChannel[channel.Direct])

	// Derived ratios from this snapshot's own counts.
	assert.InDelta(t, 1.0, s.ConversionRate, 1e-9)
	require.NotNil(t, s.CAC)
	assert.InDelta(t, 100.0, *s.CAC, 1e-9)
	require.NotNil(t, s.ROAS)
	assert.InDelta(t, 1.99, *s.ROAS, 1e-9)
	assert.InDelta(t, 100.0, s.CPA, 1e-9)
}

func TestAggregator_Snapshot_RatioSentinels(t *testing.T) {
	agg, store, _ := newTestAggregator(t)
	day := time.Date(2026, 3, 18, 10, 0, 0, 0, time.UTC)

	// Only traffic: no leads, no conversions, no spend.
	seedEvent(t, store, &models.MarketingEvent{ID: "e1", BrandID: "b1", Type: models.EventPageView, Timestamp: day, AnonymousID: "a1"})

	s, err := agg.Snapshot(context.Background(), "b1", Daily, day)
	require.NoError(t, err)

	assert.Zero(t, s.ConversionRate)
	assert.Zero(t, s.CPA)
	assert.Zero(t, s.ChurnRate)
	assert.Nil(t, s.CAC)
	assert.Nil(t, s.ROAS)
}

func TestAggregator_Snapshot_EmptyWindow(t *testing.T) {
	agg, _, _ := newTestAggregator(t)

	s, err := agg.Snapshot(context.Background(), "b1", Daily, time.Now().UTC())
	require.NoError(t, err)

	assert.Zero(t, s.PageViews)
	assert.Zero(t, s.Conversions)
	assert.Nil(t, s.CAC)
	assert.Nil(t, s.ROAS)
}

func TestAggregator_Compare(t *testing.T) {
	agg, store, _ := newTestAggregator(t)
	today := time.Date(2026, 3, 18, 12, 0, 0, 0, time.UTC)
	yesterday := today.AddDate(0, 0, -1)

	seedEvent(t, store, &models.MarketingEvent{ID: "y1", BrandID: "b1", Type: models.EventPageView, Timestamp: yesterday, AnonymousID: "a1"})
	seedEvent(t, store, &models.MarketingEvent{ID: "t1", BrandID: "b1", Type: models.EventPageView, Timestamp: today, AnonymousID: "a1"})
	seedEvent(t, store, &models.MarketingEvent{ID: "t2", BrandID: "b1", Type: models.EventPageView, Timestamp: today.Add(time.Hour), AnonymousID: "a2"})

	c, err := agg.Compare(context.Background(), "b1", Daily, today)
	require.NoError(t, err)

	assert.Equal(t, int64(2), c.Current.PageViews)
	assert.Equal(t, int64(1), c.Previous.PageViews)
	assert.InDelta(t, 100.0, c.Changes["page_views"], 1e-9)

	// Metrics that were zero yesterday report 0% change, not infinity.
	assert.Zero(t, c.Changes["conversions"])
}

func TestPercentChange(t *testing.T) {
	assert.InDelta(t, 50.0, percentChange(150, 100), 1e-9)
	assert.InDelta(t, -25.0, percentChange(75, 100), 1e-9)
	assert.Zero(t, percentChange(100, 0))
	assert.Zero(t, percentChange(0, 0))
}

func TestParsePeriod(t *testing.T) {
	for _, p := range AllPeriods {
		parsed, err := ParsePeriod(string(p))
		require.NoError(t, err)
		assert.Equal(t, p, parsed)
	}

	_, err := ParsePeriod("fortnightly")
	assert.Error(t, err)
}

func TestRefreshInterval(t *testing.T) {
	assert.Equal(t, 30*time.Second, RefreshInterval(Realtime))
	assert.Equal(t, 5*time.Minute, RefreshInterval(Hourly))
	assert.Equal(t, 15*time.Minute, RefreshInterval(Daily))
	assert.Equal(t, 15*time.Minute, RefreshInterval(Monthly))
}

func TestAggregator_Snapshot_ExcludesOtherBrands(t *testing.T) {
	agg, store, _ := newTestAggregator(t)
	day := time.Date(2026, 3, 18, 10, 0, 0, 0, time.UTC)

	seedEvent(t, store, &models.MarketingEvent{ID: "e1", BrandID: "b1", Type: models.EventPageView, Timestamp: day, AnonymousID: "a1"})
	seedEvent(t, store, &models.MarketingEvent{ID: "e2", BrandID: "b2", Type: models.EventPageView, Timestamp: day, AnonymousID: "a2"})

	s, err := agg.Snapshot(context.Background(), "b1", Daily, day)
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.PageViews)
}
