package kpi

import (
	"context"
	"testing"
	"time"

	"github.com/pulsemetric/attribution-engine/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecommender_Recommend_WithSuppliedCAC(t *testing.T) {
	agg, _, _ := newTestAggregator(t)
	rec := NewRecommender(agg, nil)

	out, err := rec.Recommend(context.Background(), BudgetInput{
		BrandID:         "b1",
		MRR:             10000,
		GrowthTargetPct: 10,
		Industry:        "saas",
		HistoricalCAC:   200,
		ARPC:            100,
	})
	require.NoError(t, err)

	// required = (10000 * 0.10) / 100 = 10 customers
	assert.InDelta(t, 10.0, out.RequiredNewCustomers, 1e-9)
	// budget = 10 * 200 * 1.2 (saas safety margin)
	assert.InDelta(t, 2400.0, out.RecommendedBudget, 1e-9)
	assert.InDelta(t, 200.0, out.BasisCAC, 1e-9)
	// A caller-supplied CAC is trusted at face value.
	assert.Equal(t, ConfidenceHigh, out.Confidence)
}

func TestRecommender_Recommend_DerivesCACFromSnapshot(t *testing.T) {
	agg, store, spend := newTestAggregator(t)
	rec := NewRecommender(agg, nil)

	now := time.Now().UTC()
	monthStart, _ := WindowFor(Monthly, now)

	// 5 conversions this month with $500 spend: CAC = 100.
	for i := 0; i < 5; i++ {
		seedEvent(t, store, &models.MarketingEvent{
			ID:        string(rune('a' + i)),
			BrandID:   "b1",
			Type:      models.EventSubscriptionStarted,
			Timestamp: monthStart.Add(time.Duration(i+1) * time.Hour),
			UserID:    "u1",
		})
	}
	require.NoError(t, spend.RecordSpend(context.Background(), "b1", monthStart, 500))

	out, err := rec.Recommend(context.Background(), BudgetInput{
		BrandID:         "b1",
		MRR:             10000,
		GrowthTargetPct: 10,
		Industry:        "saas",
		ARPC:            100,
	})
	require.NoError(t, err)

	assert.InDelta(t, 100.0, out.BasisCAC, 1e-9)
	// Only 5 observed conversions backing the figure.
	assert.Equal(t, ConfidenceLow, out.Confidence)
}

func TestRecommender_Recommend_FallsBackToIndustryBaseline(t *testing.T) {
	agg, _, _ := newTestAggregator(t)
	rec := NewRecommender(agg, nil)

	out, err := rec.Recommend(context.Background(), BudgetInput{
		BrandID:         "b1",
		MRR:             5000,
		GrowthTargetPct: 20,
		Industry:        "ecommerce",
	})
	require.NoError(t, err)

	assert.InDelta(t, IndustryProfiles["ecommerce"].BaselineCAC, out.BasisCAC, 1e-9)
	assert.Equal(t, ConfidenceLow, out.Confidence)
}

func TestRecommender_Recommend_UnknownIndustry(t *testing.T) {
	agg, _, _ := newTestAggregator(t)
	rec := NewRecommender(agg, nil)

	out, err := rec.Recommend(context.Background(), BudgetInput{
		BrandID:         "b1",
		MRR:             5000,
		GrowthTargetPct: 10,
		Industry:        "submarine_rentals",
		HistoricalCAC:   100,
		ARPC:            50,
	})
	require.NoError(t, err)

	// Falls back to the "other" profile's safety margin.
	expected := (5000 * 0.10 / 50) * 100 * IndustryProfiles["other"].SafetyMargin
	assert.InDelta(t, expected, out.RecommendedBudget, 1e-9)
}

func TestRecommender_Recommend_InvalidInput(t *testing.T) {
	agg, _, _ := newTestAggregator(t)
	rec := NewRecommender(agg, nil)

	_, err := rec.Recommend(context.Background(), BudgetInput{BrandID: "b1", MRR: -1, GrowthTargetPct: 10})
	assert.Error(t, err)

	_, err = rec.Recommend(context.Background(), BudgetInput{BrandID: "b1", MRR: 1000, GrowthTargetPct: 0})
	assert.Error(t, err)
}

func TestConfidenceFor(t *testing.T) {
	assert.Equal(t, ConfidenceLow, confidenceFor(0))
	assert.Equal(t, ConfidenceLow, confidenceFor(19))
	assert.Equal(t, ConfidenceMedium, confidenceFor(20))
	assert.Equal(t, ConfidenceMedium, confidenceFor(99))
	assert.Equal(t, ConfidenceHigh, confidenceFor(100))
}
