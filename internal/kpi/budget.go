package kpi

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Confidence qualifies how much historical data backed a
// recommendation's CAC figure.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Conversion-count thresholds for the confidence tiers.
const (
	lowConfidenceBelow = 20
	highConfidenceFrom = 100
)

// IndustryProfile calibrates the budget model for a vertical.
type IndustryProfile struct {
	// BaselineCAC is the fallback acquisition cost when the brand has
	// no usable historical CAC.
	BaselineCAC float64
	// DefaultARPC is the assumed average revenue per customer when the
	// caller supplies none.
	DefaultARPC float64
	// SafetyMargin is the multiplier (>1) absorbing CAC drift as spend
	// scales up.
	SafetyMargin float64
}

// IndustryProfiles maps industry categories to calibrated parameters.
var IndustryProfiles = map[string]IndustryProfile{
	"saas":       {BaselineCAC: 250, DefaultARPC: 120, SafetyMargin: 1.2},
	"ecommerce":  {BaselineCAC: 45, DefaultARPC: 65, SafetyMargin: 1.15},
	"agency":     {BaselineCAC: 400, DefaultARPC: 1500, SafetyMargin: 1.25},
	"coaching":   {BaselineCAC: 180, DefaultARPC: 500, SafetyMargin: 1.2},
	"consulting": {BaselineCAC: 350, DefaultARPC: 2000, SafetyMargin: 1.25},
	"education":  {BaselineCAC: 120, DefaultARPC: 200, SafetyMargin: 1.15},
	"other":      {BaselineCAC: 200, DefaultARPC: 150, SafetyMargin: 1.3},
}

// BudgetInput is the request for a spend recommendation.
type BudgetInput struct {
	BrandID string `json:"brand_id"`
	// MRR is the brand's current monthly recurring revenue.
	MRR float64 `json:"mrr"`
	// GrowthTargetPct is the desired month-over-month growth, percent.
	GrowthTargetPct float64 `json:"growth_target_pct"`
	Industry        string  `json:"industry"`
	// HistoricalCAC may be zero, in which case the recommender derives
	// CAC from the brand's monthly KPI snapshot, falling back to the
	// industry baseline.
	HistoricalCAC float64 `json:"historical_cac,omitempty"`
	// ARPC may be zero, in which case the industry default is used.
	ARPC float64 `json:"arpc,omitempty"`
}

// BudgetRecommendation is the derived, non-persistent output.
type BudgetRecommendation struct {
	RecommendedBudget    float64    `json:"recommended_budget"`
	RequiredNewCustomers float64    `json:"required_new_customers"`
	BasisCAC             float64    `json:"basis_cac"`
	GrowthTargetPct      float64    `json:"growth_target_pct"`
	Industry             string     `json:"industry"`
	Confidence           Confidence `json:"confidence"`
}

// Recommender proposes next-period ad spend from KPI output.
type Recommender struct {
	aggregator *Aggregator
	logger     *zap.Logger
}

// NewRecommender creates a budget recommender backed by the aggregator.
func NewRecommender(aggregator *Aggregator, logger *zap.Logger) *Recommender {
	return &Recommender{aggregator: aggregator, logger: logger}
}

// Recommend computes the spend needed to hit the growth target.
func (r *Recommender) Recommend(ctx context.Context, in BudgetInput) (*BudgetRecommendation, error) {
	if in.MRR < 0 {
		return nil, fmt.Errorf("mrr must be non-negative")
	}
	if in.GrowthTargetPct <= 0 {
		return nil, fmt.Errorf("growth target must be positive")
	}

	profile, ok := IndustryProfiles[in.Industry]
	if !ok {
		profile = IndustryProfiles["other"]
	}

	arpc := in.ARPC
	if arpc <= 0 {
		arpc = profile.DefaultARPC
	}

	basisCAC := in.HistoricalCAC
	confidence := ConfidenceHigh
	var observedConversions int64

	if basisCAC <= 0 {
		snapshot, err := r.aggregator.Snapshot(ctx, in.BrandID, Monthly, time.Now().UTC())
		if err != nil {
			return nil, fmt.Errorf("failed to derive historical CAC: %w", err)
		}
		observedConversions = snapshot.Conversions
		if snapshot.CAC != nil && *snapshot.CAC > 0 {
			basisCAC = *snapshot.CAC
		} else {
			basisCAC = profile.BaselineCAC
		}
		confidence = confidenceFor(observedConversions)
	}

	required := (in.MRR * in.GrowthTargetPct / 100) / arpc
	budget := required * basisCAC * profile.SafetyMargin

	if r.logger != nil {
		r.logger.Info("budget recommendation computed",
			zap.String("brand_id", in.BrandID),
			zap.Float64("recommended_budget", budget),
			zap.Float64("basis_cac", basisCAC),
			zap.String("confidence", string(confidence)),
		)
	}

	return &BudgetRecommendation{
		RecommendedBudget:    budget,
		RequiredNewCustomers: required,
		BasisCAC:             basisCAC,
		GrowthTargetPct:      in.GrowthTargetPct,
		Industry:             in.Industry,
		Confidence:           confidence,
	}, nil
}

func confidenceFor(conversions int64) Confidence {
	switch {
	case conversions < lowConfidenceBelow:
		return ConfidenceLow
	case conversions < highConfidenceFrom:
		return ConfidenceMedium
	default:
		return ConfidenceHigh
	}
}
