package kpi

import (
	"context"
	"fmt"
	"time"

	"github.com/pulsemetric/attribution-engine/internal/channel"
	"github.com/pulsemetric/attribution-engine/internal/models"
	"github.com/pulsemetric/attribution-engine/internal/storage"
	"go.uber.org/zap"
)

// Period identifies a KPI bucketing granularity.
type Period string

const (
	Realtime Period = "realtime"
	Hourly   Period = "hourly"
	Daily    Period = "daily"
	Weekly   Period = "weekly"
	Monthly  Period = "monthly"
)

// AllPeriods lists every supported period.
var AllPeriods = []Period{Realtime, Hourly, Daily, Weekly, Monthly}

// realtimeWindow is the instant-view span for the realtime period.
const realtimeWindow = 5 * time.Minute

// RefreshInterval returns how often a snapshot for the period is worth
// recomputing. Dashboards use it to schedule their next poll.
func RefreshInterval(p Period) time.Duration {
	switch p {
	case Realtime:
		return 30 * time.Second
	case Hourly:
		return 5 * time.Minute
	default:
		return 15 * time.Minute
	}
}

// ParsePeriod validates a period name from an API request.
func ParsePeriod(s string) (Period, error) {
	for _, p := range AllPeriods {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown period: %q", s)
}

// WindowFor returns the calendar-aligned [start, end) window containing
// asOf. Weekly windows start Monday; all alignment is UTC.
func WindowFor(period Period, asOf time.Time) (time.Time, time.Time) {
	asOf = asOf.UTC()

	switch period {
	case Realtime:
		return asOf.Add(-realtimeWindow), asOf
	case Hourly:
		start := asOf.Truncate(time.Hour)
		return start, start.Add(time.Hour)
	case Daily:
		start := time.Date(asOf.Year(), asOf.Month(), asOf.Day(), 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 0, 1)
	case Weekly:
		day := time.Date(asOf.Year(), asOf.Month(), asOf.Day(), 0, 0, 0, 0, time.UTC)
		offset := (int(day.Weekday()) + 6) % 7 // Monday = 0
		start := day.AddDate(0, 0, -offset)
		return start, start.AddDate(0, 0, 7)
	case Monthly:
		start := time.Date(asOf.Year(), asOf.Month(), 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 1, 0)
	default:
		start := time.Date(asOf.Year(), asOf.Month(), asOf.Day(), 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 0, 1)
	}
}

// Snapshot is a point-in-time KPI rollup for one brand over one
// period window. CAC and ROAS are nil when their denominator is zero;
// the remaining ratios use 0 as their zero-denominator sentinel.
type Snapshot struct {
	BrandID     string    `json:"brand_id"`
	Period      Period    `json:"period"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`

	// Funnel counts
	PageViews      int64 `json:"page_views"`
	UniqueVisitors int64 `json:"unique_visitors"`
	Leads          int64 `json:"leads"`
	QualifiedLeads int64 `json:"qualified_leads"`
	Trials         int64 `json:"trials"`
	Conversions    int64 `json:"conversions"`
	Churned        int64 `json:"churned"`

	Revenue float64 `json:"revenue"`
	AdSpend float64 `json:"ad_spend"`

	// Derived ratios, always recomputed from this snapshot's own counts
	ConversionRate float64  `json:"conversion_rate"`
	CAC            *float64 `json:"cac"`
	ROAS           *float64 `json:"roas"`
	CPA            float64  `json:"cpa"`
	ChurnRate      float64  `json:"churn_rate"`

	TrafficByChannel map[channel.Channel]int64 `json:"traffic_by_channel"`

	GeneratedAt time.Time `json:"generated_at"`
}

// Comparison pairs a snapshot with its previous-period counterpart and
// the per-metric percent changes between them.
type Comparison struct {
	Current  *Snapshot          `json:"current"`
	Previous *Snapshot          `json:"previous"`
	Changes  map[string]float64 `json:"changes"`
}

// Aggregator computes KPI snapshots from the event store and the
// externally supplied spend figures.
type Aggregator struct {
	store      storage.EventStore
	spend      storage.SpendRepo
	classifier *channel.Classifier
	logger     *zap.Logger
}

// NewAggregator creates a KPI aggregator.
func NewAggregator(store storage.EventStore, spend storage.SpendRepo, classifier *channel.Classifier, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		store:      store,
		spend:      spend,
		classifier: classifier,
		logger:     logger,
	}
}

// Snapshot computes the KPI rollup for the period window containing
// asOf.
func (a *Aggregator) Snapshot(ctx context.Context, brandID string, period Period, asOf time.Time) (*Snapshot, error) {
	start, end := WindowFor(period, asOf)
	return a.snapshotWindow(ctx, brandID, period, start, end)
}

// PreviousSnapshot computes the rollup for the window immediately
// before the one containing asOf.
func (a *Aggregator) PreviousSnapshot(ctx context.Context, brandID string, period Period, asOf time.Time) (*Snapshot, error) {
	start, end := WindowFor(period, asOf)
	span := end.Sub(start)
	return a.snapshotWindow(ctx, brandID, period, start.Add(-span), start)
}

func (a *Aggregator) snapshotWindow(ctx context.Context, brandID string, period Period, start, end time.Time) (*Snapshot, error) {
	counts, err := a.store.CountByType(ctx, brandID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}

	events, err := a.store.QueryRange(ctx, brandID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}

	spend, err := a.spend.SpendInRange(ctx, brandID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to read ad spend: %w", err)
	}

	s := &Snapshot{
		BrandID:          brandID,
		Period:           period,
		WindowStart:      start,
		WindowEnd:        end,
		PageViews:        counts[models.EventPageView],
		Leads:            counts[models.EventLeadCaptured],
		QualifiedLeads:   counts[models.EventLeadQualified],
		Trials:           counts[models.EventTrialStarted],
		Conversions:      counts[models.EventSubscriptionStarted] + counts[models.EventPaymentSucceeded],
		Churned:          counts[models.EventChurned],
		AdSpend:          spend,
		TrafficByChannel: make(map[channel.Channel]int64),
		GeneratedAt:      time.Now().UTC(),
	}

	visitors := make(map[string]struct{})
	for _, e := range events {
		s.Revenue += e.Revenue

		if !e.IsNavigation() {
			continue
		}
		ch := a.classifier.Classify(e.UTMSource, e.UTMMedium, e.Referrer)
		s.TrafficByChannel[ch]++
		if id := visitorID(e); id != "" {
			visitors[id] = struct{}{}
		}
	}
	s.UniqueVisitors = int64(len(visitors))

	s.computeRatios()

	if a.logger != nil {
		a.logger.Debug("kpi snapshot computed",
			zap.String("brand_id", brandID),
			zap.String("period", string(period)),
			zap.Time("window_start", start),
			zap.Int64("conversions", s.Conversions),
		)
	}

	return s, nil
}

// computeRatios derives every ratio from this snapshot's own counts.
func (s *Snapshot) computeRatios() {
	if s.Leads > 0 {
		s.ConversionRate = float64(s.Conversions) / float64(s.Leads)
		s.CPA = s.AdSpend / float64(s.Leads)
	} else {
		s.ConversionRate = 0
		s.CPA = 0
	}

	if s.Conversions > 0 {
		cac := s.AdSpend / float64(s.Conversions)
		s.CAC = &cac
		s.ChurnRate = float64(s.Churned) / float64(s.Conversions)
	} else {
		s.CAC = nil
		s.ChurnRate = 0
	}

	if s.AdSpend > 0 {
		roas := s.Revenue / s.AdSpend
		s.ROAS = &roas
	} else {
		s.ROAS = nil
	}
}

// Compare computes current and previous snapshots for the period
// containing asOf and the percent change per core metric.
func (a *Aggregator) Compare(ctx context.Context, brandID string, period Period, asOf time.Time) (*Comparison, error) {
	current, err := a.Snapshot(ctx, brandID, period, asOf)
	if err != nil {
		return nil, err
	}
	previous, err := a.PreviousSnapshot(ctx, brandID, period, asOf)
	if err != nil {
		return nil, err
	}

	changes := map[string]float64{
		"page_views":      percentChange(float64(current.PageViews), float64(previous.PageViews)),
		"unique_visitors": percentChange(float64(current.UniqueVisitors), float64(previous.UniqueVisitors)),
		"leads":           percentChange(float64(current.Leads), float64(previous.Leads)),
		"trials":          percentChange(float64(current.Trials), float64(previous.Trials)),
		"conversions":     percentChange(float64(current.Conversions), float64(previous.Conversions)),
		"revenue":         percentChange(current.Revenue, previous.Revenue),
		"ad_spend":        percentChange(current.AdSpend, previous.AdSpend),
	}

	return &Comparison{
		Current:  current,
		Previous: previous,
		Changes:  changes,
	}, nil
}

// percentChange is 0 when the previous value is 0.
func percentChange(current, previous float64) float64 {
	if previous == 0 {
		return 0
	}
	return (current - previous) / previous * 100
}

func visitorID(e *models.MarketingEvent) string {
	if e.UserID != "" {
		return "user:" + e.UserID
	}
	if e.AnonymousID != "" {
		return "anon:" + e.AnonymousID
	}
	if e.SessionID != "" {
		return "session:" + e.SessionID
	}
	return ""
}
