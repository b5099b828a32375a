package storage

import (
	"context"
	"time"

	"github.com/pulsemetric/attribution-engine/internal/models"
)

// =============================================
// EVENT STORE
// =============================================

// EventStore defines the append-only write path and time-ranged read
// path for marketing events. Events are never mutated after Append.
type EventStore interface {
	// Append durably stores one event. Appends are idempotent on event ID.
	Append(ctx context.Context, ev *models.MarketingEvent) error

	// QueryRange returns a brand's events with from <= timestamp < to,
	// ordered by timestamp ascending.
	QueryRange(ctx context.Context, brandID string, from, to time.Time) ([]*models.MarketingEvent, error)

	// CountByType tallies a brand's events per type in [from, to).
	CountByType(ctx context.Context, brandID string, from, to time.Time) (map[models.EventType]int64, error)
}

// =============================================
// BRAND REPOSITORY
// =============================================

// BrandRepo defines operations for brand storage and API key lookup.
type BrandRepo interface {
	GetByID(ctx context.Context, id string) (*models.Brand, error)
	GetByTrackingID(ctx context.Context, trackingID string) (*models.Brand, error)
	GetByAPIKey(ctx context.Context, apiKey string) (*models.Brand, error)
	Upsert(ctx context.Context, b *models.Brand) error
}

// =============================================
// SPEND REPOSITORY
// =============================================

// SpendRepo stores externally synced ad-spend figures per brand and day.
// The KPI aggregator treats these as opaque numeric inputs.
type SpendRepo interface {
	// RecordSpend sets the spend figure for one brand and calendar day
	// (UTC). Re-recording a day overwrites it: the ad-platform sync is
	// the source of truth, not an increment stream.
	RecordSpend(ctx context.Context, brandID string, day time.Time, amount float64) error

	// SpendInRange sums spend for days overlapping [from, to).
	SpendInRange(ctx context.Context, brandID string, from, to time.Time) (float64, error)
}
