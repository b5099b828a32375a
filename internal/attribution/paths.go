package attribution

import (
	"context"
	"fmt"
	"time"

	"github.com/pulsemetric/attribution-engine/internal/channel"
	"github.com/pulsemetric/attribution-engine/internal/models"
	"github.com/pulsemetric/attribution-engine/internal/storage"
	"go.uber.org/zap"
)

// Touchpoint is a single marketing interaction on a conversion path.
type Touchpoint struct {
	Channel     channel.Channel `json:"channel"`
	Timestamp   time.Time       `json:"timestamp"`
	UTMSource   string          `json:"utm_source,omitempty"`
	UTMMedium   string          `json:"utm_medium,omitempty"`
	UTMCampaign string          `json:"utm_campaign,omitempty"`
}

// ConversionPath is the ordered sequence of touchpoints that preceded
// a single conversion for one identity.
type ConversionPath struct {
	Identity       string       `json:"identity"`
	Touchpoints    []Touchpoint `json:"touchpoints"`
	ConvertedAt    time.Time    `json:"converted_at"`
	ConversionType string       `json:"conversion_type"`
	Revenue        float64      `json:"revenue"`
}

// ReconstructorConfig controls path reconstruction.
type ReconstructorConfig struct {
	// Lookback bounds how far before a conversion touchpoints count.
	Lookback time.Duration
	// CollapseInterval merges consecutive same-channel touchpoints
	// closer together than this into one.
	CollapseInterval time.Duration
	// ConversionTypes lists the event types that terminate a path.
	ConversionTypes []string
}

// Reconstructor turns a brand's raw event stream into conversion paths.
type Reconstructor struct {
	store      storage.EventStore
	classifier *channel.Classifier
	cfg        ReconstructorConfig
	logger     *zap.Logger
}

// NewReconstructor creates a path reconstructor.
func NewReconstructor(store storage.EventStore, classifier *channel.Classifier, cfg ReconstructorConfig, logger *zap.Logger) *Reconstructor {
	return &Reconstructor{
		store:      store,
		classifier: classifier,
		cfg:        cfg,
		logger:     logger,
	}
}

// identityIndex resolves events to stable identities. An anonymous
// visitor is merged into an authenticated user only when both appear
// in the same session; cross-device journeys without a shared session
// stay separate identities.
type identityIndex struct {
	sessionOwner map[string]string // session_id -> user_id
	anonOwner    map[string]string // anonymous_id -> user_id
}

// BuildIdentityIndex scans events and links anonymous ids to the users
// they share sessions with.
func BuildIdentityIndex(events []*models.MarketingEvent) *identityIndex {
	idx := &identityIndex{
		sessionOwner: make(map[string]string),
		anonOwner:    make(map[string]string),
	}

	for _, e := range events {
		if e.UserID == "" || e.SessionID == "" {
			continue
		}
		if _, ok := idx.sessionOwner[e.SessionID]; !ok {
			idx.sessionOwner[e.SessionID] = e.UserID
		}
	}

	for _, e := range events {
		if e.AnonymousID == "" || e.SessionID == "" {
			continue
		}
		if owner, ok := idx.sessionOwner[e.SessionID]; ok {
			if _, seen := idx.anonOwner[e.AnonymousID]; !seen {
				idx.anonOwner[e.AnonymousID] = owner
			}
		}
	}

	return idx
}

// IdentityOf returns the stable identity for an event, or "" when the
// event carries no usable identifier at all.
func (idx *identityIndex) IdentityOf(e *models.MarketingEvent) string {
	if e.UserID != "" {
		return "user:" + e.UserID
	}
	if e.AnonymousID != "" {
		if owner, ok := idx.anonOwner[e.AnonymousID]; ok {
			return "user:" + owner
		}
		return "anon:" + e.AnonymousID
	}
	if e.SessionID != "" {
		if owner, ok := idx.sessionOwner[e.SessionID]; ok {
			return "user:" + owner
		}
		return "session:" + e.SessionID
	}
	return ""
}

// Paths reconstructs all conversion paths for conversions that
// happened in [from, to). Touchpoints are gathered from the lookback
// window before each conversion.
func (r *Reconstructor) Paths(ctx context.Context, brandID string, from, to time.Time) ([]*ConversionPath, error) {
	events, err := r.store.QueryRange(ctx, brandID, from.Add(-r.cfg.Lookback), to)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}

	idx := BuildIdentityIndex(events)

	// Touchpoint candidates per identity, in event-stream order.
	type candidate struct {
		event *models.MarketingEvent
		tp    Touchpoint
	}
	candidates := make(map[string][]candidate)
	var conversions []*models.MarketingEvent

	for _, e := range events {
		identity := idx.IdentityOf(e)
		if identity == "" {
			continue
		}

		if r.isConversion(e) && !e.Timestamp.Before(from) && e.Timestamp.Before(to) {
			conversions = append(conversions, e)
		}

		if !e.IsNavigation() {
			continue
		}
		candidates[identity] = append(candidates[identity], candidate{
			event: e,
			tp: Touchpoint{
				Channel:     r.classifier.Classify(e.UTMSource, e.UTMMedium, e.Referrer),
				Timestamp:   e.Timestamp,
				UTMSource:   e.UTMSource,
				UTMMedium:   e.UTMMedium,
				UTMCampaign: e.UTMCampaign,
			},
		})
	}

	paths := make([]*ConversionPath, 0, len(conversions))
	for _, conv := range conversions {
		identity := idx.IdentityOf(conv)
		windowStart := conv.Timestamp.Add(-r.cfg.Lookback)

		var touchpoints []Touchpoint
		for _, c := range candidates[identity] {
			if c.event.Timestamp.Before(windowStart) || c.event.Timestamp.After(conv.Timestamp) {
				continue
			}
			touchpoints = append(touchpoints, c.tp)
		}

		touchpoints = r.collapse(touchpoints)

		// A conversion with no preceding marketing touch still gets a
		// path: the conversion event itself becomes the sole
		// touchpoint so credit has somewhere to land.
		if len(touchpoints) == 0 {
			touchpoints = []Touchpoint{{
				Channel:     r.classifier.Classify(conv.UTMSource, conv.UTMMedium, conv.Referrer),
				Timestamp:   conv.Timestamp,
				UTMSource:   conv.UTMSource,
				UTMMedium:   conv.UTMMedium,
				UTMCampaign: conv.UTMCampaign,
			}}
		}

		paths = append(paths, &ConversionPath{
			Identity:       identity,
			Touchpoints:    touchpoints,
			ConvertedAt:    conv.Timestamp,
			ConversionType: string(conv.Type),
			Revenue:        conv.Revenue,
		})
	}

	if r.logger != nil {
		r.logger.Debug("reconstructed conversion paths",
			zap.String("brand_id", brandID),
			zap.Int("events", len(events)),
			zap.Int("paths", len(paths)),
		)
	}

	return paths, nil
}

// collapse merges runs of same-channel touchpoints closer together
// than the collapse interval, keeping the earliest of each run.
func (r *Reconstructor) collapse(tps []Touchpoint) []Touchpoint {
	if len(tps) < 2 || r.cfg.CollapseInterval <= 0 {
		return tps
	}

	out := tps[:1]
	for _, tp := range tps[1:] {
		last := out[len(out)-1]
		if tp.Channel == last.Channel && tp.Timestamp.Sub(last.Timestamp) < r.cfg.CollapseInterval {
			continue
		}
		out = append(out, tp)
	}
	return out
}

func (r *Reconstructor) isConversion(e *models.MarketingEvent) bool {
	for _, t := range r.cfg.ConversionTypes {
		if string(e.Type) == t {
			return true
		}
	}
	return false
}
