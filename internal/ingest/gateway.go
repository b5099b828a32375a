package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pulsemetric/attribution-engine/internal/geo"
	"github.com/pulsemetric/attribution-engine/internal/metrics"
	"github.com/pulsemetric/attribution-engine/internal/models"
	"github.com/pulsemetric/attribution-engine/internal/ratelimit"
	"github.com/pulsemetric/attribution-engine/internal/storage"
	"go.uber.org/zap"
)

// MaxBatchSize caps how many events a single tracking request may carry.
const MaxBatchSize = 100

var (
	ErrUnauthorized  = errors.New("missing or invalid API key")
	ErrBrandNotFound = errors.New("unknown brand")
	ErrEmptyBatch    = errors.New("batch contains no events")
	ErrBatchTooLarge = fmt.Errorf("batch exceeds %d events", MaxBatchSize)
	ErrRateLimited   = errors.New("rate limit exceeded")
)

// IncomingEvent is the wire shape of one event from the tracking
// snippet or a server-to-server caller.
type IncomingEvent struct {
	BrandID     string            `json:"brand_id,omitempty"`
	TrackingID  string            `json:"tracking_id,omitempty"`
	Type        string            `json:"type"`
	Timestamp   *time.Time        `json:"timestamp,omitempty"`
	AnonymousID string            `json:"anonymous_id,omitempty"`
	UserID      string            `json:"user_id,omitempty"`
	SessionID   string            `json:"session_id,omitempty"`
	UTMSource   string            `json:"utm_source,omitempty"`
	UTMMedium   string            `json:"utm_medium,omitempty"`
	UTMCampaign string            `json:"utm_campaign,omitempty"`
	UTMTerm     string            `json:"utm_term,omitempty"`
	UTMContent  string            `json:"utm_content,omitempty"`
	Referrer    string            `json:"referrer,omitempty"`
	URL         string            `json:"url,omitempty"`
	Properties  map[string]string `json:"properties,omitempty"`
	Revenue     float64           `json:"revenue,omitempty"`
	Currency    string            `json:"currency,omitempty"`
}

// BatchRequest is the wire shape of a batched tracking request.
type BatchRequest struct {
	Events []IncomingEvent `json:"events"`
}

// BatchResult reports per-event outcomes of a batch.
type BatchResult struct {
	Accepted int      `json:"accepted"`
	Rejected int      `json:"rejected"`
	Errors   []string `json:"errors,omitempty"`
}

// Service is the event ingestion gateway: it authenticates callers,
// normalizes events, applies per-brand rate limits, and appends
// accepted events to the store.
type Service struct {
	brands  storage.BrandRepo
	store   storage.EventStore
	limiter ratelimit.Limiter
	geo     *geo.Resolver
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewService creates an ingestion gateway. geo and metrics may be nil.
func NewService(brands storage.BrandRepo, store storage.EventStore, limiter ratelimit.Limiter, geo *geo.Resolver, m *metrics.Metrics, logger *zap.Logger) *Service {
	return &Service{
		brands:  brands,
		store:   store,
		limiter: limiter,
		geo:     geo,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// Authenticate resolves an API key to its brand. A missing key, an
// unknown key, and an inactive brand all fail the whole request.
func (s *Service) Authenticate(ctx context.Context, apiKey string) (*models.Brand, error) {
	if apiKey == "" {
		return nil, ErrUnauthorized
	}

	brand, err := s.brands.GetByAPIKey(ctx, apiKey)
	if err != nil {
		return nil, fmt.Errorf("failed to look up API key: %w", err)
	}
	if brand == nil || !brand.IsActive() {
		return nil, ErrUnauthorized
	}
	return brand, nil
}

// ProcessBatch validates and appends each event independently. A batch
// may be partially accepted: validation and rate-limit failures reject
// single events, never the whole batch.
func (s *Service) ProcessBatch(ctx context.Context, brand *models.Brand, req *BatchRequest, clientIP string) (*BatchResult, error) {
	if len(req.Events) == 0 {
		return nil, ErrEmptyBatch
	}
	if len(req.Events) > MaxBatchSize {
		return nil, ErrBatchTooLarge
	}

	result := &BatchResult{}
	for i := range req.Events {
		if _, err := s.processOne(ctx, brand, &req.Events[i], clientIP); err != nil {
			result.Rejected++
			result.Errors = append(result.Errors, fmt.Sprintf("event %d: %s", i, err))
			continue
		}
		result.Accepted++
	}

	return result, nil
}

// ProcessSingle validates and appends a single event, returning the
// assigned event id. Unlike batches, any failure rejects the whole
// request.
func (s *Service) ProcessSingle(ctx context.Context, brand *models.Brand, in *IncomingEvent, clientIP string) (string, error) {
	return s.processOne(ctx, brand, in, clientIP)
}

func (s *Service) processOne(ctx context.Context, brand *models.Brand, in *IncomingEvent, clientIP string) (string, error) {
	if err := s.checkBrandRef(brand, in); err != nil {
		if s.metrics != nil {
			s.metrics.RecordEventRejected(brand.ID, "validation")
		}
		return "", err
	}

	if !s.limiter.Allow(ctx, brand.ID) {
		if s.metrics != nil {
			s.metrics.RecordRateLimitHit(brand.ID)
			s.metrics.RecordEventRejected(brand.ID, "rate_limit")
		}
		return "", ErrRateLimited
	}

	event := s.normalize(brand, in, clientIP)

	if err := s.store.Append(ctx, event); err != nil {
		if s.metrics != nil {
			s.metrics.RecordEventRejected(brand.ID, "store")
		}
		return "", fmt.Errorf("failed to store event: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordEventAccepted(brand.ID, string(event.Type))
	}
	return event.ID, nil
}

// checkBrandRef requires every event to name the brand it belongs to,
// and rejects events referencing a brand other than the authenticated
// one.
func (s *Service) checkBrandRef(brand *models.Brand, in *IncomingEvent) error {
	if in.BrandID == "" && in.TrackingID == "" {
		return errors.New("missing brand reference")
	}
	if in.BrandID != "" && in.BrandID != brand.ID {
		return errors.New("brand reference does not match API key")
	}
	if in.TrackingID != "" && in.TrackingID != brand.TrackingID {
		return errors.New("brand reference does not match API key")
	}
	return nil
}

func (s *Service) normalize(brand *models.Brand, in *IncomingEvent, clientIP string) *models.MarketingEvent {
	now := s.now().UTC()

	timestamp := now
	if in.Timestamp != nil && !in.Timestamp.IsZero() {
		timestamp = in.Timestamp.UTC()
	}

	event := &models.MarketingEvent{
		ID:          uuid.New().String(),
		BrandID:     brand.ID,
		Type:        models.NormalizeType(in.Type),
		Timestamp:   timestamp,
		ProcessedAt: now,
		AnonymousID: in.AnonymousID,
		UserID:      in.UserID,
		SessionID:   in.SessionID,
		UTMSource:   in.UTMSource,
		UTMMedium:   in.UTMMedium,
		UTMCampaign: in.UTMCampaign,
		UTMTerm:     in.UTMTerm,
		UTMContent:  in.UTMContent,
		Referrer:    in.Referrer,
		URL:         in.URL,
		IP:          clientIP,
		Properties:  in.Properties,
		Revenue:     in.Revenue,
		Currency:    in.Currency,
	}

	if s.geo != nil {
		event.Country = s.geo.Country(clientIP)
	}

	return event
}
