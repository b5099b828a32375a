package models

import (
	"strings"
	"time"
)

// EventType is the closed set of normalized marketing event types.
type EventType string

const (
	EventPageView            EventType = "page_view"
	EventSessionStarted      EventType = "session_started"
	EventFormSubmitted       EventType = "form_submitted"
	EventLeadCaptured        EventType = "lead_captured"
	EventLeadQualified       EventType = "lead_qualified"
	EventTrialStarted        EventType = "trial_started"
	EventSubscriptionStarted EventType = "subscription_started"
	EventPaymentSucceeded    EventType = "payment_succeeded"
	EventChurned             EventType = "churned"
	EventCallCompleted       EventType = "call_completed"
	EventCustom              EventType = "custom"
)

// AllEventTypes lists every normalized event type.
var AllEventTypes = []EventType{
	EventPageView,
	EventSessionStarted,
	EventFormSubmitted,
	EventLeadCaptured,
	EventLeadQualified,
	EventTrialStarted,
	EventSubscriptionStarted,
	EventPaymentSucceeded,
	EventChurned,
	EventCallCompleted,
	EventCustom,
}

// DefaultTypeAliases maps free-text event names from tracking snippets
// and server-side callers onto the normalized enumeration.
var DefaultTypeAliases = map[string]EventType{
	"pageview":           EventPageView,
	"page-view":          EventPageView,
	"view":               EventPageView,
	"visit":              EventPageView,
	"session":            EventSessionStarted,
	"session_start":      EventSessionStarted,
	"form_submit":        EventFormSubmitted,
	"form_submission":    EventFormSubmitted,
	"lead":               EventLeadCaptured,
	"signup":             EventLeadCaptured,
	"sign_up":            EventLeadCaptured,
	"registration":       EventLeadCaptured,
	"lead_qualification": EventLeadQualified,
	"mql":                EventLeadQualified,
	"sql":                EventLeadQualified,
	"trial":              EventTrialStarted,
	"trial_start":        EventTrialStarted,
	"free_trial":         EventTrialStarted,
	"subscribe":          EventSubscriptionStarted,
	"subscription":       EventSubscriptionStarted,
	"purchase":           EventSubscriptionStarted,
	"checkout_complete":  EventSubscriptionStarted,
	"payment":            EventPaymentSucceeded,
	"payment_success":    EventPaymentSucceeded,
	"invoice_paid":       EventPaymentSucceeded,
	"churn":              EventChurned,
	"cancelled":          EventChurned,
	"cancellation":       EventChurned,
	"call":               EventCallCompleted,
	"call_booked":        EventCallCompleted,
	"demo_call":          EventCallCompleted,
}

// NormalizeType maps a free-text event type onto the closed enumeration.
// Unrecognized names fall back to page_view so a misconfigured snippet
// still produces countable traffic instead of a rejected event.
func NormalizeType(raw string) EventType {
	name := strings.ToLower(strings.TrimSpace(raw))
	if name == "" {
		return EventPageView
	}
	for _, t := range AllEventTypes {
		if name == string(t) {
			return t
		}
	}
	if t, ok := DefaultTypeAliases[name]; ok {
		return t
	}
	return EventPageView
}

// MarketingEvent is one observed action, append-only once ingested.
type MarketingEvent struct {
	ID      string    `json:"id"`
	BrandID string    `json:"brand_id"`
	Type    EventType `json:"type"`

	// Timestamp is the client-supplied event time, trusted for ordering.
	// ProcessedAt is the server-assigned ingestion time, kept for provenance.
	Timestamp   time.Time `json:"timestamp"`
	ProcessedAt time.Time `json:"processed_at"`

	// Identity references
	AnonymousID string `json:"anonymous_id,omitempty"`
	UserID      string `json:"user_id,omitempty"`
	SessionID   string `json:"session_id,omitempty"`

	// Acquisition metadata
	UTMSource   string `json:"utm_source,omitempty"`
	UTMMedium   string `json:"utm_medium,omitempty"`
	UTMCampaign string `json:"utm_campaign,omitempty"`
	UTMTerm     string `json:"utm_term,omitempty"`
	UTMContent  string `json:"utm_content,omitempty"`
	Referrer    string `json:"referrer,omitempty"`
	URL         string `json:"url,omitempty"`

	// Request provenance
	IP      string `json:"ip,omitempty"`
	Country string `json:"country,omitempty"`

	// Additional params
	Properties map[string]string `json:"properties,omitempty"`

	// Revenue
	Revenue  float64 `json:"revenue,omitempty"`
	Currency string  `json:"currency,omitempty"`
}

// IsNavigation reports whether the event represents a visit that can carry
// acquisition metadata. Only navigation events become touchpoints.
func (e *MarketingEvent) IsNavigation() bool {
	return e.Type == EventPageView || e.Type == EventSessionStarted
}
