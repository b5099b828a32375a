package models

import "time"

// Brand is a tenant of the analytics engine. Every event belongs to
// exactly one brand; the API key is the shared secret scoped to it.
type Brand struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	TrackingID string `json:"tracking_id"`
	APIKey     string `json:"api_key,omitempty"`

	// Industry selects the calibrated CAC profile for budget
	// recommendations (saas, ecommerce, agency, ...).
	Industry string `json:"industry,omitempty"`

	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsActive reports whether the brand may ingest events.
func (b *Brand) IsActive() bool {
	return b.Status == "" || b.Status == "active"
}
