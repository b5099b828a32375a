package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pulsemetric/attribution-engine/internal/models"
)

// =============================================
// In-memory brand repository
// =============================================

// InMemoryBrandRepo provides in-memory brand storage for development
// and tests.
type InMemoryBrandRepo struct {
	mu           sync.RWMutex
	brands       map[string]*models.Brand
	byTrackingID map[string]string // tracking_id -> brand_id
	byAPIKey     map[string]string // api_key -> brand_id
}

// NewInMemoryBrandRepo creates a new in-memory brand repository.
func NewInMemoryBrandRepo() *InMemoryBrandRepo {
	return &InMemoryBrandRepo{
		brands:       make(map[string]*models.Brand),
		byTrackingID: make(map[string]string),
		byAPIKey:     make(map[string]string),
	}
}

func (r *InMemoryBrandRepo) GetByID(ctx context.Context, id string) (*models.Brand, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.brands[id]
	if !ok {
		return nil, nil
	}
	return b, nil
}

func (r *InMemoryBrandRepo) GetByTrackingID(ctx context.Context, trackingID string) (*models.Brand, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byTrackingID[trackingID]
	if !ok {
		return nil, nil
	}
	return r.brands[id], nil
}

func (r *InMemoryBrandRepo) GetByAPIKey(ctx context.Context, apiKey string) (*models.Brand, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byAPIKey[apiKey]
	if !ok {
		return nil, nil
	}
	return r.brands[id], nil
}

func (r *InMemoryBrandRepo) Upsert(ctx context.Context, b *models.Brand) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Drop stale index entries when keys change
	if old, ok := r.brands[b.ID]; ok {
		delete(r.byTrackingID, old.TrackingID)
		delete(r.byAPIKey, old.APIKey)
	}

	r.brands[b.ID] = b
	if b.TrackingID != "" {
		r.byTrackingID[b.TrackingID] = b.ID
	}
	if b.APIKey != "" {
		r.byAPIKey[b.APIKey] = b.ID
	}
	return nil
}

// =============================================
// PostgreSQL brand repository
// =============================================

// PostgresBrandRepo implements BrandRepo using PostgreSQL.
type PostgresBrandRepo struct {
	pool *pgxpool.Pool
}

// NewPostgresBrandRepo creates a new PostgreSQL-backed brand repository.
func NewPostgresBrandRepo(pool *pgxpool.Pool) *PostgresBrandRepo {
	return &PostgresBrandRepo{pool: pool}
}

const brandColumns = `id, name, tracking_id, api_key, industry, status, created_at, updated_at`

func (r *PostgresBrandRepo) GetByID(ctx context.Context, id string) (*models.Brand, error) {
	return r.getBy(ctx, "id", id)
}

func (r *PostgresBrandRepo) GetByTrackingID(ctx context.Context, trackingID string) (*models.Brand, error) {
	return r.getBy(ctx, "tracking_id", trackingID)
}

func (r *PostgresBrandRepo) GetByAPIKey(ctx context.Context, apiKey string) (*models.Brand, error) {
	return r.getBy(ctx, "api_key", apiKey)
}

func (r *PostgresBrandRepo) getBy(ctx context.Context, column, value string) (*models.Brand, error) {
	var b models.Brand

	err := r.pool.QueryRow(ctx, `
		SELECT `+brandColumns+`
		FROM brands WHERE `+column+` = $1
	`, value).Scan(
		&b.ID, &b.Name, &b.TrackingID, &b.APIKey, &b.Industry,
		&b.Status, &b.CreatedAt, &b.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get brand by %s: %w", column, err)
	}
	return &b, nil
}

func (r *PostgresBrandRepo) Upsert(ctx context.Context, b *models.Brand) error {
	now := time.Now().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now

	_, err := r.pool.Exec(ctx, `
		INSERT INTO brands (`+brandColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			tracking_id = EXCLUDED.tracking_id,
			api_key = EXCLUDED.api_key,
			industry = EXCLUDED.industry,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at
	`, b.ID, b.Name, b.TrackingID, b.APIKey, b.Industry, b.Status, b.CreatedAt, b.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to upsert brand: %w", err)
	}
	return nil
}
