package storage

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	spendKeyPrefix = "spend"
	dayFormat      = "2006-01-02"

	// Spend entries are kept long enough to cover any lookback window
	// the aggregator will ask for.
	spendTTL = 90 * 24 * time.Hour
)

// dayKey normalizes an arbitrary timestamp to its UTC calendar day.
func dayKey(t time.Time) string {
	return t.UTC().Format(dayFormat)
}

// =============================================
// In-memory spend repository
// =============================================

// InMemorySpendRepo provides in-memory ad spend storage for development
// and tests.
type InMemorySpendRepo struct {
	mu    sync.RWMutex
	spend map[string]map[string]float64 // brand_id -> day -> amount
}

// NewInMemorySpendRepo creates a new in-memory spend repository.
func NewInMemorySpendRepo() *InMemorySpendRepo {
	return &InMemorySpendRepo{
		spend: make(map[string]map[string]float64),
	}
}

func (r *InMemorySpendRepo) RecordSpend(ctx context.Context, brandID string, day time.Time, amount float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	days, ok := r.spend[brandID]
	if !ok {
		days = make(map[string]float64)
		r.spend[brandID] = days
	}
	days[dayKey(day)] = amount
	return nil
}

func (r *InMemorySpendRepo) SpendInRange(ctx context.Context, brandID string, from, to time.Time) (float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	days, ok := r.spend[brandID]
	if !ok {
		return 0, nil
	}

	var total float64
	for d := from.UTC().Truncate(24 * time.Hour); d.Before(to); d = d.AddDate(0, 0, 1) {
		total += days[dayKey(d)]
	}
	return total, nil
}

// =============================================
// Redis spend repository
// =============================================

// RedisSpendRepo implements SpendRepo using Redis. Spend is stored per
// brand per UTC day, and recording a day overwrites any previous value
// for that day.
type RedisSpendRepo struct {
	client *redis.Client
}

// NewRedisSpendRepo creates a new Redis-backed spend repository.
func NewRedisSpendRepo(client *redis.Client) *RedisSpendRepo {
	return &RedisSpendRepo{client: client}
}

func spendKey(brandID string, day time.Time) string {
	return fmt.Sprintf("%s:%s:%s", spendKeyPrefix, brandID, dayKey(day))
}

func (r *RedisSpendRepo) RecordSpend(ctx context.Context, brandID string, day time.Time, amount float64) error {
	err := r.client.Set(ctx, spendKey(brandID, day), amount, spendTTL).Err()
	if err != nil {
		return fmt.Errorf("failed to record spend: %w", err)
	}
	return nil
}

func (r *RedisSpendRepo) SpendInRange(ctx context.Context, brandID string, from, to time.Time) (float64, error) {
	keys := make([]string, 0, 32)
	for d := from.UTC().Truncate(24 * time.Hour); d.Before(to); d = d.AddDate(0, 0, 1) {
		keys = append(keys, spendKey(brandID, d))
	}
	if len(keys) == 0 {
		return 0, nil
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read spend range: %w", err)
	}

	var total float64
	for _, v := range values {
		if v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		amount, err := strconv.ParseFloat(s, 64)
		if err != nil {
			continue
		}
		total += amount
	}
	return total, nil
}
