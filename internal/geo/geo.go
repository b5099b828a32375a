package geo

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/oschwald/geoip2-golang"
	"github.com/pulsemetric/attribution-engine/internal/metrics"
)

// Resolver maps client IP addresses to ISO country codes using a
// MaxMind GeoLite2 database, with a small TTL cache in front of the
// reader.
type Resolver struct {
	reader  *geoip2.Reader
	cache   *countryCache
	metrics *metrics.Metrics
}

// countryCache caches country lookups.
type countryCache struct {
	mu      sync.RWMutex
	data    map[string]*cacheEntry
	maxSize int
	ttl     time.Duration
}

type cacheEntry struct {
	country   string
	expiresAt time.Time
}

// NewResolver opens the GeoIP database at dbPath. m may be nil.
func NewResolver(dbPath string, cacheSize int, cacheTTL time.Duration, m *metrics.Metrics) (*Resolver, error) {
	reader, err := geoip2.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open GeoIP database: %w", err)
	}

	return &Resolver{
		reader: reader,
		cache: &countryCache{
			data:    make(map[string]*cacheEntry),
			maxSize: cacheSize,
			ttl:     cacheTTL,
		},
		metrics: m,
	}, nil
}

// Country returns the ISO country code for an IP address, or "" when
// the IP is empty, unparseable, or not in the database. Enrichment is
// best-effort so failures never reject an event.
func (r *Resolver) Country(ip string) string {
	if ip == "" {
		return ""
	}

	start := time.Now()
	if country, ok := r.cache.get(ip); ok {
		if r.metrics != nil {
			r.metrics.RecordGeoLookup(true, time.Since(start))
		}
		return country
	}

	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ""
	}

	record, err := r.reader.Country(parsed)
	if err != nil {
		return ""
	}

	country := record.Country.IsoCode
	r.cache.set(ip, country)
	if r.metrics != nil {
		r.metrics.RecordGeoLookup(false, time.Since(start))
	}
	return country
}

// Close closes the GeoIP database.
func (r *Resolver) Close() error {
	if r.reader != nil {
		return r.reader.Close()
	}
	return nil
}

func (c *countryCache) get(ip string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.data[ip]
	if !ok {
		return "", false
	}

	if time.Now().After(entry.expiresAt) {
		return "", false
	}

	return entry.country, true
}

func (c *countryCache) set(ip, country string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Evict if at capacity (simple FIFO)
	if len(c.data) >= c.maxSize {
		for k := range c.data {
			delete(c.data, k)
			break
		}
	}

	c.data[ip] = &cacheEntry{
		country:   country,
		expiresAt: time.Now().Add(c.ttl),
	}
}
