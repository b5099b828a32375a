package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/pulsemetric/attribution-engine/internal/models"
)

// ClickHouseEventStore implements EventStore on ClickHouse, the
// production backend for the high-volume append-only event stream.
type ClickHouseEventStore struct {
	conn driver.Conn
}

// NewClickHouseEventStore creates a ClickHouse-backed event store.
func NewClickHouseEventStore(conn driver.Conn) *ClickHouseEventStore {
	return &ClickHouseEventStore{conn: conn}
}

const eventColumns = `id, brand_id, type, timestamp, processed_at,
	anonymous_id, user_id, session_id,
	utm_source, utm_medium, utm_campaign, utm_term, utm_content,
	referrer, url, ip, country, properties, revenue, currency`

// Append stores one event. The table uses ReplacingMergeTree keyed on
// the event ID, so replayed appends deduplicate on merge.
func (s *ClickHouseEventStore) Append(ctx context.Context, ev *models.MarketingEvent) error {
	err := s.conn.Exec(ctx, `
		INSERT INTO marketing_events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		ev.ID, ev.BrandID, string(ev.Type), ev.Timestamp, ev.ProcessedAt,
		ev.AnonymousID, ev.UserID, ev.SessionID,
		ev.UTMSource, ev.UTMMedium, ev.UTMCampaign, ev.UTMTerm, ev.UTMContent,
		ev.Referrer, ev.URL, ev.IP, ev.Country, ev.Properties, ev.Revenue, ev.Currency,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// QueryRange returns a brand's events in [from, to) ordered by timestamp.
func (s *ClickHouseEventStore) QueryRange(ctx context.Context, brandID string, from, to time.Time) ([]*models.MarketingEvent, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT `+eventColumns+`
		FROM marketing_events
		WHERE brand_id = ? AND timestamp >= ? AND timestamp < ?
		ORDER BY timestamp ASC
	`, brandID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []*models.MarketingEvent
	for rows.Next() {
		var ev models.MarketingEvent
		var evType string
		var props map[string]string

		if err := rows.Scan(
			&ev.ID, &ev.BrandID, &evType, &ev.Timestamp, &ev.ProcessedAt,
			&ev.AnonymousID, &ev.UserID, &ev.SessionID,
			&ev.UTMSource, &ev.UTMMedium, &ev.UTMCampaign, &ev.UTMTerm, &ev.UTMContent,
			&ev.Referrer, &ev.URL, &ev.IP, &ev.Country, &props, &ev.Revenue, &ev.Currency,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		ev.Type = models.EventType(evType)
		if len(props) > 0 {
			ev.Properties = props
		}
		events = append(events, &ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	return events, nil
}

// CountByType tallies a brand's events per type in [from, to).
func (s *ClickHouseEventStore) CountByType(ctx context.Context, brandID string, from, to time.Time) (map[models.EventType]int64, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT type, count() AS cnt
		FROM marketing_events
		WHERE brand_id = ? AND timestamp >= ? AND timestamp < ?
		GROUP BY type
	`, brandID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.EventType]int64)
	for rows.Next() {
		var evType string
		var cnt uint64
		if err := rows.Scan(&evType, &cnt); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[models.EventType(evType)] = int64(cnt)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read counts: %w", err)
	}
	return counts, nil
}
