package pgstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dmitrymomot/tiersync/pkg/pg"
	"github.com/dmitrymomot/tiersync/pkg/subscription"
)

// Journal is the append-only subscription_events table.
type Journal struct {
	db pg.DBTX
}

var _ subscription.EventJournal = (*Journal)(nil)

func NewJournal(db pg.DBTX) *Journal {
	if db == nil {
		panic("pgstore: database handle is required")
	}
	return &Journal{db: db}
}

// Append inserts the event. A second entry for the same provider delivery
// and event type is dropped.
func (j *Journal) Append(ctx context.Context, e subscription.Event) error {
	md, err := marshalMetadata(e.Metadata)
	if err != nil {
		return err
	}
	_, err = j.db.Exec(ctx, `
		INSERT INTO subscription_events (id, user_id, event_type, old_tier, new_tier, provider_event_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT DO NOTHING`,
		e.ID, e.UserID, string(e.Type), string(e.OldTier), string(e.NewTier),
		nullString(e.ProviderEventID), md, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert subscription event: %w", err)
	}
	return nil
}

// List returns the user's events in append order.
func (j *Journal) List(ctx context.Context, userID string) ([]subscription.Event, error) {
	rows, err := j.db.Query(ctx, `
		SELECT id, user_id, event_type, old_tier, new_tier, COALESCE(provider_event_id, ''), metadata, created_at
		FROM subscription_events WHERE user_id = $1 ORDER BY seq`, userID)
	if err != nil {
		return nil, fmt.Errorf("query subscription events: %w", err)
	}
	defer rows.Close()

	var out []subscription.Event
	for rows.Next() {
		var (
			e                     subscription.Event
			typ, oldTier, newTier string
			md                    []byte
		)
		if err := rows.Scan(&e.ID, &e.UserID, &typ, &oldTier, &newTier, &e.ProviderEventID, &md, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan subscription event: %w", err)
		}
		e.Type = subscription.EventType(typ)
		e.OldTier = subscription.Tier(oldTier)
		e.NewTier = subscription.Tier(newTier)
		if e.Metadata, err = unmarshalMetadata(md); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func marshalMetadata(md map[string]any) ([]byte, error) {
	if len(md) == 0 {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(md)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return b, nil
}

func unmarshalMetadata(b []byte) (map[string]any, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var md map[string]any
	if err := json.Unmarshal(b, &md); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	if len(md) == 0 {
		return nil, nil
	}
	return md, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
