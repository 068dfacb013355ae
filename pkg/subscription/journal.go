package subscription

import (
	"context"
	"time"
)

// EventType is the kind of lifecycle transition recorded in the journal.
type EventType string

const (
	EventCreated         EventType = "created"
	EventUpdated         EventType = "updated"
	EventUpgrade         EventType = "upgrade"
	EventDowngrade       EventType = "downgrade"
	EventCancelScheduled EventType = "cancel_scheduled"
	EventCanceled        EventType = "canceled"
	EventReactivated     EventType = "reactivated"
	EventAdminModified   EventType = "admin_modified"
	// EventUnresolved is journaled under UnknownUserID for lifecycle events
	// whose acting user could not be determined.
	EventUnresolved EventType = "unresolved"
)

// Event is an append-only record of a subscription lifecycle transition.
type Event struct {
	ID              string
	UserID          string
	Type            EventType
	OldTier         Tier
	NewTier         Tier
	ProviderEventID string // empty for events not caused by a provider delivery
	Metadata        map[string]any
	CreatedAt       time.Time
}

// EventJournal appends lifecycle events. Entries are never mutated.
// Appending a second entry with the same non-empty ProviderEventID and Type is a no-op.
type EventJournal interface {
	Append(ctx context.Context, event Event) error
	List(ctx context.Context, userID string) ([]Event, error)
}

// ClassifyTierChange returns EventUpgrade or EventDowngrade by comparing tier order.
// ok is false when the tiers are equal.
func ClassifyTierChange(oldTier, newTier Tier) (EventType, bool) {
	switch oldTier.Compare(newTier) {
	case -1:
		return EventUpgrade, true
	case 1:
		return EventDowngrade, true
	default:
		return "", false
	}
}
