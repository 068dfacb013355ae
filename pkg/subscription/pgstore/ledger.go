package pgstore

import (
	"context"
	"fmt"

	"github.com/dmitrymomot/tiersync/pkg/pg"
	"github.com/dmitrymomot/tiersync/pkg/subscription"
)

// Ledger records failed payment attempts in payment_failures.
type Ledger struct {
	db pg.DBTX
}

var _ subscription.FailureLedger = (*Ledger)(nil)

func NewLedger(db pg.DBTX) *Ledger {
	if db == nil {
		panic("pgstore: database handle is required")
	}
	return &Ledger{db: db}
}

// Record inserts the failure. A delivery that is already on record is not
// stored again and reports subscription.ErrDuplicateDelivery.
func (l *Ledger) Record(ctx context.Context, f subscription.PaymentFailure) error {
	md, err := marshalMetadata(f.Metadata)
	if err != nil {
		return err
	}
	tag, err := l.db.Exec(ctx, `
		INSERT INTO payment_failures (id, user_id, provider_event_id, provider, subscription_id,
			payment_intent_id, invoice_id, amount, currency, reason, resolved, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (provider_event_id) WHERE provider_event_id IS NOT NULL DO NOTHING`,
		f.ID, f.UserID, nullString(f.ProviderEventID), string(f.Provider), f.SubscriptionID,
		f.PaymentIntentID, f.InvoiceID, f.Amount, f.Currency, f.Reason, f.Resolved, md, f.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment failure: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return subscription.ErrDuplicateDelivery
	}
	return nil
}

func (l *Ledger) ListUnresolved(ctx context.Context, userID string) ([]subscription.PaymentFailure, error) {
	rows, err := l.db.Query(ctx, `
		SELECT id, user_id, COALESCE(provider_event_id, ''), provider, subscription_id, payment_intent_id, invoice_id,
			amount, currency, reason, resolved, metadata, created_at
		FROM payment_failures
		WHERE user_id = $1 AND NOT resolved
		ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("query payment failures: %w", err)
	}
	defer rows.Close()

	var out []subscription.PaymentFailure
	for rows.Next() {
		var (
			f      subscription.PaymentFailure
			source string
			md     []byte
		)
		if err := rows.Scan(&f.ID, &f.UserID, &f.ProviderEventID, &source, &f.SubscriptionID, &f.PaymentIntentID, &f.InvoiceID,
			&f.Amount, &f.Currency, &f.Reason, &f.Resolved, &md, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan payment failure: %w", err)
		}
		f.Provider = subscription.ProviderName(source)
		if f.Metadata, err = unmarshalMetadata(md); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Resolve marks a failure as settled. Unknown ids are ignored.
func (l *Ledger) Resolve(ctx context.Context, id string) error {
	if _, err := l.db.Exec(ctx, `UPDATE payment_failures SET resolved = TRUE WHERE id = $1`, id); err != nil {
		return fmt.Errorf("resolve payment failure: %w", err)
	}
	return nil
}
