package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/tiersync/pkg/pg"
	"github.com/dmitrymomot/tiersync/pkg/subscription"
)

const subscriptionColumns = `user_id, tier, status, provider, external_customer_id,
	external_subscription_id, price_id, current_period_start, current_period_end,
	cancel_at_period_end, ended_at, is_manually_created, created_at, updated_at`

// Store persists one subscription row per user.
type Store struct {
	db pg.DBTX
}

var _ subscription.Store = (*Store)(nil)

func NewStore(db pg.DBTX) *Store {
	if db == nil {
		panic("pgstore: database handle is required")
	}
	return &Store{db: db}
}

func (s *Store) Find(ctx context.Context, userID string) (*subscription.Subscription, error) {
	return s.findOne(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = $1`, userID)
}

func (s *Store) FindByExternalSubscriptionID(ctx context.Context, id string) (*subscription.Subscription, error) {
	if id == "" {
		return nil, subscription.ErrSubscriptionNotFound
	}
	return s.findOne(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE external_subscription_id = $1 ORDER BY updated_at DESC LIMIT 1`, id)
}

func (s *Store) FindByExternalCustomerID(ctx context.Context, id string) (*subscription.Subscription, error) {
	if id == "" {
		return nil, subscription.ErrSubscriptionNotFound
	}
	return s.findOne(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE external_customer_id = $1 ORDER BY updated_at DESC LIMIT 1`, id)
}

// Upsert replaces the row in a transaction that locks the existing row first,
// so the manual-override check and the write see the same state.
func (s *Store) Upsert(ctx context.Context, sub *subscription.Subscription, intent subscription.WriteIntent) error {
	if sub == nil || sub.UserID == "" {
		return errors.New("pgstore: subscription with user id is required")
	}
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if err := checkLocked(ctx, tx, sub.UserID, intent); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO subscriptions (`+subscriptionColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			ON CONFLICT (user_id) DO UPDATE SET
				tier = EXCLUDED.tier,
				status = EXCLUDED.status,
				provider = EXCLUDED.provider,
				external_customer_id = EXCLUDED.external_customer_id,
				external_subscription_id = EXCLUDED.external_subscription_id,
				price_id = EXCLUDED.price_id,
				current_period_start = EXCLUDED.current_period_start,
				current_period_end = EXCLUDED.current_period_end,
				cancel_at_period_end = EXCLUDED.cancel_at_period_end,
				ended_at = EXCLUDED.ended_at,
				is_manually_created = EXCLUDED.is_manually_created,
				updated_at = EXCLUDED.updated_at`,
			sub.UserID, string(sub.Tier), string(sub.Status), string(sub.Provider),
			sub.ExternalCustomerID, sub.ExternalSubscriptionID, sub.PriceID,
			sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.CancelAtPeriodEnd,
			sub.EndedAt, sub.IsManuallyCreated, sub.CreatedAt, sub.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("upsert subscription: %w", err)
		}
		return nil
	})
}

// Delete removes the row. Deleting a missing row is not an error.
func (s *Store) Delete(ctx context.Context, userID string, intent subscription.WriteIntent) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if err := checkLocked(ctx, tx, userID, intent); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM subscriptions WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("delete subscription: %w", err)
		}
		return nil
	})
}

func checkLocked(ctx context.Context, tx pgx.Tx, userID string, intent subscription.WriteIntent) error {
	var manual bool
	err := tx.QueryRow(ctx,
		`SELECT is_manually_created FROM subscriptions WHERE user_id = $1 FOR UPDATE`, userID,
	).Scan(&manual)
	if pg.IsNotFoundError(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lock subscription: %w", err)
	}
	return subscription.CheckOverride(&subscription.Subscription{IsManuallyCreated: manual}, intent)
}

func (s *Store) findOne(ctx context.Context, query string, args ...any) (*subscription.Subscription, error) {
	var (
		sub                  subscription.Subscription
		tier, status, source string
	)
	err := s.db.QueryRow(ctx, query, args...).Scan(
		&sub.UserID, &tier, &status, &source, &sub.ExternalCustomerID,
		&sub.ExternalSubscriptionID, &sub.PriceID, &sub.CurrentPeriodStart, &sub.CurrentPeriodEnd,
		&sub.CancelAtPeriodEnd, &sub.EndedAt, &sub.IsManuallyCreated, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if pg.IsNotFoundError(err) {
		return nil, subscription.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query subscription: %w", err)
	}
	sub.Tier = subscription.Tier(tier)
	sub.Status = subscription.Status(status)
	sub.Provider = subscription.ProviderName(source)
	return &sub, nil
}
