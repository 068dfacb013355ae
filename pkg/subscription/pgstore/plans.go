package pgstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/tiersync/pkg/pg"
	"github.com/dmitrymomot/tiersync/pkg/subscription"
)

const planColumns = `id, name, tier, COALESCE(price_id_monthly, ''), COALESCE(price_id_yearly, ''),
	price_monthly_amount, price_monthly_currency, price_yearly_amount, price_yearly_currency`

// Plans reads the active catalog from plans and plan_features.
type Plans struct {
	db pg.DBTX
}

var _ subscription.PlanSource = (*Plans)(nil)

func NewPlans(db pg.DBTX) *Plans {
	if db == nil {
		panic("pgstore: database handle is required")
	}
	return &Plans{db: db}
}

func (p *Plans) FindByPriceID(ctx context.Context, priceID string) (*subscription.Plan, error) {
	plans, err := p.query(ctx, `SELECT `+planColumns+` FROM plans
		WHERE active AND (price_id_monthly = $1 OR price_id_yearly = $1)`, priceID)
	if err != nil {
		return nil, err
	}
	if len(plans) == 0 {
		return nil, subscription.ErrPlanNotFound
	}
	return &plans[0], nil
}

func (p *Plans) List(ctx context.Context) ([]subscription.Plan, error) {
	return p.query(ctx, `SELECT `+planColumns+` FROM plans WHERE active ORDER BY id`)
}

// Save inserts or replaces a plan together with its features.
func (p *Plans) Save(ctx context.Context, plan subscription.Plan) error {
	return pgx.BeginFunc(ctx, p.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO plans (id, name, tier, price_id_monthly, price_id_yearly,
				price_monthly_amount, price_monthly_currency, price_yearly_amount, price_yearly_currency)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				tier = EXCLUDED.tier,
				price_id_monthly = EXCLUDED.price_id_monthly,
				price_id_yearly = EXCLUDED.price_id_yearly,
				price_monthly_amount = EXCLUDED.price_monthly_amount,
				price_monthly_currency = EXCLUDED.price_monthly_currency,
				price_yearly_amount = EXCLUDED.price_yearly_amount,
				price_yearly_currency = EXCLUDED.price_yearly_currency,
				active = TRUE`,
			plan.ID, plan.Name, string(plan.Tier), nullString(plan.PriceIDMonthly), nullString(plan.PriceIDYearly),
			plan.PriceMonthly.Amount, currency(plan.PriceMonthly.Currency),
			plan.PriceYearly.Amount, currency(plan.PriceYearly.Currency),
		)
		if err != nil {
			return fmt.Errorf("upsert plan: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM plan_features WHERE plan_id = $1`, plan.ID); err != nil {
			return fmt.Errorf("clear plan features: %w", err)
		}
		for i, f := range plan.Features {
			if _, err := tx.Exec(ctx,
				`INSERT INTO plan_features (plan_id, position, key, description) VALUES ($1, $2, $3, $4)`,
				plan.ID, i, f.Key, f.Description,
			); err != nil {
				return fmt.Errorf("insert plan feature: %w", err)
			}
		}
		return nil
	})
}

func (p *Plans) query(ctx context.Context, query string, args ...any) ([]subscription.Plan, error) {
	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query plans: %w", err)
	}
	var plans []subscription.Plan
	for rows.Next() {
		var (
			plan subscription.Plan
			tier string
		)
		if err := rows.Scan(&plan.ID, &plan.Name, &tier, &plan.PriceIDMonthly, &plan.PriceIDYearly,
			&plan.PriceMonthly.Amount, &plan.PriceMonthly.Currency,
			&plan.PriceYearly.Amount, &plan.PriceYearly.Currency); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		plan.Tier = subscription.Tier(tier)
		plans = append(plans, plan)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query plans: %w", err)
	}

	for i := range plans {
		if plans[i].Features, err = p.features(ctx, plans[i].ID); err != nil {
			return nil, err
		}
	}
	return plans, nil
}

func (p *Plans) features(ctx context.Context, planID string) ([]subscription.PlanFeature, error) {
	rows, err := p.db.Query(ctx,
		`SELECT key, description FROM plan_features WHERE plan_id = $1 ORDER BY position, key`, planID)
	if err != nil {
		return nil, fmt.Errorf("query plan features: %w", err)
	}
	defer rows.Close()

	var out []subscription.PlanFeature
	for rows.Next() {
		var f subscription.PlanFeature
		if err := rows.Scan(&f.Key, &f.Description); err != nil {
			return nil, fmt.Errorf("scan plan feature: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func currency(c string) string {
	if c == "" {
		return "usd"
	}
	return c
}
