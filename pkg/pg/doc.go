// Package pg bootstraps the PostgreSQL layer on pgx/v5.
//
// Connect opens a *pgxpool.Pool with retries, Migrate applies the goose
// migrations (embedded by default, or from PG_MIGRATIONS_PATH), and
// Healthcheck returns a readiness check. DBTX is the query contract shared by
// pools and transactions, used by the repositories in pkg/subscription/pgstore.
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//	if err := pg.Migrate(ctx, pool, cfg, log); err != nil {
//		return err
//	}
//
// IsNotFoundError, IsDuplicateKeyError and IsForeignKeyViolationError
// classify pgx errors.
package pg
