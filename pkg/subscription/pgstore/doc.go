// Package pgstore implements the subscription persistence contracts on
// PostgreSQL through pgx/v5.
//
// Store, Journal, Ledger, Plans and Accounts map one-to-one onto the
// subscription.Store, EventJournal, FailureLedger, PlanSource and
// AccountStore interfaces. Settings reads the app_settings table and serves as
// the primary configuration source in front of the environment.
//
// Every repository takes a pg.DBTX, so a *pgxpool.Pool or an open pgx.Tx can
// be passed. The schema lives in db/migrations and is applied by pg.Migrate.
package pgstore
