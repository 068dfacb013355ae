// Package subscription keeps a per-user subscription tier consistent with the
// state held by external billing providers.
//
// Providers are the source of truth for billing. The package turns their
// webhooks, and periodic reads of their API, into one local Subscription row
// per user that the rest of the application can check cheaply.
//
// # Architecture
//
// The package is built from a few small parts:
//
//   - Resolver maps opaque provider price identifiers to a Tier. Misses
//     resolve to TierFree and are counted, never returned as errors. Resolved
//     plans are cached and each lookup returns its own copy.
//   - Store holds exactly one Subscription per user. Rows created through the
//     admin path carry IsManuallyCreated and reject automated writes with
//     ErrManualOverrideConflict.
//   - EventJournal and FailureLedger are append-only logs of lifecycle
//     transitions and payment failures. Both are keyed on the provider event
//     id, so a redelivered webhook is recorded once.
//   - Orchestrator opens hosted checkouts. New customers check out with the
//     PendingIdentity sentinel and their account details travel in the
//     session metadata with a bcrypt-hashed password.
//   - Reconciler consumes verified provider webhooks, resolves the acting
//     user and applies the event as an idempotent upsert.
//   - Sweeper re-reads a live subscription from the provider and repairs
//     local drift, including plan changes made in the provider dashboard.
//     Manager builds the portal, cancel and reactivate actions and the admin
//     override path on top of it.
//
// # Lifecycle
//
// A subscription is in one of four states: none, active, pending_cancel and
// canceled (see StateOf). Allowed moves are described by a state machine
// table; CheckTransition names the lifecycle event for a move or reports
// that the table does not allow it. Providers stay authoritative, so an
// unexpected move is logged at warn level and still written.
//
// Fixed-term access, such as a one-time Paddle order, has no renewal event.
// Lapsed reports when its period has ended and the Sweeper cancels it.
//
// # Providers
//
// StripeProvider implements recurring subscriptions on Stripe. PaddleProvider
// sells fixed-term access as one-time Paddle orders. Both decode webhooks into
// the typed ProviderEvent variants before anything reaches the Reconciler.
//
//	stripe, err := subscription.NewStripeProvider(subscription.StripeConfig{
//		SecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
//		WebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
//	})
//	if err != nil {
//		return err
//	}
//
// When a checkout replaces an existing provider subscription, the Reconciler
// asks the provider to end the replaced one at its period end and ignores
// later updates that still refer to it.
//
// # Webhooks
//
// Reconciler.HandleWebhook returns an error only when the provider is unknown
// or the signature cannot be verified. Every verified delivery is acknowledged;
// processing failures are logged with the event context:
//
//	reconciler := subscription.NewReconciler(store, journal, ledger, resolver,
//		subscription.WithProvider(stripe),
//		subscription.WithDeduper(deduper, subscription.DefaultDedupeTTL),
//		subscription.WithClaimTTL(subscription.DefaultClaimTTL),
//	)
//	result, err := reconciler.HandleWebhook(ctx, subscription.ProviderStripe, body, r.Header.Get("Stripe-Signature"))
//	if err != nil {
//		http.Error(w, "invalid signature", http.StatusBadRequest)
//		return
//	}
//	// result.Status is processed, duplicate, ignored or failed
//
// With a Deduper configured, each event id is claimed for the claim TTL while
// it is applied and kept for the dedupe TTL once processed. Failed deliveries
// release the claim so the provider's retry is applied again. Events whose
// user cannot be resolved yet are journaled under UnknownUserID as
// EventUnresolved and their claim is released as well.
//
// # Sweeps
//
//	sweeper := subscription.NewSweeper(store, journal, resolver,
//		subscription.WithSweepProvider(stripe),
//	)
//	res, err := sweeper.Sync(ctx, userID)
//	// res.Outcome is updated, canceled or nothing_to_sync
//
// A price outside the catalog keeps the stored tier; the sweep never
// downgrades on a lookup miss.
//
// # Storage
//
// The Memory* types implement every storage interface in process memory and
// are used in tests. The pgstore subpackage provides the PostgreSQL versions.
package subscription
