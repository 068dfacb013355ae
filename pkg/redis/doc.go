// Package redis connects to Redis with go-redis/v9 and provides the webhook
// delivery Deduper used by the subscription Reconciler.
//
// The package adds two things on top of the go-redis client:
//
//   - Connect, which parses a connection URL and pings the server until it
//     answers, retrying within a bounded time budget.
//   - Deduper, which claims provider event ids with SET NX so that concurrent
//     or repeated deliveries of the same webhook are applied once.
//
// Healthcheck returns a readiness check for the client that plugs into the
// httpserver readiness endpoint.
//
// Configuration is described by the Config struct whose fields are populated
// from environment variables through github.com/caarlos0/env.
//
// # Usage
//
// Connect with retries:
//
//	var cfg redis.Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
// Plug the deduper into the reconciler:
//
//	reconciler := subscription.NewReconciler(store, journal, ledger, resolver,
//		subscription.WithDeduper(redis.NewDeduper(client, cfg.DedupePrefix), cfg.DedupeTTL),
//		subscription.WithClaimTTL(cfg.DedupeClaimTTL),
//	)
//
// # Claim lifecycle
//
// A delivery is claimed for a short in-flight TTL (REDIS_DEDUPE_CLAIM_TTL,
// five minutes by default). Once the event was applied the claim is extended
// to the dedupe window (REDIS_DEDUPE_TTL, 72 hours by default); Extend writes
// the key again if it expired during processing. A failed delivery is
// released so the provider's retry is applied:
//
//	ok, err := deduper.Claim(ctx, "stripe:evt_123", 5*time.Minute)
//	switch {
//	case err != nil:
//		// Redis unavailable; process anyway, writes are idempotent
//	case !ok:
//		// duplicate delivery
//	}
//	if applyErr != nil {
//		_ = deduper.Release(ctx, "stripe:evt_123")
//	} else {
//		_ = deduper.Extend(ctx, "stripe:evt_123", 72*time.Hour)
//	}
//
// A process that dies mid-delivery frees the event id after the claim TTL.
//
// # Errors
//
// Sentinel errors (ErrRedisNotReady, ErrDedupeFailed and others) wrap the
// underlying go-redis errors with errors.Join, so errors.Is works on both.
package redis
