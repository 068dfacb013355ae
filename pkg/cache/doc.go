// Package cache provides a generic size-bounded LRU cache with optional
// per-entry expiry.
//
//	prices := cache.NewLRU[string, subscription.Tier](256, cache.WithTTL(5*time.Minute))
//	prices.Put("price_pro_month", subscription.TierPro)
//	if tier, ok := prices.Get("price_pro_month"); ok {
//		_ = tier
//	}
//	prices.Clear() // plan data changed
//
// Expired entries are dropped lazily on Get. WithClock replaces time.Now so
// expiry can be tested deterministically.
package cache
