// Package config loads typed configuration.
//
// Load parses environment variables (and a .env file in the working
// directory, read through godotenv) into a struct annotated with
// caarlos0/env tags, caching one value per type. Packages own their config
// structs; the binary composes them:
//
//	type Config struct {
//		HTTP  httpserver.Config
//		Redis redis.Config
//		PG    pg.Config
//	}
//
//	var cfg Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
//
// MustLoad panics instead of returning the error and suits main. Reset drops
// the cache; tests that set environment variables call it between cases.
//
// # Runtime settings
//
// Settings that operators change at runtime go through a Provider chain:
//
//	src := config.Chain(pgstore.NewSettings(pool), config.EnvSource{})
//	var secrets BillingSecrets
//	if err := config.LoadFrom(ctx, src, &secrets); err != nil {
//		return err
//	}
//
// The first provider that knows a key wins. LoadFrom reuses the env struct
// tags, including defaults and required markers, against the chain instead of
// the process environment. Resolve reads a single key with a fallback.
// MapSource serves fixed values and is handy in tests.
//
// # Errors
//
// Parsing failures wrap ErrParsingConfig and failing providers wrap
// ErrProviderFailed, both joined with the underlying error.
package config
