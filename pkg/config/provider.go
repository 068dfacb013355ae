package config

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
)

// Provider is a key/value configuration source.
// Lookup reports ok=false for absent keys; err is reserved for source failures.
type Provider interface {
	Lookup(ctx context.Context, key string) (value string, ok bool, err error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, key string) (string, bool, error)

func (f ProviderFunc) Lookup(ctx context.Context, key string) (string, bool, error) {
	return f(ctx, key)
}

// EnvSource reads the process environment, including values loaded from .env.
type EnvSource struct{}

func (EnvSource) Lookup(_ context.Context, key string) (string, bool, error) {
	loadDotenv()
	v, ok := os.LookupEnv(key)
	return v, ok, nil
}

// MapSource serves values from a fixed map.
type MapSource map[string]string

func (m MapSource) Lookup(_ context.Context, key string) (string, bool, error) {
	v, ok := m[key]
	return v, ok, nil
}

type chain []Provider

// Chain queries providers in order and returns the first value found.
// A failing provider is skipped when a later one has the key; its error is
// returned only when no provider does.
func Chain(primary Provider, secondaries ...Provider) Provider {
	out := make(chain, 0, 1+len(secondaries))
	for _, p := range append([]Provider{primary}, secondaries...) {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

func (c chain) Lookup(ctx context.Context, key string) (string, bool, error) {
	var errs []error
	for _, p := range c {
		v, ok, err := p.Lookup(ctx, key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			return v, true, nil
		}
	}
	if len(errs) > 0 {
		return "", false, errors.Join(append([]error{ErrProviderFailed}, errs...)...)
	}
	return "", false, nil
}

// Resolve returns the value for key, or def when no provider has it.
func Resolve(ctx context.Context, p Provider, key, def string) (string, error) {
	v, ok, err := p.Lookup(ctx, key)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", key, err)
	}
	if !ok {
		return def, nil
	}
	return v, nil
}

// MustResolve is Resolve that panics on provider failure.
func MustResolve(ctx context.Context, p Provider, key, def string) string {
	v, err := Resolve(ctx, p, key, def)
	if err != nil {
		panic(err)
	}
	return v
}

// LoadFrom fills v from p using the same env struct tags as Load.
// Values are not cached, so a database-backed provider is read on every call.
func LoadFrom[T any](ctx context.Context, p Provider, v *T) error {
	if v == nil {
		return ErrNilPointer
	}
	params, err := env.GetFieldParams(v)
	if err != nil {
		return errors.Join(ErrParsingConfig, err)
	}

	values := make(map[string]string, len(params))
	for _, param := range params {
		value, ok, err := p.Lookup(ctx, param.Key)
		if err != nil {
			return fmt.Errorf("lookup %s: %w", param.Key, err)
		}
		if ok {
			values[param.Key] = value
		}
	}

	if err := env.ParseWithOptions(v, env.Options{Environment: values}); err != nil {
		return errors.Join(ErrParsingConfig, err)
	}
	return nil
}
