package pgstore

import (
	"context"
	"fmt"

	"github.com/dmitrymomot/tiersync/pkg/pg"
)

// Settings is a key/value configuration source backed by app_settings.
// It satisfies config.Provider.
type Settings struct {
	db pg.DBTX
}

func NewSettings(db pg.DBTX) *Settings {
	if db == nil {
		panic("pgstore: database handle is required")
	}
	return &Settings{db: db}
}

// Lookup returns the stored value. ok is false when the key is absent.
func (s *Settings) Lookup(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(ctx, `SELECT value FROM app_settings WHERE key = $1`, key).Scan(&value)
	if pg.IsNotFoundError(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query setting %q: %w", key, err)
	}
	return value, true, nil
}

// Set stores or replaces a value.
func (s *Settings) Set(ctx context.Context, key, value string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO app_settings (key, value, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`, key, value)
	if err != nil {
		return fmt.Errorf("store setting %q: %w", key, err)
	}
	return nil
}
