package pgstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/dmitrymomot/tiersync/pkg/pg"
	"github.com/dmitrymomot/tiersync/pkg/subscription"
)

// Accounts stores user accounts in the users table.
type Accounts struct {
	db pg.DBTX
}

var _ subscription.AccountStore = (*Accounts)(nil)

func NewAccounts(db pg.DBTX) *Accounts {
	if db == nil {
		panic("pgstore: database handle is required")
	}
	return &Accounts{db: db}
}

func (a *Accounts) FindByID(ctx context.Context, id string) (*subscription.Account, error) {
	return a.findOne(ctx, `SELECT id, email, display_name, password_hash, created_at FROM users WHERE id = $1`, id)
}

func (a *Accounts) FindByEmail(ctx context.Context, email string) (*subscription.Account, error) {
	return a.findOne(ctx, `SELECT id, email, display_name, password_hash, created_at FROM users
		WHERE LOWER(email) = $1`, strings.ToLower(strings.TrimSpace(email)))
}

// Create inserts the account. The unique e-mail index turns a concurrent
// registration into subscription.ErrAccountExists.
func (a *Accounts) Create(ctx context.Context, acc *subscription.Account) error {
	_, err := a.db.Exec(ctx,
		`INSERT INTO users (id, email, display_name, password_hash, created_at) VALUES ($1, $2, $3, $4, $5)`,
		acc.ID, acc.Email, acc.DisplayName, acc.PasswordHash, acc.CreatedAt,
	)
	if pg.IsDuplicateKeyError(err) {
		return subscription.ErrAccountExists
	}
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (a *Accounts) findOne(ctx context.Context, query string, arg string) (*subscription.Account, error) {
	var acc subscription.Account
	err := a.db.QueryRow(ctx, query, arg).Scan(&acc.ID, &acc.Email, &acc.DisplayName, &acc.PasswordHash, &acc.CreatedAt)
	if pg.IsNotFoundError(err) {
		return nil, subscription.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query account: %w", err)
	}
	return &acc, nil
}
