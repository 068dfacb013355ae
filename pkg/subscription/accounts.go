package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/dmitrymomot/tiersync/pkg/logger"
)

const minPasswordLength = 8

// ErrAccountExists is returned by AccountStore.Create when the e-mail is taken.
var ErrAccountExists = errors.New("account already exists")

// Account is a user account materialized by the engine.
type Account struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	CreatedAt    time.Time
}

// AccountStore persists user accounts.
type AccountStore interface {
	FindByID(ctx context.Context, id string) (*Account, error)
	// FindByEmail returns ErrAccountNotFound when no account uses the address.
	FindByEmail(ctx context.Context, email string) (*Account, error)
	// Create returns ErrAccountExists when the e-mail is already registered.
	Create(ctx context.Context, account *Account) error
}

// PendingUser holds the account details collected before checkout for new customers.
type PendingUser struct {
	Email       string
	DisplayName string
	Password    string
}

// Validate checks the details required to create an account.
func (p PendingUser) Validate() error {
	if _, err := mail.ParseAddress(p.Email); err != nil {
		return fmt.Errorf("%w: email is invalid", ErrInvalidAccount)
	}
	if len(p.Password) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidAccount, minPasswordLength)
	}
	return nil
}

// Seal hashes the password so the details can travel through provider metadata.
func (p PendingUser) Seal() (PendingAccount, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(p.Password), bcrypt.DefaultCost)
	if err != nil {
		return PendingAccount{}, fmt.Errorf("hash pending password: %w", err)
	}
	return PendingAccount{
		Email:        normalizeEmail(p.Email),
		DisplayName:  strings.TrimSpace(p.DisplayName),
		PasswordHash: string(hash),
	}, nil
}

// PendingAccount is the sealed form of PendingUser carried in checkout metadata.
type PendingAccount struct {
	Email        string
	DisplayName  string
	PasswordHash string
}

// Metadata encodes the pending account into provider metadata entries.
func (p PendingAccount) Metadata() map[string]string {
	return map[string]string{
		MetaPendingEmail:        p.Email,
		MetaPendingName:         p.DisplayName,
		MetaPendingPasswordHash: p.PasswordHash,
	}
}

// PendingAccountFromMetadata extracts a pending account from provider metadata.
func PendingAccountFromMetadata(md map[string]string) (PendingAccount, bool) {
	email := normalizeEmail(md[MetaPendingEmail])
	if email == "" {
		return PendingAccount{}, false
	}
	return PendingAccount{
		Email:        email,
		DisplayName:  md[MetaPendingName],
		PasswordHash: md[MetaPendingPasswordHash],
	}, true
}

// Provisioner materializes accounts for purchasers who paid before signing up.
type Provisioner struct {
	accounts AccountStore
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// ProvisionerOption configures a Provisioner.
type ProvisionerOption func(*Provisioner)

func WithProvisionerNotifier(n Notifier) ProvisionerOption {
	return func(p *Provisioner) { p.notifier = n }
}

func WithProvisionerLogger(l *slog.Logger) ProvisionerOption {
	return func(p *Provisioner) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewProvisioner creates a Provisioner. Panics if accounts is nil.
func NewProvisioner(accounts AccountStore, opts ...ProvisionerOption) *Provisioner {
	if accounts == nil {
		panic("subscription: AccountStore is required")
	}
	p := &Provisioner{
		accounts: accounts,
		logger:   slog.New(slog.DiscardHandler),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(logger.Component("provisioner"))
	return p
}

// Provision returns the account registered for the pending e-mail, creating it
// when absent. Repeated calls with the same e-mail return the same account.
func (p *Provisioner) Provision(ctx context.Context, pending PendingAccount) (*Account, bool, error) {
	if pending.Email == "" {
		return nil, false, ErrInvalidAccount
	}

	existing, err := p.accounts.FindByEmail(ctx, pending.Email)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return nil, false, fmt.Errorf("find account by email: %w", err)
	}

	account := &Account{
		ID:           uuid.NewString(),
		Email:        pending.Email,
		DisplayName:  pending.DisplayName,
		PasswordHash: pending.PasswordHash,
		CreatedAt:    p.now().UTC(),
	}
	if err := p.accounts.Create(ctx, account); err != nil {
		// A concurrent delivery created it first.
		if errors.Is(err, ErrAccountExists) {
			existing, findErr := p.accounts.FindByEmail(ctx, pending.Email)
			if findErr != nil {
				return nil, false, fmt.Errorf("find account after conflict: %w", findErr)
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("create account: %w", err)
	}

	p.logger.InfoContext(ctx, "account provisioned from checkout", logger.UserID(account.ID))

	if p.notifier != nil {
		err := p.notifier.Notify(ctx, Notification{
			To:       account.Email,
			Template: TemplateWelcome,
			Tag:      "welcome",
			Data: map[string]any{
				"name":  account.DisplayName,
				"email": account.Email,
			},
		})
		if err != nil {
			p.logger.WarnContext(ctx, "welcome notification failed", logger.UserID(account.ID), logger.Error(err))
		}
	}

	return account, true, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
