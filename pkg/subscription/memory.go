package subscription

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"
)

type memoryPlans struct {
	mu    sync.RWMutex
	plans []Plan
}

// NewMemoryPlans returns an in-memory PlanSource with a deep copy of the given plans.
// Panics if no plans are provided.
func NewMemoryPlans(plans ...Plan) PlanSource {
	if len(plans) < 1 {
		panic("at least one plan is required")
	}
	cp := make([]Plan, 0, len(plans))
	for _, p := range plans {
		cp = append(cp, clonePlan(p))
	}
	return &memoryPlans{plans: cp}
}

func (s *memoryPlans) FindByPriceID(_ context.Context, priceID string) (*Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.plans {
		if p.MatchesPrice(priceID) {
			plan := clonePlan(p)
			return &plan, nil
		}
	}
	return nil, ErrPlanNotFound
}

func (s *memoryPlans) List(context.Context) ([]Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Plan, 0, len(s.plans))
	for _, p := range s.plans {
		out = append(out, clonePlan(p))
	}
	return out, nil
}

func clonePlan(p Plan) Plan {
	p.Features = slices.Clone(p.Features)
	return p
}

// MemoryStore is a Store kept in process memory. Rows are copied on the way in and out.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[string]*Subscription
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]*Subscription)}
}

func (s *MemoryStore) Find(_ context.Context, userID string) (*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if row, ok := s.rows[userID]; ok {
		return row.Clone(), nil
	}
	return nil, ErrSubscriptionNotFound
}

func (s *MemoryStore) FindByExternalSubscriptionID(_ context.Context, id string) (*Subscription, error) {
	return s.findBy(func(row *Subscription) bool { return id != "" && row.ExternalSubscriptionID == id })
}

func (s *MemoryStore) FindByExternalCustomerID(_ context.Context, id string) (*Subscription, error) {
	return s.findBy(func(row *Subscription) bool { return id != "" && row.ExternalCustomerID == id })
}

func (s *MemoryStore) findBy(match func(*Subscription) bool) (*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, row := range s.rows {
		if match(row) {
			return row.Clone(), nil
		}
	}
	return nil, ErrSubscriptionNotFound
}

func (s *MemoryStore) Upsert(_ context.Context, sub *Subscription, intent WriteIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := CheckOverride(s.rows[sub.UserID], intent); err != nil {
		return err
	}
	s.rows[sub.UserID] = sub.Clone()
	return nil
}

// Delete removes the row. Deleting a missing row is not an error.
func (s *MemoryStore) Delete(_ context.Context, userID string, intent WriteIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := CheckOverride(s.rows[userID], intent); err != nil {
		return err
	}
	delete(s.rows, userID)
	return nil
}

// Len returns the number of stored rows.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

type journalKey struct {
	providerEventID string
	eventType       EventType
}

// MemoryJournal is an EventJournal kept in process memory.
type MemoryJournal struct {
	mu     sync.RWMutex
	events []Event
	seen   map[journalKey]struct{}
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{seen: make(map[journalKey]struct{})}
}

func (j *MemoryJournal) Append(_ context.Context, event Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if event.ProviderEventID != "" {
		key := journalKey{event.ProviderEventID, event.Type}
		if _, dup := j.seen[key]; dup {
			return nil
		}
		j.seen[key] = struct{}{}
	}
	event.Metadata = maps.Clone(event.Metadata)
	j.events = append(j.events, event)
	return nil
}

// List returns the user's events in append order.
func (j *MemoryJournal) List(_ context.Context, userID string) ([]Event, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var out []Event
	for _, e := range j.events {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

// MemoryLedger is a FailureLedger kept in process memory.
type MemoryLedger struct {
	mu       sync.RWMutex
	failures []PaymentFailure
	seen     map[string]struct{}
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{seen: make(map[string]struct{})}
}

func (l *MemoryLedger) Record(_ context.Context, f PaymentFailure) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if f.ProviderEventID != "" {
		if _, dup := l.seen[f.ProviderEventID]; dup {
			return ErrDuplicateDelivery
		}
		l.seen[f.ProviderEventID] = struct{}{}
	}
	f.Metadata = maps.Clone(f.Metadata)
	l.failures = append(l.failures, f)
	return nil
}

func (l *MemoryLedger) ListUnresolved(_ context.Context, userID string) ([]PaymentFailure, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []PaymentFailure
	for _, f := range l.failures {
		if f.UserID == userID && !f.Resolved {
			out = append(out, f)
		}
	}
	return out, nil
}

// MemoryAccounts is an AccountStore kept in process memory.
type MemoryAccounts struct {
	mu      sync.RWMutex
	byID    map[string]Account
	byEmail map[string]string
}

func NewMemoryAccounts() *MemoryAccounts {
	return &MemoryAccounts{
		byID:    make(map[string]Account),
		byEmail: make(map[string]string),
	}
}

func (a *MemoryAccounts) FindByID(_ context.Context, id string) (*Account, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	acc, ok := a.byID[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return &acc, nil
}

func (a *MemoryAccounts) FindByEmail(_ context.Context, email string) (*Account, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	id, ok := a.byEmail[normalizeEmail(email)]
	if !ok {
		return nil, ErrAccountNotFound
	}
	acc := a.byID[id]
	return &acc, nil
}

func (a *MemoryAccounts) Create(_ context.Context, account *Account) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	email := normalizeEmail(account.Email)
	if _, taken := a.byEmail[email]; taken {
		return ErrAccountExists
	}
	a.byID[account.ID] = *account
	a.byEmail[email] = account.ID
	return nil
}

// Len returns the number of accounts.
func (a *MemoryAccounts) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.byID)
}

// MemoryDeduper is a Deduper kept in process memory.
type MemoryDeduper struct {
	mu     sync.Mutex
	claims map[string]time.Time
	now    func() time.Time
}

func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{claims: make(map[string]time.Time), now: time.Now}
}

func (d *MemoryDeduper) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if exp, ok := d.claims[key]; ok && now.Before(exp) {
		return false, nil
	}
	d.claims[key] = now.Add(ttl)
	return true, nil
}

func (d *MemoryDeduper) Extend(_ context.Context, key string, ttl time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.claims[key] = d.now().Add(ttl)
	return nil
}

func (d *MemoryDeduper) Release(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.claims, key)
	return nil
}
