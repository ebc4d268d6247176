package account

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FakeStore is an in-memory Store for tests.
type FakeStore struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*Account
	taxIDs   map[uuid.UUID][]TaxIDEntry
}

func NewFakeStore() *FakeStore {
	return &FakeStore{
		accounts: make(map[uuid.UUID]*Account),
		taxIDs:   make(map[uuid.UUID][]TaxIDEntry),
	}
}

// Add seeds an account, assigning an ID if needed, and returns it.
func (s *FakeStore) Add(a Account) *Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	s.accounts[a.ID] = &a
	return &a
}

// Get returns a copy of the stored account for assertions.
func (s *FakeStore) Get(id uuid.UUID) (Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return Account{}, false
	}
	return *a, true
}

// Len reports how many accounts exist.
func (s *FakeStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.accounts)
}

func (s *FakeStore) FindByProviderID(ctx context.Context, providerID string) (*Account, error) {
	return s.find(func(a *Account) bool {
		return a.ProviderCustomerID.Valid && a.ProviderCustomerID.String == providerID
	})
}

func (s *FakeStore) FindByLegacyProviderID(ctx context.Context, providerID string) (*Account, error) {
	return s.find(func(a *Account) bool {
		return a.LegacyProviderCustomerID.Valid && a.LegacyProviderCustomerID.String == providerID
	})
}

func (s *FakeStore) FindByEmail(ctx context.Context, email string) (*Account, error) {
	return s.find(func(a *Account) bool {
		return a.Email.Valid && a.Email.String == email
	})
}

func (s *FakeStore) FindByIdentityID(ctx context.Context, identityID string) (*Account, error) {
	return s.find(func(a *Account) bool {
		return a.IdentityID.Valid && a.IdentityID.String == identityID
	})
}

func (s *FakeStore) find(match func(*Account) bool) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if match(a) {
			copied := *a
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (s *FakeStore) Create(ctx context.Context, a *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.CreatedAt = time.Now()
	copied := *a
	s.accounts[a.ID] = &copied
	return nil
}

func (s *FakeStore) Patch(ctx context.Context, id uuid.UUID, p Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return ErrNotFound
	}

	setString := func(dst *sql.NullString, v *string) {
		if v != nil {
			*dst = sql.NullString{String: *v, Valid: true}
		}
	}
	setString(&a.IdentityID, p.IdentityID)
	setString(&a.ProviderCustomerID, p.ProviderCustomerID)
	setString(&a.Email, p.Email)
	setString(&a.Name, p.Name)
	setString(&a.Phone, p.Phone)
	setString(&a.Role, p.Role)
	setString(&a.AddressLine1, p.AddressLine1)
	setString(&a.AddressLine2, p.AddressLine2)
	setString(&a.City, p.City)
	setString(&a.Region, p.Region)
	setString(&a.PostalCode, p.PostalCode)
	setString(&a.Country, p.Country)
	setString(&a.DefaultPaymentMethodID, p.DefaultPaymentMethodID)
	setString(&a.SubscriptionStatus, p.SubscriptionStatus)

	if p.Subscription != nil {
		snap := *p.Subscription
		a.Subscription = &snap
	} else if p.ClearSubscription {
		a.Subscription = nil
	}
	if p.LastReconciledAt != nil {
		a.LastReconciledAt = sql.NullTime{Time: *p.LastReconciledAt, Valid: true}
	}
	return nil
}

func (s *FakeStore) TaxIDs(ctx context.Context, id uuid.UUID) ([]TaxIDEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]TaxIDEntry, len(s.taxIDs[id]))
	copy(entries, s.taxIDs[id])
	return entries, nil
}

func (s *FakeStore) AppendTaxID(ctx context.Context, id uuid.UUID, entry TaxIDEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.taxIDs[id] {
		if e.ProviderTaxID == entry.ProviderTaxID {
			return nil
		}
	}
	s.taxIDs[id] = append(s.taxIDs[id], entry)
	return nil
}

func (s *FakeStore) RemoveTaxID(ctx context.Context, id uuid.UUID, providerTaxID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.taxIDs[id]
	kept := entries[:0]
	for _, e := range entries {
		if e.ProviderTaxID != providerTaxID {
			kept = append(kept, e)
		}
	}
	s.taxIDs[id] = kept
	return nil
}

func (s *FakeStore) PatchTaxID(ctx context.Context, id uuid.UUID, providerTaxID string, p TaxIDPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.taxIDs[id]
	for i := range entries {
		if entries[i].ProviderTaxID != providerTaxID {
			continue
		}
		if p.Verification != nil {
			entries[i].Verification = sql.NullString{String: *p.Verification, Valid: true}
		}
		if p.UpdatedAt != nil {
			entries[i].UpdatedAt = sql.NullTime{Time: *p.UpdatedAt, Valid: true}
		}
		return nil
	}
	return nil
}

var _ Store = (*FakeStore)(nil)
