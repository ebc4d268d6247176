package billing

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"

	"github.com/oakline/servicedesk-backend/account"
	"github.com/oakline/servicedesk-backend/internal/identity"
	"github.com/oakline/servicedesk-backend/internal/provider"
)

// ErrMissingContact means the provider customer has no email address. A
// login-capable identity cannot be created without one, so the failure is
// permanent for that event.
var ErrMissingContact = errors.New("provider customer has no contact email")

// Provisioner turns a completed checkout into an internal identity and
// account, or links the provider customer to the account that already
// owns the purchaser's email.
type Provisioner struct {
	provider provider.Client
	identity identity.Client
	store    account.Store
	logger   *slog.Logger
}

func NewProvisioner(pc provider.Client, ic identity.Client, store account.Store, logger *slog.Logger) *Provisioner {
	return &Provisioner{
		provider: pc,
		identity: ic,
		store:    store,
		logger:   logger,
	}
}

func (p *Provisioner) Provision(ctx context.Context, providerCustomerID string) error {
	cust, err := p.provider.GetCustomer(ctx, providerCustomerID)
	if err != nil {
		return fmt.Errorf("fetch provider customer %s: %w", providerCustomerID, err)
	}
	if cust.Email == "" {
		return fmt.Errorf("%w: customer %s", ErrMissingContact, providerCustomerID)
	}

	// The purchaser may already have an account from the registration
	// flow or an earlier delivery of this event. Merge the provider
	// customer id in and stop; never create a duplicate.
	existing, err := p.store.FindByEmail(ctx, cust.Email)
	if err == nil {
		if existing.ProviderCustomerID.Valid && existing.ProviderCustomerID.String == providerCustomerID {
			return nil
		}
		return p.store.Patch(ctx, existing.ID, account.Patch{ProviderCustomerID: &providerCustomerID})
	}
	if !errors.Is(err, account.ErrNotFound) {
		return err
	}

	user, err := p.identity.GetUserByEmail(ctx, cust.Email)
	created := false
	if errors.Is(err, identity.ErrNotFound) {
		// The initial credential is random and never transmitted; the
		// purchaser must complete a credential reset before logging in.
		secret, err := randomCredential()
		if err != nil {
			return err
		}
		user, err = p.identity.CreateUser(ctx, identity.CreateUserParams{
			Email:    cust.Email,
			Name:     cust.Name,
			Phone:    cust.Phone,
			Password: secret,
			Role:     "customer",
		})
		if err != nil {
			return fmt.Errorf("create identity for %s: %w", providerCustomerID, err)
		}
		created = true
	} else if err != nil {
		return fmt.Errorf("look up identity for %s: %w", providerCustomerID, err)
	}

	acct := &account.Account{
		IdentityID:         sql.NullString{String: user.ID, Valid: true},
		ProviderCustomerID: sql.NullString{String: providerCustomerID, Valid: true},
		Email:              sql.NullString{String: cust.Email, Valid: true},
		Role:               sql.NullString{String: "customer", Valid: true},
	}
	if cust.Name != "" {
		acct.Name = sql.NullString{String: cust.Name, Valid: true}
	}
	if cust.Phone != "" {
		acct.Phone = sql.NullString{String: cust.Phone, Valid: true}
	}
	if err := p.store.Create(ctx, acct); err != nil {
		return fmt.Errorf("create account for %s: %w", providerCustomerID, err)
	}

	if created {
		// The account record and provider linkage are the durable side
		// effect; a failed notification is logged, not propagated, and the
		// purchaser can still request a reset themselves.
		if err := p.identity.SendPasswordReset(ctx, cust.Email); err != nil {
			p.logger.ErrorContext(ctx, "failed to send credential reset notification",
				"account_id", acct.ID, "provider_customer_id", providerCustomerID, "error", err)
		}
	}
	return nil
}

func randomCredential() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
