package billing

import (
	"context"
	"errors"
	"testing"

	"github.com/oakline/servicedesk-backend/account"
	"github.com/oakline/servicedesk-backend/internal/identity"
	"github.com/oakline/servicedesk-backend/internal/provider"
)

func TestProvision_CreatesIdentityAndAccount(t *testing.T) {
	env := newTestEnv(t)
	env.provider.AddCustomer(&provider.Customer{
		ID:    "cus_1",
		Email: "buyer@example.com",
		Name:  "First Buyer",
		Phone: "+3531234567",
	})

	err := env.dispatcher.Dispatch(context.Background(),
		event(KindCheckoutSessionCompleted, `{"id":"cs_1","customer":"cus_1"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	acct, err := env.store.FindByEmail(context.Background(), "buyer@example.com")
	if err != nil {
		t.Fatalf("expected an account: %v", err)
	}
	if acct.ProviderCustomerID.String != "cus_1" {
		t.Errorf("expected provider customer id set, got %q", acct.ProviderCustomerID.String)
	}
	if acct.Role.String != "customer" {
		t.Errorf("expected customer role, got %q", acct.Role.String)
	}
	if acct.Name.String != "First Buyer" || acct.Phone.String != "+3531234567" {
		t.Errorf("expected contact details copied, got %+v", acct)
	}

	user, err := env.identity.GetUserByEmail(context.Background(), "buyer@example.com")
	if err != nil {
		t.Fatalf("expected an identity: %v", err)
	}
	if !acct.IdentityID.Valid || acct.IdentityID.String != user.ID {
		t.Errorf("expected account linked to identity %s, got %+v", user.ID, acct.IdentityID)
	}

	// The initial credential is random and never reused; the purchaser
	// gets a reset notification instead.
	if env.identity.CreatedPasswords["buyer@example.com"] == "" {
		t.Error("expected a random initial credential")
	}
	if len(env.identity.ResetsSent) != 1 || env.identity.ResetsSent[0] != "buyer@example.com" {
		t.Errorf("expected one reset notification, got %v", env.identity.ResetsSent)
	}
}

func TestProvision_ExistingAccountIsMergedNotDuplicated(t *testing.T) {
	env := newTestEnv(t)
	env.provider.AddCustomer(&provider.Customer{ID: "cus_1", Email: "buyer@example.com"})
	env.identity.AddUser(&identity.User{ID: "user_9", Email: "buyer@example.com"})
	seeded := env.store.Add(account.Account{
		IdentityID: nullStr("user_9"),
		Email:      nullStr("buyer@example.com"),
	})

	err := env.dispatcher.Dispatch(context.Background(),
		event(KindCheckoutSessionCompleted, `{"id":"cs_1","customer":"cus_1"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if env.store.Len() != 1 {
		t.Fatalf("expected no duplicate account, got %d", env.store.Len())
	}
	got, _ := env.store.Get(seeded.ID)
	if got.ProviderCustomerID.String != "cus_1" {
		t.Errorf("expected provider customer id merged in, got %q", got.ProviderCustomerID.String)
	}
	if len(env.identity.CreatedPasswords) != 0 {
		t.Error("no identity should have been created")
	}
}

func TestProvision_ReplayedDeliveryIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.provider.AddCustomer(&provider.Customer{ID: "cus_1", Email: "buyer@example.com"})

	for i := 0; i < 2; i++ {
		err := env.dispatcher.Dispatch(context.Background(),
			event(KindCheckoutSessionCompleted, `{"id":"cs_1","customer":"cus_1"}`))
		if err != nil {
			t.Fatalf("delivery %d: unexpected error: %v", i+1, err)
		}
	}

	if env.store.Len() != 1 {
		t.Errorf("expected one account after replay, got %d", env.store.Len())
	}
	if len(env.identity.Users) != 1 {
		t.Errorf("expected one identity after replay, got %d", len(env.identity.Users))
	}
}

func TestProvision_MissingEmailFailsFast(t *testing.T) {
	env := newTestEnv(t)
	env.provider.AddCustomer(&provider.Customer{ID: "cus_1"})

	logger := env.dispatcher.logger
	prov := NewProvisioner(env.provider, env.identity, env.store, logger)
	err := prov.Provision(context.Background(), "cus_1")
	if !errors.Is(err, ErrMissingContact) {
		t.Fatalf("expected ErrMissingContact, got %v", err)
	}
	if env.store.Len() != 0 {
		t.Error("no account may be created without a contact email")
	}

	// The dispatcher acknowledges the permanent failure so the provider
	// does not retry it forever.
	err = env.dispatcher.Dispatch(context.Background(),
		event(KindCheckoutSessionCompleted, `{"id":"cs_1","customer":"cus_1"}`))
	if err != nil {
		t.Errorf("expected acknowledged failure, got %v", err)
	}
}

func TestProvision_ResetNotificationFailureIsNotFatal(t *testing.T) {
	env := newTestEnv(t)
	env.provider.AddCustomer(&provider.Customer{ID: "cus_1", Email: "buyer@example.com"})
	env.identity.FailResets = true

	err := env.dispatcher.Dispatch(context.Background(),
		event(KindCheckoutSessionCompleted, `{"id":"cs_1","customer":"cus_1"}`))
	if err != nil {
		t.Fatalf("reset failure must not fail provisioning: %v", err)
	}

	if _, err := env.store.FindByEmail(context.Background(), "buyer@example.com"); err != nil {
		t.Errorf("expected the account to exist despite the failed notification: %v", err)
	}
}

func TestProvision_IdentityExistsWithoutAccount(t *testing.T) {
	env := newTestEnv(t)
	env.provider.AddCustomer(&provider.Customer{ID: "cus_1", Email: "buyer@example.com"})
	env.identity.AddUser(&identity.User{ID: "user_7", Email: "buyer@example.com"})

	err := env.dispatcher.Dispatch(context.Background(),
		event(KindCheckoutSessionCompleted, `{"id":"cs_1","customer":"cus_1"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	acct, err := env.store.FindByEmail(context.Background(), "buyer@example.com")
	if err != nil {
		t.Fatalf("expected an account: %v", err)
	}
	if acct.IdentityID.String != "user_7" {
		t.Errorf("expected the existing identity reused, got %q", acct.IdentityID.String)
	}
	if len(env.identity.CreatedPasswords) != 0 {
		t.Error("no new identity should have been created")
	}
	if len(env.identity.ResetsSent) != 0 {
		t.Error("no reset notification for a pre-existing identity")
	}
}
