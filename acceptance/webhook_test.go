package acceptance

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"

	"github.com/oakline/servicedesk-backend/account"
	"github.com/oakline/servicedesk-backend/billing"
	"github.com/oakline/servicedesk-backend/internal/provider"
)

func TestHealth(t *testing.T) {
	ts := NewTestServer(t)

	w := ts.GET("/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}
}

func TestWebhook_ValidDeliveryIsAcknowledged(t *testing.T) {
	ts := NewTestServer(t)
	seeded := ts.Store.Add(account.Account{
		ProviderCustomerID: sql.NullString{String: "cus_1", Valid: true},
	})

	w := ts.PostWebhook(`{
		"kind": "subscription.updated",
		"data": {
			"id": "sub_1",
			"customer": "cus_1",
			"status": "active",
			"current_period_start": 1700000000,
			"current_period_end": 1702592000,
			"items": [{"price": "price_1", "product": "prod_1", "quantity": 1}]
		}
	}`)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	var resp map[string]bool
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if !resp["received"] {
		t.Errorf("expected {received: true}, got %s", w.Body.String())
	}

	got, _ := ts.Store.Get(seeded.ID)
	if got.Subscription == nil || got.Subscription.ID != "sub_1" {
		t.Errorf("expected reconciled snapshot, got %s", spew.Sdump(got))
	}
}

func TestWebhook_MissingSignatureIsRejected(t *testing.T) {
	ts := NewTestServer(t)

	w := ts.PostWebhookSigned(`{"kind":"subscription.updated","data":{}}`, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestWebhook_BadSignatureIsRejected(t *testing.T) {
	ts := NewTestServer(t)
	body := `{"kind":"subscription.updated","data":{}}`

	w := ts.PostWebhookSigned(body, billing.Sign("whsec_wrong", time.Now(), []byte(body)))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestWebhook_StaleSignatureIsRejected(t *testing.T) {
	ts := NewTestServer(t)
	body := `{"kind":"subscription.updated","data":{}}`

	w := ts.PostWebhookSigned(body, billing.Sign(webhookSecret, time.Now().Add(-10*time.Minute), []byte(body)))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestWebhook_MalformedPayloadIsRejected(t *testing.T) {
	ts := NewTestServer(t)

	w := ts.PostWebhook(`{"kind": `)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d: %s", http.StatusBadRequest, w.Code, w.Body.String())
	}
}

func TestWebhook_UnknownKindIsAcknowledged(t *testing.T) {
	ts := NewTestServer(t)
	seeded := ts.Store.Add(account.Account{
		ProviderCustomerID: sql.NullString{String: "cus_1", Valid: true},
	})

	w := ts.PostWebhook(`{"kind":"invoice.finalized","data":{"id":"in_1","customer":"cus_1"}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	got, _ := ts.Store.Get(seeded.ID)
	if got.LastReconciledAt.Valid {
		t.Errorf("unknown kind must not mutate accounts: %s", spew.Sdump(got))
	}
}

func TestWebhook_UnresolvableCustomerIsAcknowledged(t *testing.T) {
	ts := NewTestServer(t)

	w := ts.PostWebhook(`{"kind":"customer.updated","data":{"id":"cus_unknown","email":"x@y.com"}}`)
	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
}

func TestWebhook_TransientFaultIsRetryable(t *testing.T) {
	ts := NewTestServer(t)

	// The fake provider has no such customer; the lookup fault is
	// transient, so the provider must see a 500 and redeliver.
	w := ts.PostWebhook(`{"kind":"checkout_session.completed","data":{"id":"cs_1","customer":"cus_down"}}`)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected status %d, got %d: %s", http.StatusInternalServerError, w.Code, w.Body.String())
	}
}

func TestWebhook_CheckoutProvisionsAccount(t *testing.T) {
	ts := NewTestServer(t)
	ts.Provider.AddCustomer(&provider.Customer{
		ID:    "cus_1",
		Email: "buyer@example.com",
		Name:  "First Buyer",
	})

	w := ts.PostWebhook(`{"kind":"checkout_session.completed","data":{"id":"cs_1","customer":"cus_1"}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	if ts.Store.Len() != 1 {
		t.Fatalf("expected one provisioned account, got %d", ts.Store.Len())
	}
	if len(ts.Identity.ResetsSent) != 1 {
		t.Errorf("expected a credential reset notification, got %v", ts.Identity.ResetsSent)
	}
}

func TestWebhook_CheckoutWithoutEmailIsAcknowledged(t *testing.T) {
	ts := NewTestServer(t)
	ts.Provider.AddCustomer(&provider.Customer{ID: "cus_1"})

	// Permanent failure: retrying can never succeed, so the delivery is
	// acknowledged and no account is created.
	w := ts.PostWebhook(`{"kind":"checkout_session.completed","data":{"id":"cs_1","customer":"cus_1"}}`)
	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	if ts.Store.Len() != 0 {
		t.Errorf("no account may be created without a contact email")
	}
}

func TestMetrics_RequiresBasicAuth(t *testing.T) {
	ts := NewTestServer(t)

	w := ts.GET("/metrics", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status %d, got %d", http.StatusUnauthorized, w.Code)
	}
}
