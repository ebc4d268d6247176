package account

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

var ErrNotFound = errors.New("account not found")

type SubscriptionStatus string

const (
	SubscriptionTrialing   SubscriptionStatus = "trialing"
	SubscriptionActive     SubscriptionStatus = "active"
	SubscriptionPastDue    SubscriptionStatus = "past_due"
	SubscriptionCanceled   SubscriptionStatus = "canceled"
	SubscriptionUnpaid     SubscriptionStatus = "unpaid"
	SubscriptionIncomplete SubscriptionStatus = "incomplete"
)

type Account struct {
	ID                 uuid.UUID      `db:"id"`
	IdentityID         sql.NullString `db:"identity_id"`
	ProviderCustomerID sql.NullString `db:"provider_customer_id"`
	// Accounts provisioned before the billing migration carry the same
	// logical id under billing_customer_id instead.
	LegacyProviderCustomerID sql.NullString `db:"billing_customer_id"`
	Email                    sql.NullString `db:"email"`
	Name                     sql.NullString `db:"name"`
	Phone                    sql.NullString `db:"phone"`
	Role                     sql.NullString `db:"role"`

	AddressLine1 sql.NullString `db:"address_line1"`
	AddressLine2 sql.NullString `db:"address_line2"`
	City         sql.NullString `db:"city"`
	Region       sql.NullString `db:"region"`
	PostalCode   sql.NullString `db:"postal_code"`
	Country      sql.NullString `db:"country"`

	DefaultPaymentMethodID sql.NullString        `db:"default_payment_method_id"`
	Subscription           *SubscriptionSnapshot `db:"subscription"`
	SubscriptionStatus     sql.NullString        `db:"subscription_status"`

	LastReconciledAt sql.NullTime `db:"last_reconciled_at"`
	CreatedAt        time.Time    `db:"created_at"`
}

// SubscriptionSnapshot is the account's view of its primary provider
// subscription. It is replaced wholesale on every subscription update and
// cleared, never partially nulled, on deletion.
type SubscriptionSnapshot struct {
	ID                 string             `json:"id"`
	Status             SubscriptionStatus `json:"status"`
	CurrentPeriodStart time.Time          `json:"currentPeriodStart"`
	CurrentPeriodEnd   time.Time          `json:"currentPeriodEnd"`
	CancelAtPeriodEnd  bool               `json:"cancelAtPeriodEnd"`
	CanceledAt         *time.Time         `json:"canceledAt,omitempty"`
	PriceID            string             `json:"priceId"`
	ProductID          string             `json:"productId"`
	Quantity           int64              `json:"quantity"`
}

// Stored as a single jsonb column so replacement and clearing are atomic.
func (s SubscriptionSnapshot) Value() (driver.Value, error) {
	return json.Marshal(s)
}

func (s *SubscriptionSnapshot) Scan(i any) error {
	switch v := i.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	}
	return fmt.Errorf("cannot scan %T into SubscriptionSnapshot", i)
}

type TaxIDEntry struct {
	ProviderTaxID string         `db:"provider_tax_id" json:"id"`
	Type          string         `db:"type" json:"type"`
	Value         string         `db:"value" json:"value"`
	Country       string         `db:"country" json:"country"`
	Verification  sql.NullString `db:"verification" json:"verification,omitempty"`
	CreatedAt     time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt     sql.NullTime   `db:"updated_at" json:"updatedAt,omitempty"`
}

// Patch describes a field-level merge against one account. Nil fields are
// left untouched, so concurrent writers only contend on the fields they
// both set. Subscription replacement and clearing are explicit so a nil
// Subscription pointer still means "untouched".
type Patch struct {
	IdentityID             *string
	ProviderCustomerID     *string
	Email                  *string
	Name                   *string
	Phone                  *string
	Role                   *string
	AddressLine1           *string
	AddressLine2           *string
	City                   *string
	Region                 *string
	PostalCode             *string
	Country                *string
	DefaultPaymentMethodID *string
	Subscription           *SubscriptionSnapshot
	ClearSubscription      bool
	SubscriptionStatus     *string
	LastReconciledAt       *time.Time
}

// IsZero reports whether applying the patch would write nothing.
func (p Patch) IsZero() bool {
	return len(p.columns()) == 0
}

// TaxIDPatch patches a single tax-id entry in place.
type TaxIDPatch struct {
	Verification *string
	UpdatedAt    *time.Time
}

// Store is the datastore surface the reconciliation core depends on.
// Repository implements it against Postgres; FakeStore implements it in
// memory for tests.
type Store interface {
	FindByProviderID(ctx context.Context, providerID string) (*Account, error)
	FindByLegacyProviderID(ctx context.Context, providerID string) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindByIdentityID(ctx context.Context, identityID string) (*Account, error)
	Create(ctx context.Context, a *Account) error
	Patch(ctx context.Context, id uuid.UUID, p Patch) error
	TaxIDs(ctx context.Context, id uuid.UUID) ([]TaxIDEntry, error)
	AppendTaxID(ctx context.Context, id uuid.UUID, entry TaxIDEntry) error
	RemoveTaxID(ctx context.Context, id uuid.UUID, providerTaxID string) error
	PatchTaxID(ctx context.Context, id uuid.UUID, providerTaxID string, p TaxIDPatch) error
}
