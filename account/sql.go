package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) FindByProviderID(ctx context.Context, providerID string) (*Account, error) {
	return r.findOne(ctx, findByProviderIDQuery, providerID)
}

const findByProviderIDQuery = `SELECT * FROM accounts WHERE provider_customer_id = $1`

func (r *Repository) FindByLegacyProviderID(ctx context.Context, providerID string) (*Account, error) {
	return r.findOne(ctx, findByLegacyProviderIDQuery, providerID)
}

const findByLegacyProviderIDQuery = `SELECT * FROM accounts WHERE billing_customer_id = $1`

func (r *Repository) FindByEmail(ctx context.Context, email string) (*Account, error) {
	return r.findOne(ctx, findByEmailQuery, email)
}

const findByEmailQuery = `SELECT * FROM accounts WHERE email = $1`

func (r *Repository) FindByIdentityID(ctx context.Context, identityID string) (*Account, error) {
	return r.findOne(ctx, findByIdentityIDQuery, identityID)
}

const findByIdentityIDQuery = `SELECT * FROM accounts WHERE identity_id = $1`

func (r *Repository) findOne(ctx context.Context, query string, arg any) (*Account, error) {
	var a Account
	err := r.db.GetContext(ctx, &a, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *Repository) Create(ctx context.Context, a *Account) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return r.db.GetContext(ctx, a, createAccountQuery,
		a.ID, a.IdentityID, a.ProviderCustomerID, a.Email, a.Name, a.Phone, a.Role)
}

const createAccountQuery = `
INSERT INTO accounts (id, identity_id, provider_customer_id, email, name, phone, role, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, now())
RETURNING *
`

// Patch updates only the columns the patch sets. Untouched columns are
// never mentioned in the statement, so concurrent patches to disjoint
// fields cannot clobber each other.
func (r *Repository) Patch(ctx context.Context, id uuid.UUID, p Patch) error {
	cols := p.columns()
	if len(cols) == 0 {
		return nil
	}

	set := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols)+1)
	for i, c := range cols {
		set = append(set, fmt.Sprintf("%s = $%d", c.name, i+1))
		args = append(args, c.value)
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE accounts SET %s WHERE id = $%d", strings.Join(set, ", "), len(args))
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type patchColumn struct {
	name  string
	value any
}

// columns flattens the patch into column/value pairs in a fixed order.
func (p Patch) columns() []patchColumn {
	var cols []patchColumn
	add := func(name string, v *string) {
		if v != nil {
			cols = append(cols, patchColumn{name, *v})
		}
	}
	add("identity_id", p.IdentityID)
	add("provider_customer_id", p.ProviderCustomerID)
	add("email", p.Email)
	add("name", p.Name)
	add("phone", p.Phone)
	add("role", p.Role)
	add("address_line1", p.AddressLine1)
	add("address_line2", p.AddressLine2)
	add("city", p.City)
	add("region", p.Region)
	add("postal_code", p.PostalCode)
	add("country", p.Country)
	add("default_payment_method_id", p.DefaultPaymentMethodID)
	if p.Subscription != nil {
		cols = append(cols, patchColumn{"subscription", *p.Subscription})
	} else if p.ClearSubscription {
		cols = append(cols, patchColumn{"subscription", nil})
	}
	add("subscription_status", p.SubscriptionStatus)
	if p.LastReconciledAt != nil {
		cols = append(cols, patchColumn{"last_reconciled_at", *p.LastReconciledAt})
	}
	return cols
}

func (r *Repository) TaxIDs(ctx context.Context, id uuid.UUID) ([]TaxIDEntry, error) {
	var entries []TaxIDEntry
	err := r.db.SelectContext(ctx, &entries, taxIDsQuery, id)
	return entries, err
}

const taxIDsQuery = `SELECT provider_tax_id, type, value, country, verification, created_at, updated_at
FROM account_tax_ids WHERE account_id = $1 ORDER BY created_at ASC`

// AppendTaxID inserts the entry unless one with the same provider tax-id
// already exists, so duplicate deliveries of the creation event are no-ops.
func (r *Repository) AppendTaxID(ctx context.Context, id uuid.UUID, entry TaxIDEntry) error {
	_, err := r.db.ExecContext(ctx, appendTaxIDQuery,
		id, entry.ProviderTaxID, entry.Type, entry.Value, entry.Country, entry.Verification, entry.CreatedAt)
	return err
}

const appendTaxIDQuery = `
INSERT INTO account_tax_ids (account_id, provider_tax_id, type, value, country, verification, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (account_id, provider_tax_id) DO NOTHING
`

func (r *Repository) RemoveTaxID(ctx context.Context, id uuid.UUID, providerTaxID string) error {
	_, err := r.db.ExecContext(ctx, removeTaxIDQuery, id, providerTaxID)
	return err
}

const removeTaxIDQuery = `DELETE FROM account_tax_ids WHERE account_id = $1 AND provider_tax_id = $2`

func (r *Repository) PatchTaxID(ctx context.Context, id uuid.UUID, providerTaxID string, p TaxIDPatch) error {
	verification := sql.NullString{}
	if p.Verification != nil {
		verification = sql.NullString{String: *p.Verification, Valid: true}
	}
	updatedAt := sql.NullTime{}
	if p.UpdatedAt != nil {
		updatedAt = sql.NullTime{Time: *p.UpdatedAt, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, patchTaxIDQuery, id, providerTaxID, verification, updatedAt)
	return err
}

const patchTaxIDQuery = `
UPDATE account_tax_ids
SET verification = COALESCE($3, verification),
    updated_at = COALESCE($4, updated_at)
WHERE account_id = $1 AND provider_tax_id = $2
`

var _ Store = (*Repository)(nil)

// Touch builds a patch that stamps last_reconciled_at and nothing else.
func Touch(t time.Time) Patch {
	return Patch{LastReconciledAt: &t}
}
