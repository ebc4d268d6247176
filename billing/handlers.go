package billing

import (
	"database/sql"
	"time"

	"github.com/oakline/servicedesk-backend/account"
)

// Patch builders are pure functions of the event payload. They assume
// nothing about delivery order or count: replaying the same event produces
// the same patch, and applying it twice leaves the account unchanged.

// subscriptionPatch builds a full-replacement snapshot. Only the first
// line item's price/product/quantity is kept; the provider exposes a
// single primary subscription per customer for this system's purposes.
func subscriptionPatch(ev SubscriptionEvent) account.Patch {
	snap := account.SubscriptionSnapshot{
		ID:                 ev.ID,
		Status:             account.SubscriptionStatus(ev.Status),
		CurrentPeriodStart: time.Unix(ev.CurrentPeriodStart, 0).UTC(),
		CurrentPeriodEnd:   time.Unix(ev.CurrentPeriodEnd, 0).UTC(),
		CancelAtPeriodEnd:  ev.CancelAtPeriodEnd,
	}
	if ev.CanceledAt != nil {
		t := time.Unix(*ev.CanceledAt, 0).UTC()
		snap.CanceledAt = &t
	}
	if len(ev.Items) > 0 {
		snap.PriceID = ev.Items[0].Price
		snap.ProductID = ev.Items[0].Product
		snap.Quantity = ev.Items[0].Quantity
	}

	status := ev.Status
	return account.Patch{
		Subscription:       &snap,
		SubscriptionStatus: &status,
	}
}

// subscriptionDeletedPatch clears the snapshot wholesale and marks the
// top-level status canceled. The account itself persists.
func subscriptionDeletedPatch() account.Patch {
	status := string(account.SubscriptionCanceled)
	return account.Patch{
		ClearSubscription:  true,
		SubscriptionStatus: &status,
	}
}

// customerPatch maps only the fields present in the payload; everything
// absent stays untouched on the account.
func customerPatch(ev CustomerEvent) account.Patch {
	var p account.Patch
	p.Email = ev.Email
	if ev.DefaultPaymentMethod != nil {
		pm := string(*ev.DefaultPaymentMethod)
		p.DefaultPaymentMethodID = &pm
	}
	if ev.Address != nil {
		p.AddressLine1 = ev.Address.Line1
		p.AddressLine2 = ev.Address.Line2
		p.City = ev.Address.City
		p.Region = ev.Address.State
		p.PostalCode = ev.Address.PostalCode
		p.Country = ev.Address.Country
	}
	return p
}

func taxIDEntry(ev TaxIDEvent) account.TaxIDEntry {
	entry := account.TaxIDEntry{
		ProviderTaxID: ev.ID,
		Type:          ev.Type,
		Value:         ev.Value,
		Country:       ev.Country,
		CreatedAt:     time.Unix(ev.Created, 0).UTC(),
	}
	if ev.Verification != nil {
		entry.Verification = sql.NullString{String: *ev.Verification, Valid: true}
	}
	return entry
}

func taxIDPatch(ev TaxIDEvent) account.TaxIDPatch {
	p := account.TaxIDPatch{Verification: ev.Verification}
	if ev.Updated != nil {
		t := time.Unix(*ev.Updated, 0).UTC()
		p.UpdatedAt = &t
	}
	return p
}
