// Package billing ingests lifecycle events from the payment provider and
// reconciles them into the account datastore.
package billing

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

var ErrMalformedPayload = errors.New("malformed event payload")

type Kind string

const (
	KindSubscriptionUpdated      Kind = "subscription.updated"
	KindSubscriptionDeleted      Kind = "subscription.deleted"
	KindPaymentMethodAttached    Kind = "payment_method.attached"
	KindPaymentMethodDetached    Kind = "payment_method.detached"
	KindCustomerUpdated          Kind = "customer.updated"
	KindTaxIDCreated             Kind = "tax_id.created"
	KindTaxIDDeleted             Kind = "tax_id.deleted"
	KindTaxIDUpdated             Kind = "tax_id.updated"
	KindCheckoutSessionCompleted Kind = "checkout_session.completed"
)

// Event is the decoded envelope. Kinds this service does not understand
// decode successfully; the dispatcher acknowledges and ignores them,
// because the provider's event catalog evolves independently of this code.
type Event struct {
	Kind Kind            `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// ParseEvent decodes a verified payload into an Event. It fails only when
// the body is not well-formed JSON or carries no kind.
func ParseEvent(payload []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if ev.Kind == "" {
		return Event{}, fmt.Errorf("%w: missing kind", ErrMalformedPayload)
	}
	return ev, nil
}

// IDRef decodes either a bare id string or an embedded object carrying an
// id, which the provider uses interchangeably for expandable fields.
type IDRef string

func (r *IDRef) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*r = IDRef(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*r = IDRef(obj.ID)
	return nil
}

type SubscriptionItem struct {
	Price    string `json:"price"`
	Product  string `json:"product"`
	Quantity int64  `json:"quantity"`
}

type SubscriptionEvent struct {
	ID                 string             `json:"id"`
	Customer           string             `json:"customer"`
	Status             string             `json:"status"`
	CurrentPeriodStart int64              `json:"current_period_start"`
	CurrentPeriodEnd   int64              `json:"current_period_end"`
	CancelAtPeriodEnd  bool               `json:"cancel_at_period_end"`
	CanceledAt         *int64             `json:"canceled_at"`
	Items              []SubscriptionItem `json:"items"`
}

type EventAddress struct {
	Line1      *string `json:"line1"`
	Line2      *string `json:"line2"`
	City       *string `json:"city"`
	State      *string `json:"state"`
	PostalCode *string `json:"postal_code"`
	Country    *string `json:"country"`
}

// CustomerEvent carries only the fields the provider sent; nil means the
// field was absent and must be left untouched on the account.
type CustomerEvent struct {
	ID                   string        `json:"id"`
	Email                *string       `json:"email"`
	DefaultPaymentMethod *IDRef        `json:"default_payment_method"`
	Address              *EventAddress `json:"address"`
}

type TaxIDEvent struct {
	ID           string  `json:"id"`
	Customer     string  `json:"customer"`
	Type         string  `json:"type"`
	Value        string  `json:"value"`
	Country      string  `json:"country"`
	Created      int64   `json:"created"`
	Verification *string `json:"verification"`
	Updated      *int64  `json:"updated"`
}

type PaymentMethodEvent struct {
	ID       string `json:"id"`
	Customer IDRef  `json:"customer"`
	Type     string `json:"type"`
}

type CheckoutEvent struct {
	ID       string `json:"id"`
	Customer IDRef  `json:"customer"`
}

func decodeData[T any](ev Event) (T, error) {
	var data T
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		return data, fmt.Errorf("%w: %s data: %v", ErrMalformedPayload, ev.Kind, err)
	}
	return data, nil
}
