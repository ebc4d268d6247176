// Package provider wraps the payment provider's API behind a small
// interface so the reconciliation core never depends on SDK call shapes.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/customer"
)

var ErrLookupFailed = errors.New("failed to fetch provider customer")

type Customer struct {
	ID    string
	Email string
	Name  string
	Phone string
}

// Client is an interface for provider API operations.
type Client interface {
	GetCustomer(ctx context.Context, id string) (*Customer, error)
}

// StripeClient implements Client against the Stripe API.
type StripeClient struct {
	timeout time.Duration
}

func NewStripeClient() *StripeClient {
	return &StripeClient{timeout: 10 * time.Second}
}

func (c *StripeClient) GetCustomer(ctx context.Context, id string) (*Customer, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := &stripe.CustomerParams{}
	params.Context = ctx
	cust, err := customer.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}

	return &Customer{
		ID:    cust.ID,
		Email: cust.Email,
		Name:  cust.Name,
		Phone: cust.Phone,
	}, nil
}
