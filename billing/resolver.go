package billing

import (
	"context"
	"errors"

	"github.com/oakline/servicedesk-backend/account"
)

// Resolver maps a provider customer id to exactly one account. Lookup
// strategies are tried in order; accounts provisioned before the billing
// migration carry the id under a legacy column, hence the second strategy.
type Resolver struct {
	strategies []func(ctx context.Context, providerID string) (*account.Account, error)
}

func NewResolver(store account.Store) *Resolver {
	return &Resolver{
		strategies: []func(ctx context.Context, providerID string) (*account.Account, error){
			store.FindByProviderID,
			store.FindByLegacyProviderID,
		},
	}
}

// Resolve returns account.ErrNotFound once every strategy is exhausted.
// Events referencing customers created outside this system (for example
// manually in the provider dashboard) resolve to nothing; callers log and
// no-op rather than failing the delivery.
func (r *Resolver) Resolve(ctx context.Context, providerID string) (*account.Account, error) {
	for _, lookup := range r.strategies {
		a, err := lookup(ctx, providerID)
		if err == nil {
			return a, nil
		}
		if !errors.Is(err, account.ErrNotFound) {
			return nil, err
		}
	}
	return nil, account.ErrNotFound
}
