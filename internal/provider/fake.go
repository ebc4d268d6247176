package provider

import "context"

// FakeClient is a test implementation of Client
type FakeClient struct {
	Customers map[string]*Customer // keyed by provider customer id
}

func NewFakeClient() *FakeClient {
	return &FakeClient{
		Customers: make(map[string]*Customer),
	}
}

func (c *FakeClient) GetCustomer(ctx context.Context, id string) (*Customer, error) {
	if cust, ok := c.Customers[id]; ok {
		return cust, nil
	}
	return nil, ErrLookupFailed
}

// AddCustomer adds a customer to the fake for testing
func (c *FakeClient) AddCustomer(cust *Customer) {
	c.Customers[cust.ID] = cust
}
