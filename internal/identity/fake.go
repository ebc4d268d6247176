package identity

import (
	"context"
	"fmt"
)

// FakeClient is a test implementation of Client
type FakeClient struct {
	Users map[string]*User // keyed by email

	CreatedPasswords map[string]string // email -> initial credential
	ResetsSent       []string
	FailResets       bool
}

func NewFakeClient() *FakeClient {
	return &FakeClient{
		Users:            make(map[string]*User),
		CreatedPasswords: make(map[string]string),
	}
}

func (c *FakeClient) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	if user, ok := c.Users[email]; ok {
		return user, nil
	}
	return nil, ErrNotFound
}

func (c *FakeClient) CreateUser(ctx context.Context, params CreateUserParams) (*User, error) {
	user := &User{
		ID:    fmt.Sprintf("user_%d", len(c.Users)+1),
		Email: params.Email,
		Name:  params.Name,
	}
	c.Users[params.Email] = user
	c.CreatedPasswords[params.Email] = params.Password
	return user, nil
}

func (c *FakeClient) SendPasswordReset(ctx context.Context, email string) error {
	if c.FailResets {
		return ErrRequestFailed
	}
	c.ResetsSent = append(c.ResetsSent, email)
	return nil
}

// AddUser adds a user to the fake for testing
func (c *FakeClient) AddUser(user *User) {
	c.Users[user.Email] = user
}
