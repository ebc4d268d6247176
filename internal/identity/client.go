// Package identity talks to the identity service's management API to
// find and create login-capable users.
package identity

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
)

var (
	ErrNotFound      = errors.New("identity not found")
	ErrRequestFailed = errors.New("identity request failed")
)

// User represents a login-capable identity.
type User struct {
	ID    string `json:"user_id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

type CreateUserParams struct {
	Email    string
	Name     string
	Phone    string
	Password string
	Role     string
}

// Client is an interface for identity service operations.
type Client interface {
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	CreateUser(ctx context.Context, params CreateUserParams) (*User, error)
	SendPasswordReset(ctx context.Context, email string) error
}

// HTTPClient implements Client using real HTTP calls against the
// management API.
type HTTPClient struct {
	domain     string
	token      string
	httpClient *http.Client
}

func NewHTTPClient(domain, token string) *HTTPClient {
	return &HTTPClient{
		domain: domain,
		token:  token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *HTTPClient) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	u := fmt.Sprintf("https://%s/api/v2/users-by-email?email=%s", c.domain, url.QueryEscape(email))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrRequestFailed, resp.StatusCode)
	}

	var users []User
	if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	if len(users) == 0 {
		return nil, ErrNotFound
	}
	return &users[0], nil
}

func (c *HTTPClient) CreateUser(ctx context.Context, params CreateUserParams) (*User, error) {
	body, err := json.Marshal(map[string]any{
		"email":    params.Email,
		"name":     params.Name,
		"phone":    params.Phone,
		"password": params.Password,
		"app_metadata": map[string]string{
			"role": params.Role,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}

	u := fmt.Sprintf("https://%s/api/v2/users", c.domain)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrRequestFailed, resp.StatusCode)
	}

	var user User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	return &user, nil
}

func (c *HTTPClient) SendPasswordReset(ctx context.Context, email string) error {
	body, err := json.Marshal(map[string]string{"email": email})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}

	u := fmt.Sprintf("https://%s/dbconnections/change_password", c.domain)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrRequestFailed, resp.StatusCode)
	}
	return nil
}
