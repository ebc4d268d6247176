package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	stripecustomer "github.com/stripe/stripe-go/v84/customer"

	"github.com/oakline/servicedesk-backend/account"
	"github.com/oakline/servicedesk-backend/internal/middleware"
)

type taxIDResponse struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	Value        string `json:"value"`
	Country      string `json:"country"`
	Verification string `json:"verification,omitempty"`
}

type accountResponse struct {
	ID                 uuid.UUID                     `json:"id"`
	Email              string                        `json:"email,omitempty"`
	Name               string                        `json:"name,omitempty"`
	Phone              string                        `json:"phone,omitempty"`
	ProviderCustomerID string                        `json:"providerCustomerId,omitempty"`
	SubscriptionStatus string                        `json:"subscriptionStatus,omitempty"`
	Subscription       *account.SubscriptionSnapshot `json:"subscription,omitempty"`
	TaxIDs             []taxIDResponse               `json:"taxIds"`
	LastReconciledAt   *time.Time                    `json:"lastReconciledAt,omitempty"`
}

func (a *API) accountHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	identityID, ok := middleware.GetIdentityID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHORIZED", "message": "Authentication required"})
		return
	}

	acct, err := a.store.FindByIdentityID(c.Request.Context(), identityID)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": "ACCOUNT_NOT_FOUND", "message": "Account not found"})
			return
		}
		logger.Error("failed to get account", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	taxIDs, err := a.store.TaxIDs(c.Request.Context(), acct.ID)
	if err != nil {
		logger.Error("failed to get tax ids", "account_id", acct.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, toAccountResponse(acct, taxIDs))
}

func toAccountResponse(acct *account.Account, taxIDs []account.TaxIDEntry) accountResponse {
	resp := accountResponse{
		ID:                 acct.ID,
		Email:              acct.Email.String,
		Name:               acct.Name.String,
		Phone:              acct.Phone.String,
		ProviderCustomerID: acct.ProviderCustomerID.String,
		SubscriptionStatus: acct.SubscriptionStatus.String,
		Subscription:       acct.Subscription,
		TaxIDs:             make([]taxIDResponse, 0, len(taxIDs)),
	}
	for _, t := range taxIDs {
		resp.TaxIDs = append(resp.TaxIDs, taxIDResponse{
			ID:           t.ProviderTaxID,
			Type:         t.Type,
			Value:        t.Value,
			Country:      t.Country,
			Verification: t.Verification.String,
		})
	}
	if acct.LastReconciledAt.Valid {
		resp.LastReconciledAt = &acct.LastReconciledAt.Time
	}
	return resp
}

type paymentMethodResponse struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Brand string `json:"brand,omitempty"`
	Last4 string `json:"last4,omitempty"`
}

// paymentMethodsHandler lists payment methods live from the provider.
// They are never stored locally, so there is no cached list to diverge
// from provider truth.
func (a *API) paymentMethodsHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	identityID, ok := middleware.GetIdentityID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHORIZED", "message": "Authentication required"})
		return
	}

	acct, err := a.store.FindByIdentityID(c.Request.Context(), identityID)
	if err != nil {
		logger.Error("failed to get account", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	if !acct.ProviderCustomerID.Valid {
		c.JSON(http.StatusPreconditionFailed, gin.H{"state": "no billing profile"})
		return
	}

	params := &stripe.CustomerListPaymentMethodsParams{
		Customer: stripe.String(acct.ProviderCustomerID.String),
	}
	result := stripecustomer.ListPaymentMethods(params)

	methods := make([]paymentMethodResponse, 0)
	for result.Next() {
		pm := result.PaymentMethod()
		resp := paymentMethodResponse{
			ID:   pm.ID,
			Type: string(pm.Type),
		}
		if pm.Card != nil {
			resp.Brand = string(pm.Card.Brand)
			resp.Last4 = pm.Card.Last4
		}
		methods = append(methods, resp)
	}
	if err := result.Err(); err != nil {
		logger.Error("failed to list payment methods", "account_id", acct.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, methods)
}
