package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oakline/servicedesk-backend/account"
	"github.com/oakline/servicedesk-backend/billing"
	"github.com/oakline/servicedesk-backend/internal/middleware"
	"github.com/oakline/servicedesk-backend/internal/o11y"
)

type API struct {
	r          *gin.Engine
	store      account.Store
	dispatcher *billing.Dispatcher
	verifier   *billing.Verifier
	logger     *slog.Logger
}

func New(store account.Store, dispatcher *billing.Dispatcher, verifier *billing.Verifier,
	obs *o11y.Observability, auth0Domain, audience, metricsUsername, metricsPassword string) (*API, error) {
	a := &API{
		r:          gin.New(),
		store:      store,
		dispatcher: dispatcher,
		verifier:   verifier,
		logger:     obs.Logger,
	}

	a.r.Use(gin.Recovery())
	a.r.Use(middleware.Tracing())
	a.r.Use(middleware.Logging(obs.Logger))
	a.r.Use(middleware.Metrics(obs.Registry))

	a.r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Signature verification is the authentication mechanism here.
	a.r.POST("/webhooks/billing", a.billingWebhookHandler)

	if metricsUsername != "" {
		metrics := a.r.Group("/metrics", gin.BasicAuth(gin.Accounts{
			metricsUsername: metricsPassword,
		}))
		metrics.GET("", gin.WrapH(promhttp.HandlerFor(obs.Registry, promhttp.HandlerOpts{})))
	}

	if auth0Domain != "" {
		jwt, err := middleware.JWT(auth0Domain, audience)
		if err != nil {
			return nil, err
		}
		protected := a.r.Group("/billing")
		protected.Use(jwt)
		protected.GET("/account", a.accountHandler)
		protected.GET("/payment-methods", a.paymentMethodsHandler)
	}

	return a, nil
}

func (a *API) Router() *gin.Engine {
	return a.r
}
