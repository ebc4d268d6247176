package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/oakline/servicedesk-backend/billing"
	"github.com/oakline/servicedesk-backend/internal/middleware"
)

const webhookBodyLimit = 1024 * 1024 // 1MiB

// billingWebhookHandler is the inbound edge for provider events. Anything
// dispatched, including no-ops and unhandled kinds, is a 200 so the
// provider stops redelivering; 400 means the delivery itself was bad; 500
// is reserved for transient internal faults the provider should retry.
func (a *API) billingWebhookHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, webhookBodyLimit)
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	if err := a.verifier.Verify(body, c.GetHeader(billing.SignatureHeader)); err != nil {
		logger.Error("webhook signature verification failed", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
		return
	}

	ev, err := billing.ParseEvent(body)
	if err != nil {
		logger.Error("failed to parse webhook payload", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
		return
	}

	if err := a.dispatcher.Dispatch(c.Request.Context(), ev); err != nil {
		if errors.Is(err, billing.ErrMalformedPayload) {
			logger.Error("malformed event data", "kind", ev.Kind, "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
			return
		}
		logger.Error("failed to process webhook event", "kind", ev.Kind, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
