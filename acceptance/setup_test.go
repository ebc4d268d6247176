package acceptance

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/oakline/servicedesk-backend/account"
	"github.com/oakline/servicedesk-backend/api"
	"github.com/oakline/servicedesk-backend/billing"
	"github.com/oakline/servicedesk-backend/internal/identity"
	"github.com/oakline/servicedesk-backend/internal/o11y"
	"github.com/oakline/servicedesk-backend/internal/provider"
)

const webhookSecret = "whsec_acceptance"

type TestServer struct {
	Router   *gin.Engine
	Store    *account.FakeStore
	Provider *provider.FakeClient
	Identity *identity.FakeClient
}

func NewTestServer(t *testing.T) *TestServer {
	t.Helper()

	gin.SetMode(gin.TestMode)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	obs := &o11y.Observability{
		Logger:   logger,
		Registry: prometheus.NewRegistry(),
	}

	store := account.NewFakeStore()
	pc := provider.NewFakeClient()
	ic := identity.NewFakeClient()

	provisioner := billing.NewProvisioner(pc, ic, store, logger)
	dispatcher := billing.NewDispatcher(store, provisioner, logger, obs.Registry)
	verifier := billing.NewVerifier(webhookSecret, billing.DefaultTolerance)

	a, err := api.New(store, dispatcher, verifier, obs, "", "", "metrics", "metrics-password")
	if err != nil {
		t.Fatalf("failed to build api: %v", err)
	}

	return &TestServer{
		Router:   a.Router(),
		Store:    store,
		Provider: pc,
		Identity: ic,
	}
}

// PostWebhook delivers a payload with a freshly computed signature.
func (ts *TestServer) PostWebhook(body string) *httptest.ResponseRecorder {
	return ts.PostWebhookSigned(body, billing.Sign(webhookSecret, time.Now(), []byte(body)))
}

func (ts *TestServer) PostWebhookSigned(body, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(billing.SignatureHeader, signature)
	}
	w := httptest.NewRecorder()
	ts.Router.ServeHTTP(w, req)
	return w
}

func (ts *TestServer) GET(path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	ts.Router.ServeHTTP(w, req)
	return w
}
