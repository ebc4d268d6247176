package billing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/oakline/servicedesk-backend/account"
)

var webhookEventsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "billing_webhook_events_total",
		Help: "Webhook events dispatched, by kind and outcome",
	},
	[]string{"kind", "outcome"},
)

const (
	outcomeApplied   = "applied"
	outcomeNoop      = "noop"
	outcomeUnhandled = "unhandled"
	outcomeRejected  = "rejected"
	outcomeError     = "error"
)

// Dispatcher routes a parsed event to its reconciliation handler. A kind
// it does not route is acknowledged and ignored; an account that cannot
// be resolved is a logged no-op. Only transient collaborator and
// datastore faults propagate, so the provider retries exactly those.
type Dispatcher struct {
	store       account.Store
	resolver    *Resolver
	provisioner *Provisioner
	logger      *slog.Logger
	now         func() time.Time
}

func NewDispatcher(store account.Store, provisioner *Provisioner, logger *slog.Logger, reg *prometheus.Registry) *Dispatcher {
	if reg != nil {
		reg.MustRegister(webhookEventsTotal)
	}
	return &Dispatcher{
		store:       store,
		resolver:    NewResolver(store),
		provisioner: provisioner,
		logger:      logger,
		now:         time.Now,
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) error {
	ctx, span := otel.Tracer("billing").Start(ctx, "billing.dispatch")
	defer span.End()
	span.SetAttributes(attribute.String("billing.event_kind", string(ev.Kind)))

	outcome, err := d.dispatch(ctx, ev)
	if err != nil {
		outcome = outcomeError
	}
	webhookEventsTotal.WithLabelValues(string(ev.Kind), outcome).Inc()
	return err
}

func (d *Dispatcher) dispatch(ctx context.Context, ev Event) (string, error) {
	switch ev.Kind {
	case KindSubscriptionUpdated:
		data, err := decodeData[SubscriptionEvent](ev)
		if err != nil {
			return "", err
		}
		return d.applyPatch(ctx, ev.Kind, data.Customer, subscriptionPatch(data))

	case KindSubscriptionDeleted:
		data, err := decodeData[SubscriptionEvent](ev)
		if err != nil {
			return "", err
		}
		return d.applyPatch(ctx, ev.Kind, data.Customer, subscriptionDeletedPatch())

	case KindCustomerUpdated:
		data, err := decodeData[CustomerEvent](ev)
		if err != nil {
			return "", err
		}
		return d.applyPatch(ctx, ev.Kind, data.ID, customerPatch(data))

	case KindPaymentMethodAttached, KindPaymentMethodDetached:
		// Monitoring only. Payment method listings are always fetched live
		// from the provider, so there is no cached state to reconcile.
		data, err := decodeData[PaymentMethodEvent](ev)
		if err != nil {
			return "", err
		}
		d.logger.InfoContext(ctx, "payment method event observed",
			"kind", ev.Kind, "payment_method", data.ID, "provider_customer_id", string(data.Customer))
		return outcomeNoop, nil

	case KindTaxIDCreated, KindTaxIDDeleted, KindTaxIDUpdated:
		data, err := decodeData[TaxIDEvent](ev)
		if err != nil {
			return "", err
		}
		return d.applyTaxID(ctx, ev.Kind, data)

	case KindCheckoutSessionCompleted:
		data, err := decodeData[CheckoutEvent](ev)
		if err != nil {
			return "", err
		}
		if err := d.provisioner.Provision(ctx, string(data.Customer)); err != nil {
			if errors.Is(err, ErrMissingContact) {
				// Permanent for this event; acknowledging stops the
				// provider from retrying a delivery that can never succeed.
				d.logger.ErrorContext(ctx, "cannot provision identity",
					"kind", ev.Kind, "provider_customer_id", string(data.Customer), "error", err)
				return outcomeRejected, nil
			}
			return "", err
		}
		return outcomeApplied, nil

	default:
		d.logger.InfoContext(ctx, "event kind not handled", "kind", ev.Kind)
		return outcomeUnhandled, nil
	}
}

// applyPatch resolves the account and applies a field-level merge. The
// patch is computed from the event alone, never from a previously loaded
// copy, so concurrent deliveries only contend on the fields they touch.
func (d *Dispatcher) applyPatch(ctx context.Context, kind Kind, providerID string, p account.Patch) (string, error) {
	a, err := d.resolver.Resolve(ctx, providerID)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			d.logger.InfoContext(ctx, "no account for provider customer",
				"kind", kind, "provider_customer_id", providerID)
			return outcomeNoop, nil
		}
		return "", err
	}

	now := d.now()
	p.LastReconciledAt = &now
	if err := d.store.Patch(ctx, a.ID, p); err != nil {
		d.logger.ErrorContext(ctx, "failed to patch account",
			"kind", kind, "account_id", a.ID, "error", err)
		return "", err
	}
	return outcomeApplied, nil
}

func (d *Dispatcher) applyTaxID(ctx context.Context, kind Kind, ev TaxIDEvent) (string, error) {
	a, err := d.resolver.Resolve(ctx, ev.Customer)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			d.logger.InfoContext(ctx, "no account for provider customer",
				"kind", kind, "provider_customer_id", ev.Customer)
			return outcomeNoop, nil
		}
		return "", err
	}

	switch kind {
	case KindTaxIDCreated:
		err = d.store.AppendTaxID(ctx, a.ID, taxIDEntry(ev))
	case KindTaxIDDeleted:
		err = d.store.RemoveTaxID(ctx, a.ID, ev.ID)
	case KindTaxIDUpdated:
		err = d.store.PatchTaxID(ctx, a.ID, ev.ID, taxIDPatch(ev))
	}
	if err != nil {
		d.logger.ErrorContext(ctx, "failed to reconcile tax id",
			"kind", kind, "account_id", a.ID, "tax_id", ev.ID, "error", err)
		return "", err
	}

	if err := d.store.Patch(ctx, a.ID, account.Touch(d.now())); err != nil {
		return "", err
	}
	return outcomeApplied, nil
}
