package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

// StripeConfig holds Stripe configuration.
type StripeConfig struct {
	APIKey        string
	WebhookSecret string
}

// StripeProvider implements Provider against the Stripe API.
// All calls run through a shared circuit breaker so a Stripe outage fails
// fast instead of tying up request handlers.
type StripeProvider struct {
	api           *client.API
	webhookSecret string
	breaker       *gobreaker.CircuitBreaker[any]
	observer      CallObserver
}

// NewStripeProvider creates a new Stripe provider with its own client handle.
func NewStripeProvider(cfg *StripeConfig, observer CallObserver) *StripeProvider {
	api := &client.API{}
	api.Init(cfg.APIKey, nil)

	settings := gobreaker.Settings{
		Name:    "stripe",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}

	return &StripeProvider{
		api:           api,
		webhookSecret: cfg.WebhookSecret,
		breaker:       gobreaker.NewCircuitBreaker[any](settings),
		observer:      observer,
	}
}

// Name returns the provider name.
func (p *StripeProvider) Name() string {
	return "stripe"
}

// ListSubscriptions returns all subscriptions for a customer, newest first
// (Stripe's own ordering).
func (p *StripeProvider) ListSubscriptions(ctx context.Context, customerID string) ([]*Subscription, error) {
	result, err := p.execute(ctx, "list_subscriptions", func() (any, error) {
		params := &stripe.SubscriptionListParams{
			Customer: stripe.String(customerID),
			Status:   stripe.String("all"),
		}
		params.Context = ctx

		var subs []*Subscription
		iter := p.api.Subscriptions.List(params)
		for iter.Next() {
			subs = append(subs, mapStripeSubscription(iter.Subscription()))
		}
		if err := iter.Err(); err != nil {
			return nil, fmt.Errorf("list subscriptions: %w", err)
		}
		return subs, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]*Subscription), nil
}

// UpdateSubscription patches a subscription upstream.
func (p *StripeProvider) UpdateSubscription(ctx context.Context, subscriptionID string, patch UpdatePatch) (*Subscription, error) {
	result, err := p.execute(ctx, "update_subscription", func() (any, error) {
		params := &stripe.SubscriptionParams{}
		params.Context = ctx
		if patch.CancelAtPeriodEnd != nil {
			params.CancelAtPeriodEnd = stripe.Bool(*patch.CancelAtPeriodEnd)
		}
		sub, err := p.api.Subscriptions.Update(subscriptionID, params)
		if err != nil {
			return nil, fmt.Errorf("update subscription: %w", mapStripeError(err))
		}
		return mapStripeSubscription(sub), nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*Subscription), nil
}

// CancelSubscription cancels a subscription upstream. With immediately=false
// it only sets cancel-at-period-end.
func (p *StripeProvider) CancelSubscription(ctx context.Context, subscriptionID string, immediately bool) error {
	_, err := p.execute(ctx, "cancel_subscription", func() (any, error) {
		if immediately {
			params := &stripe.SubscriptionCancelParams{}
			params.Context = ctx
			if _, err := p.api.Subscriptions.Cancel(subscriptionID, params); err != nil {
				return nil, mapStripeError(err)
			}
			return nil, nil
		}
		params := &stripe.SubscriptionParams{
			CancelAtPeriodEnd: stripe.Bool(true),
		}
		params.Context = ctx
		if _, err := p.api.Subscriptions.Update(subscriptionID, params); err != nil {
			return nil, mapStripeError(err)
		}
		return nil, nil
	})
	return err
}

// ParseWebhook verifies a webhook payload signature and extracts the fields
// the application reacts to.
func (p *StripeProvider) ParseWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	event, err := webhook.ConstructEvent(payload, signature, p.webhookSecret)
	if err != nil {
		return nil, fmt.Errorf("verify webhook: %w", err)
	}

	parsed := &WebhookEvent{Type: string(event.Type)}
	if customer, ok := event.Data.Object["customer"].(string); ok {
		parsed.CustomerRef = customer
	}
	return parsed, nil
}

// IsTransient reports whether an error is a transient upstream failure that
// is safe to retry with backoff.
func IsTransient(err error) bool {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return true
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.HTTPStatusCode >= 500 || stripeErr.HTTPStatusCode == 429
	}
	return false
}

// execute runs a provider call through the circuit breaker and records
// telemetry. ErrSubscriptionGone propagates to the caller but does not count
// as a breaker failure.
func (p *StripeProvider) execute(ctx context.Context, operation string, fn func() (any, error)) (any, error) {
	start := time.Now()
	var gone error
	result, err := p.breaker.Execute(func() (any, error) {
		res, callErr := fn()
		if errors.Is(callErr, ErrSubscriptionGone) {
			gone = callErr
			return res, nil
		}
		return res, callErr
	})
	if err == nil && gone != nil {
		err = gone
	}
	if p.observer != nil {
		p.observer.RecordProviderCall(operation, err, time.Since(start))
	}
	return result, err
}

// mapStripeError normalizes missing/canceled subscription errors.
func mapStripeError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.Code == stripe.ErrorCodeResourceMissing || stripeErr.HTTPStatusCode == 404 {
			return ErrSubscriptionGone
		}
	}
	return err
}

func mapStripeSubscription(sub *stripe.Subscription) *Subscription {
	mapped := &Subscription{
		ID:                 sub.ID,
		Status:             string(sub.Status),
		Scheduled:          sub.Schedule != nil,
		CurrentPeriodStart: sub.CurrentPeriodStart,
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		CreatedAt:          sub.Created,
	}
	if sub.Customer != nil {
		mapped.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		mapped.PriceID = sub.Items.Data[0].Price.ID
	}
	return mapped
}
