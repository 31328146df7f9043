package provider

import (
	"context"
	"errors"
	"time"
)

// Subscription is a snapshot of a subscription as reported by the billing
// provider. It is never persisted.
type Subscription struct {
	ID                 string
	CustomerID         string
	Status             string // provider vocabulary: active, trialing, past_due, canceled, ...
	Scheduled          bool   // attached to a provider-side schedule, not yet the live subscription
	PriceID            string
	CurrentPeriodStart int64 // epoch seconds, 0 when absent
	CurrentPeriodEnd   int64
	CancelAtPeriodEnd  bool
	CreatedAt          int64
}

// UpdatePatch holds the subscription fields the application patches upstream.
type UpdatePatch struct {
	CancelAtPeriodEnd *bool
}

// WebhookEvent is a parsed, verified provider webhook notification.
type WebhookEvent struct {
	Type        string
	CustomerRef string
}

// ErrSubscriptionGone is returned when the provider reports the subscription
// missing or already canceled. Cancellation callers treat it as success
// (at-least-once semantics).
var ErrSubscriptionGone = errors.New("subscription missing or already canceled at provider")

// Provider is the narrow billing provider surface the engines consume.
// Returned lists are assumed ordered newest-first, but callers must not
// hard-fail if that assumption is violated.
type Provider interface {
	Name() string
	ListSubscriptions(ctx context.Context, customerID string) ([]*Subscription, error)
	UpdateSubscription(ctx context.Context, subscriptionID string, patch UpdatePatch) (*Subscription, error)
	CancelSubscription(ctx context.Context, subscriptionID string, immediately bool) error
}

// CallObserver receives provider call telemetry. May be nil.
type CallObserver interface {
	RecordProviderCall(operation string, err error, duration time.Duration)
}
