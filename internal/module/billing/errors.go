package billing

import "errors"

// Domain errors for billing.
var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrSubscriptionExists   = errors.New("subscription already exists")

	// ErrNoBillingAttachment is returned when an operation requires a
	// provider-side subscription and the account has none (Free plan).
	ErrNoBillingAttachment = errors.New("subscription has no billing attachment")

	// ErrNoUsableSubscription is returned when reconciliation finds neither an
	// active nor a scheduled subscription at the billing provider. The caller
	// decides whether to downgrade the account to Free.
	ErrNoUsableSubscription = errors.New("no usable subscription at billing provider")

	// ErrDowngradeIncomplete is returned when the provider-side cancellation
	// succeeded but the local downgrade write failed. The local record is
	// stale until a reconciliation pass repairs it.
	ErrDowngradeIncomplete = errors.New("provider cancellation succeeded but local downgrade failed")

	ErrInvalidCancelMode = errors.New("invalid cancellation mode")
)
