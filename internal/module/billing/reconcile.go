package billing

import (
	"time"

	"github.com/mailvet/server/internal/module/billing/provider"
)

// Selection reasons reported by SelectAuthoritative.
const (
	ReasonForcedImmediateUpgrade = "forced-immediate-upgrade"
	ReasonActiveSubscription     = "active-subscription"
	ReasonNoActiveUsingScheduled = "no-active-using-scheduled"
)

// SelectOptions controls authoritative subscription selection.
type SelectOptions struct {
	// ForceImmediate prefers a scheduled subscription over any active one and
	// marks the active set for cancellation (immediate cutover).
	ForceImmediate bool
}

// Selection is the outcome of choosing the authoritative subscription from
// the provider's list. Cancellations are returned as intents, never executed
// here: selection is a pure decision step.
type Selection struct {
	Chosen                 *provider.Subscription
	Reason                 string
	MultipleActiveDetected bool
	CancelRefs             []string
}

// SelectAuthoritative picks at most one provider subscription to treat as
// authoritative for the account.
//
// A currently active subscription always wins over a merely scheduled one
// unless the caller forces the scheduled one forward. Multiple simultaneous
// active entries are a known upstream data-quality problem: the first is
// taken, but MultipleActiveDetected is set so an operator can follow up.
func SelectAuthoritative(subs []*provider.Subscription, opts SelectOptions) (*Selection, error) {
	var activeSet, scheduledSet []*provider.Subscription
	for _, sub := range subs {
		switch {
		case sub.Status == "active":
			activeSet = append(activeSet, sub)
		case sub.Status == "trialing" || sub.Scheduled:
			scheduledSet = append(scheduledSet, sub)
		}
	}

	multipleActive := len(activeSet) > 1

	if opts.ForceImmediate && len(scheduledSet) > 0 {
		sel := &Selection{
			Chosen:                 scheduledSet[0],
			Reason:                 ReasonForcedImmediateUpgrade,
			MultipleActiveDetected: multipleActive,
		}
		for _, sub := range activeSet {
			sel.CancelRefs = append(sel.CancelRefs, sub.ID)
		}
		return sel, nil
	}

	if len(activeSet) > 0 {
		return &Selection{
			Chosen:                 activeSet[0],
			Reason:                 ReasonActiveSubscription,
			MultipleActiveDetected: multipleActive,
		}, nil
	}

	if len(scheduledSet) > 0 {
		return &Selection{
			Chosen: scheduledSet[0],
			Reason: ReasonNoActiveUsingScheduled,
		}, nil
	}

	return nil, ErrNoUsableSubscription
}

// LocalFields holds the subscription columns reconciliation writes back.
type LocalFields struct {
	PlanName             PlanName
	Seats                int
	AnalysisAllowance    int
	Status               SubscriptionStatus
	CancelAtPeriodEnd    bool
	CurrentPeriodStart   *time.Time
	CurrentPeriodEnd     *time.Time
	StripeSubscriptionID string

	// UnknownPrice flags a price reference with no catalog mapping. The
	// account is degraded to Free rather than failing the reconciliation.
	UnknownPrice bool
}

// DeriveLocalFields computes the local subscription columns from the chosen
// provider subscription. Seats and allowance come from the plan catalog only.
func DeriveLocalFields(chosen *provider.Subscription, prices PriceTable, opts SelectOptions) LocalFields {
	planName, known := prices.Lookup(chosen.PriceID)

	status := mapProviderStatus(chosen.Status)
	if opts.ForceImmediate {
		status = SubscriptionStatusActive
	}

	return LocalFields{
		PlanName:             planName,
		Seats:                SeatsForPlan(planName),
		AnalysisAllowance:    AllowanceForPlan(planName),
		Status:               status,
		CancelAtPeriodEnd:    chosen.CancelAtPeriodEnd,
		CurrentPeriodStart:   epochToTime(chosen.CurrentPeriodStart),
		CurrentPeriodEnd:     epochToTime(chosen.CurrentPeriodEnd),
		StripeSubscriptionID: chosen.ID,
		UnknownPrice:         !known,
	}
}

// FreeFields returns the field set for an account with no billing attachment.
// Free is always "active"; it just has nothing upstream.
func FreeFields() LocalFields {
	return LocalFields{
		PlanName:          PlanFree,
		Seats:             SeatsForPlan(PlanFree),
		AnalysisAllowance: AllowanceForPlan(PlanFree),
		Status:            SubscriptionStatusActive,
	}
}

// mapProviderStatus maps a provider status string into the local enum.
// Unmapped statuses pass through as "unknown" rather than failing.
func mapProviderStatus(status string) SubscriptionStatus {
	switch status {
	case "active":
		return SubscriptionStatusActive
	case "trialing":
		return SubscriptionStatusTrialing
	case "past_due":
		return SubscriptionStatusPastDue
	case "canceled":
		return SubscriptionStatusCanceled
	default:
		return SubscriptionStatusUnknown
	}
}

// epochToTime converts provider epoch seconds to a timestamp.
// Missing or invalid values yield nil, never a fabricated boundary.
func epochToTime(epoch int64) *time.Time {
	if epoch <= 0 {
		return nil
	}
	t := time.Unix(epoch, 0).UTC()
	return &t
}
