package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mailvet/server/internal/module/billing/provider"
	"github.com/mailvet/server/internal/utils/metrics"
)

// Service implements billing operations: plan catalog access, the local
// subscription record, reconciliation against the provider, and cancellation.
type Service struct {
	repo     Repository
	provider provider.Provider
	prices   PriceTable
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewService creates a new billing service.
func NewService(repo Repository, prov provider.Provider, prices PriceTable, logger *zap.Logger, m *metrics.Metrics) *Service {
	return &Service{
		repo:     repo,
		provider: prov,
		prices:   prices,
		logger:   logger,
		metrics:  m,
	}
}

// ListPlans returns the plan catalog in display order.
func (s *Service) ListPlans() []Plan {
	return Plans()
}

// GetSubscription returns the account's subscription row, creating the Free
// default on first access so every account always has exactly one row.
func (s *Service) GetSubscription(ctx context.Context, accountID uuid.UUID) (*Subscription, error) {
	sub, err := s.repo.GetSubscription(ctx, accountID)
	if err == nil {
		return sub, nil
	}
	if !errors.Is(err, ErrSubscriptionNotFound) {
		return nil, err
	}

	free := FreeFields()
	sub = &Subscription{
		AccountID:         accountID,
		PlanName:          free.PlanName,
		Seats:             free.Seats,
		AnalysisAllowance: free.AnalysisAllowance,
		Status:            free.Status,
	}
	if err := s.repo.CreateSubscription(ctx, sub); err != nil {
		// Lost a create race with a concurrent first access; re-read.
		if existing, getErr := s.repo.GetSubscription(ctx, accountID); getErr == nil {
			return existing, nil
		}
		return nil, err
	}
	return sub, nil
}

// MarkPendingActivation records that a checkout has started for the account.
// The record stays on its current plan until reconciliation confirms the
// provider subscription; the status alone signals the in-flight upgrade.
func (s *Service) MarkPendingActivation(ctx context.Context, accountID uuid.UUID, customerID string) error {
	sub, err := s.GetSubscription(ctx, accountID)
	if err != nil {
		return err
	}
	sub.Status = SubscriptionStatusPending
	if customerID != "" {
		sub.StripeCustomerID = customerID
	}
	return s.repo.UpdateSubscription(ctx, sub)
}

// ReconcileOptions controls a reconciliation pass.
type ReconcileOptions struct {
	// ForceImmediate cuts over to a scheduled subscription now, canceling any
	// currently active ones (immediate upgrade instead of period-boundary).
	ForceImmediate bool
}

// ReconcileReport summarizes what a reconciliation pass did.
type ReconcileReport struct {
	Reason                 string             `json:"reason"`
	PlanName               PlanName           `json:"plan_name"`
	PreviousPlanName       PlanName           `json:"previous_plan_name"`
	Status                 SubscriptionStatus `json:"status"`
	MultipleActiveDetected bool               `json:"multiple_active_detected"`
	UnknownPrice           bool               `json:"unknown_price"`
	Canceled               []string           `json:"canceled,omitempty"`
}

// Reconcile pulls the provider's view of the account, selects the
// authoritative subscription, derives the local columns, and writes them in a
// single upsert. When the provider has nothing usable the account is
// downgraded to Free.
func (s *Service) Reconcile(ctx context.Context, accountID uuid.UUID, opts ReconcileOptions) (*ReconcileReport, error) {
	local, err := s.GetSubscription(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if local.StripeCustomerID == "" {
		return nil, ErrNoBillingAttachment
	}

	subs, err := s.provider.ListSubscriptions(ctx, local.StripeCustomerID)
	if err != nil {
		return nil, fmt.Errorf("list provider subscriptions: %w", err)
	}

	sel, err := SelectAuthoritative(subs, SelectOptions{ForceImmediate: opts.ForceImmediate})
	if errors.Is(err, ErrNoUsableSubscription) {
		report, dErr := s.downgradeToFree(ctx, accountID, local)
		if dErr != nil {
			return nil, dErr
		}
		return report, nil
	}
	if err != nil {
		return nil, err
	}

	// Execute cancel intents before the local write: a crash between the two
	// sides leaves the local record stale, which the next pass repairs.
	canceled := make([]string, 0, len(sel.CancelRefs))
	for _, ref := range sel.CancelRefs {
		cErr := s.provider.CancelSubscription(ctx, ref, true)
		if cErr != nil && !errors.Is(cErr, provider.ErrSubscriptionGone) {
			return nil, fmt.Errorf("cancel superseded subscription %s: %w", ref, cErr)
		}
		canceled = append(canceled, ref)
	}

	fields := DeriveLocalFields(sel.Chosen, s.prices, SelectOptions{ForceImmediate: opts.ForceImmediate})
	if fields.UnknownPrice {
		s.logger.Warn("unmapped provider price, degrading to free plan",
			zap.String("account_id", accountID.String()),
			zap.String("price_id", sel.Chosen.PriceID),
			zap.String("subscription_id", sel.Chosen.ID))
	}

	if err := s.repo.UpsertSubscriptionFields(ctx, accountID, fields); err != nil {
		return nil, err
	}

	if sel.MultipleActiveDetected {
		s.logger.Warn("multiple active subscriptions at provider",
			zap.String("account_id", accountID.String()),
			zap.String("customer_id", local.StripeCustomerID),
			zap.String("chosen", sel.Chosen.ID))
	}
	if s.metrics != nil {
		s.metrics.RecordReconcile(sel.Reason, sel.MultipleActiveDetected)
	}
	s.logger.Info("subscription reconciled",
		zap.String("account_id", accountID.String()),
		zap.String("reason", sel.Reason),
		zap.String("plan", string(fields.PlanName)),
		zap.String("status", string(fields.Status)))

	return &ReconcileReport{
		Reason:                 sel.Reason,
		PlanName:               fields.PlanName,
		PreviousPlanName:       local.PlanName,
		Status:                 fields.Status,
		MultipleActiveDetected: sel.MultipleActiveDetected,
		UnknownPrice:           fields.UnknownPrice,
		Canceled:               canceled,
	}, nil
}

// ReconcileByCustomerRef resolves the provider customer reference to a local
// account and reconciles it. Used by the webhook endpoint.
func (s *Service) ReconcileByCustomerRef(ctx context.Context, customerID string) (*ReconcileReport, error) {
	sub, err := s.repo.GetSubscriptionByCustomerRef(ctx, customerID)
	if err != nil {
		return nil, err
	}
	return s.Reconcile(ctx, sub.AccountID, ReconcileOptions{})
}

func (s *Service) downgradeToFree(ctx context.Context, accountID uuid.UUID, local *Subscription) (*ReconcileReport, error) {
	fields := FreeFields()
	if err := s.repo.UpsertSubscriptionFields(ctx, accountID, fields); err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RecordReconcile("downgrade-to-free", false)
	}
	s.logger.Info("downgraded account to free plan",
		zap.String("account_id", accountID.String()),
		zap.String("previous_plan", string(local.PlanName)))
	return &ReconcileReport{
		Reason:           "downgrade-to-free",
		PlanName:         PlanFree,
		PreviousPlanName: local.PlanName,
		Status:           SubscriptionStatusActive,
	}, nil
}

// CancelMode selects how a cancellation takes effect.
type CancelMode string

const (
	CancelAtPeriodEnd CancelMode = "at_period_end"
	CancelImmediate   CancelMode = "immediate"
)

// CancelRequest carries a cancellation and its optional exit feedback.
type CancelRequest struct {
	Mode     CancelMode
	Reason   string
	Feedback string
}

// CancelSubscription cancels the account's paid subscription.
//
// At-period-end flags the provider subscription and mirrors the flag locally;
// the account keeps its paid entitlements until the period boundary.
// Immediate cancels upstream and downgrades to Free now. A subscription the
// provider no longer knows about counts as already canceled.
func (s *Service) CancelSubscription(ctx context.Context, accountID uuid.UUID, req CancelRequest) (*Subscription, error) {
	if req.Mode != CancelAtPeriodEnd && req.Mode != CancelImmediate {
		return nil, ErrInvalidCancelMode
	}

	sub, err := s.GetSubscription(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if sub.IsFree() || sub.StripeSubscriptionID == "" {
		return nil, ErrNoBillingAttachment
	}

	s.recordFeedback(ctx, accountID, req)

	switch req.Mode {
	case CancelAtPeriodEnd:
		flag := true
		_, err := s.provider.UpdateSubscription(ctx, sub.StripeSubscriptionID, provider.UpdatePatch{CancelAtPeriodEnd: &flag})
		if err != nil && !errors.Is(err, provider.ErrSubscriptionGone) {
			return nil, fmt.Errorf("flag subscription for period-end cancel: %w", err)
		}
		sub.CancelAtPeriodEnd = true
		if err := s.repo.UpdateSubscription(ctx, sub); err != nil {
			return nil, err
		}
		s.logger.Info("subscription flagged for period-end cancellation",
			zap.String("account_id", accountID.String()),
			zap.String("subscription_id", sub.StripeSubscriptionID))
		return sub, nil

	default: // CancelImmediate
		err := s.provider.CancelSubscription(ctx, sub.StripeSubscriptionID, true)
		if err != nil && !errors.Is(err, provider.ErrSubscriptionGone) {
			return nil, fmt.Errorf("cancel subscription: %w", err)
		}

		fields := FreeFields()
		if upErr := s.repo.UpsertSubscriptionFields(ctx, accountID, fields); upErr != nil {
			// The provider side is already canceled. Surface a recoverable
			// inconsistency instead of a generic failure: the local record is
			// stale until the next reconciliation pass.
			s.logger.Error("local downgrade failed after provider cancel",
				zap.String("account_id", accountID.String()),
				zap.String("subscription_id", sub.StripeSubscriptionID),
				zap.Error(upErr))
			return nil, fmt.Errorf("%w: %s", ErrDowngradeIncomplete, upErr.Error())
		}
		s.logger.Info("subscription canceled immediately",
			zap.String("account_id", accountID.String()),
			zap.String("previous_plan", string(sub.PlanName)))
		return s.repo.GetSubscription(ctx, accountID)
	}
}

// recordFeedback stores exit feedback best-effort. It never blocks the cancel.
func (s *Service) recordFeedback(ctx context.Context, accountID uuid.UUID, req CancelRequest) {
	if req.Reason == "" && req.Feedback == "" {
		return
	}
	fb := &CancellationFeedback{
		AccountID: accountID,
		Reason:    req.Reason,
		Feedback:  req.Feedback,
	}
	if err := s.repo.CreateCancellationFeedback(ctx, fb); err != nil {
		s.logger.Warn("failed to record cancellation feedback",
			zap.String("account_id", accountID.String()),
			zap.Error(err))
	}
}
