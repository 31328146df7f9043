package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository defines the interface for billing data access.
type Repository interface {
	CreateSubscription(ctx context.Context, sub *Subscription) error
	GetSubscription(ctx context.Context, accountID uuid.UUID) (*Subscription, error)
	GetSubscriptionByCustomerRef(ctx context.Context, customerID string) (*Subscription, error)
	UpdateSubscription(ctx context.Context, sub *Subscription) error
	UpsertSubscriptionFields(ctx context.Context, accountID uuid.UUID, fields LocalFields) error

	CreateCancellationFeedback(ctx context.Context, fb *CancellationFeedback) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new billing repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) CreateSubscription(ctx context.Context, sub *Subscription) error {
	if err := r.db.WithContext(ctx).Create(sub).Error; err != nil {
		return fmt.Errorf("create subscription: %w", err)
	}
	return nil
}

func (r *repository) GetSubscription(ctx context.Context, accountID uuid.UUID) (*Subscription, error) {
	var sub Subscription
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return &sub, nil
}

func (r *repository) GetSubscriptionByCustomerRef(ctx context.Context, customerID string) (*Subscription, error) {
	var sub Subscription
	err := r.db.WithContext(ctx).
		Where("stripe_customer_id = ?", customerID).
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("get subscription by customer ref: %w", err)
	}
	return &sub, nil
}

func (r *repository) UpdateSubscription(ctx context.Context, sub *Subscription) error {
	if err := r.db.WithContext(ctx).Save(sub).Error; err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	return nil
}

// UpsertSubscriptionFields writes the reconciled columns for an account in a
// single statement, so a crashed reconciliation leaves either the old row or
// the new one and never a half-written mix.
func (r *repository) UpsertSubscriptionFields(ctx context.Context, accountID uuid.UUID, fields LocalFields) error {
	sub := &Subscription{
		AccountID:            accountID,
		PlanName:             fields.PlanName,
		Seats:                fields.Seats,
		AnalysisAllowance:    fields.AnalysisAllowance,
		Status:               fields.Status,
		CancelAtPeriodEnd:    fields.CancelAtPeriodEnd,
		CurrentPeriodStart:   fields.CurrentPeriodStart,
		CurrentPeriodEnd:     fields.CurrentPeriodEnd,
		StripeSubscriptionID: fields.StripeSubscriptionID,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "account_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"plan_name",
				"seats",
				"analysis_allowance",
				"status",
				"cancel_at_period_end",
				"current_period_start",
				"current_period_end",
				"stripe_subscription_id",
				"updated_at",
			}),
		}).
		Create(sub).Error
	if err != nil {
		return fmt.Errorf("upsert subscription fields: %w", err)
	}
	return nil
}

func (r *repository) CreateCancellationFeedback(ctx context.Context, fb *CancellationFeedback) error {
	if err := r.db.WithContext(ctx).Create(fb).Error; err != nil {
		return fmt.Errorf("create cancellation feedback: %w", err)
	}
	return nil
}
