package billing

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus represents the status of the local subscription record.
type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusTrialing SubscriptionStatus = "trialing"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
	// SubscriptionStatusPending marks a record whose checkout has started but
	// whose provider subscription has not been reconciled yet.
	SubscriptionStatusPending SubscriptionStatus = "pending_activation"
	// SubscriptionStatusUnknown is used for provider statuses we do not map.
	SubscriptionStatusUnknown SubscriptionStatus = "unknown"
)

// Subscription is the durable, application-authoritative view of an
// account's billing state. Exactly one row exists per account.
type Subscription struct {
	ID                   uuid.UUID          `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	AccountID            uuid.UUID          `json:"account_id" gorm:"type:uuid;uniqueIndex;not null"`
	PlanName             PlanName           `json:"plan_name" gorm:"not null;default:free"`
	Seats                int                `json:"seats" gorm:"not null;default:1"`
	AnalysisAllowance    int                `json:"analysis_allowance" gorm:"not null;default:10"`
	Status               SubscriptionStatus `json:"status" gorm:"not null;default:active"`
	CancelAtPeriodEnd    bool               `json:"cancel_at_period_end" gorm:"default:false"`
	CurrentPeriodStart   *time.Time         `json:"current_period_start,omitempty"`
	CurrentPeriodEnd     *time.Time         `json:"current_period_end,omitempty"`
	StripeCustomerID     string             `json:"-"`
	StripeSubscriptionID string             `json:"-"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// TableName returns the database table name.
func (Subscription) TableName() string {
	return "subscriptions"
}

// IsFree returns true if the subscription is on the Free plan.
func (s *Subscription) IsFree() bool {
	return s.PlanName == PlanFree
}

// IsActive returns true if the subscription is active or trialing.
func (s *Subscription) IsActive() bool {
	return s.Status == SubscriptionStatusActive || s.Status == SubscriptionStatusTrialing
}

// IsPendingActivation returns true while a checkout awaits reconciliation.
func (s *Subscription) IsPendingActivation() bool {
	return s.Status == SubscriptionStatusPending
}

// CancellationFeedback records a customer's free-text cancellation reason.
// Written best-effort: losing a row here never blocks a cancellation.
type CancellationFeedback struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	AccountID uuid.UUID `json:"account_id" gorm:"type:uuid;not null;index"`
	Reason    string    `json:"reason"`
	Feedback  string    `json:"feedback"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name.
func (CancellationFeedback) TableName() string {
	return "cancellation_feedback"
}
