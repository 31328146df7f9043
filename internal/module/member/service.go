package member

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mailvet/server/internal/module/billing"
	"github.com/mailvet/server/internal/utils/metrics"
)

// SeatSource resolves the subscription that owns an account's members.
// Satisfied by the billing service.
type SeatSource interface {
	GetSubscription(ctx context.Context, accountID uuid.UUID) (*billing.Subscription, error)
}

// Service implements seat allocation: members are ranked by creation order
// and the oldest ones hold the plan's seats.
type Service struct {
	repo    Repository
	seats   SeatSource
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewService creates a new member service.
func NewService(repo Repository, seats SeatSource, logger *zap.Logger, m *metrics.Metrics) *Service {
	return &Service{
		repo:    repo,
		seats:   seats,
		logger:  logger,
		metrics: m,
	}
}

// EnforcementReport summarizes a seat enforcement pass. The counts describe
// the resulting assignment (how many members hold a seat and how many sit
// beyond the limit), not how many rows changed, so repeated passes over the
// same roster report the same numbers.
type EnforcementReport struct {
	IsOverLimit     bool `json:"is_over_limit"`
	MembersEnabled  int  `json:"members_enabled"`
	MembersDisabled int  `json:"members_disabled"`
}

// DeriveSeatAssignment computes which members to enable and which to disable
// given a seat count and the member list in seniority order. Pure: desired
// statuses depend only on the inputs, so repeated passes converge.
func DeriveSeatAssignment(seats int, members []*Member) (enable, disable []uuid.UUID) {
	for i, m := range members {
		withinSeats := i < seats
		switch {
		case withinSeats && !m.IsActive():
			enable = append(enable, m.ID)
		case !withinSeats && m.IsActive():
			disable = append(disable, m.ID)
		}
	}
	return enable, disable
}

// EnforceSeatLimits reassigns seats for the account's members from scratch:
// the oldest `seats` members become active, the rest inactive. Idempotent.
//
// The two status writes are independent; if one fails the other may still
// have landed, and the typed error reports each half so a retry or the next
// scheduled pass can finish the job.
func (s *Service) EnforceSeatLimits(ctx context.Context, accountID uuid.UUID) (*EnforcementReport, error) {
	sub, err := s.seats.GetSubscription(ctx, accountID)
	if err != nil {
		return nil, err
	}

	members, err := s.repo.ListMembers(ctx, sub.ID)
	if err != nil {
		return nil, err
	}

	enable, disable := DeriveSeatAssignment(sub.Seats, members)
	report := &EnforcementReport{
		IsOverLimit:     len(members) > sub.Seats,
		MembersEnabled:  min(len(members), sub.Seats),
		MembersDisabled: max(0, len(members)-sub.Seats),
	}

	enableErr := s.repo.UpdateMemberStatuses(ctx, enable, MemberStatusActive)
	disableErr := s.repo.UpdateMemberStatuses(ctx, disable, MemberStatusInactive)
	if enableErr != nil || disableErr != nil {
		return report, &PartialEnforcementError{EnableErr: enableErr, DisableErr: disableErr}
	}

	if s.metrics != nil {
		s.metrics.RecordSeatEnforcement(report.IsOverLimit, len(disable))
	}
	if len(enable) > 0 || len(disable) > 0 {
		s.logger.Info("seat limits enforced",
			zap.String("account_id", accountID.String()),
			zap.Int("seats", sub.Seats),
			zap.Int("enabled", len(enable)),
			zap.Int("disabled", len(disable)))
	}
	return report, nil
}

// AddMember adds a protected inbox address to the account's subscription.
// The seat check runs twice: once up front for a fast rejection, and again
// inside the transaction so concurrent adds cannot oversubscribe the plan.
func (s *Service) AddMember(ctx context.Context, accountID uuid.UUID, email, label string, createdBy uuid.UUID) (*Member, error) {
	email = NormalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, ErrInvalidEmail
	}

	sub, err := s.seats.GetSubscription(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if _, err := s.repo.GetMemberByEmail(ctx, sub.ID, email); err == nil {
		return nil, ErrDuplicateMember
	} else if !errors.Is(err, ErrMemberNotFound) {
		return nil, err
	}

	activeCount, err := s.repo.CountActiveMembers(ctx, sub.ID)
	if err != nil {
		return nil, err
	}
	if activeCount >= sub.Seats {
		return nil, &SeatLimitError{Current: activeCount, Max: sub.Seats}
	}

	m := &Member{
		SubscriptionID: sub.ID,
		Email:          email,
		Label:          label,
		CreatedBy:      createdBy,
		Status:         MemberStatusActive,
	}
	err = s.repo.Transaction(ctx, func(txRepo Repository) error {
		count, err := txRepo.CountActiveMembers(ctx, sub.ID)
		if err != nil {
			return err
		}
		if count >= sub.Seats {
			return &SeatLimitError{Current: count, Max: sub.Seats}
		}
		return txRepo.CreateMember(ctx, m)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("member added",
		zap.String("account_id", accountID.String()),
		zap.String("member_id", m.ID.String()))
	return m, nil
}

// ListMembers returns the account's members in seniority order.
func (s *Service) ListMembers(ctx context.Context, accountID uuid.UUID) ([]*Member, error) {
	sub, err := s.seats.GetSubscription(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListMembers(ctx, sub.ID)
}

// RemoveMember deletes a member. The freed seat stays empty: disabled members
// are never promoted implicitly, only by an explicit enforcement pass.
func (s *Service) RemoveMember(ctx context.Context, accountID, memberID uuid.UUID) error {
	sub, err := s.seats.GetSubscription(ctx, accountID)
	if err != nil {
		return err
	}

	m, err := s.repo.GetMember(ctx, memberID)
	if err != nil {
		return err
	}
	if m.SubscriptionID != sub.ID {
		return ErrMemberNotFound
	}

	if err := s.repo.DeleteMember(ctx, memberID); err != nil {
		return err
	}
	s.logger.Info("member removed",
		zap.String("account_id", accountID.String()),
		zap.String("member_id", memberID.String()))
	return nil
}

// Authorization reasons.
const (
	AuthReasonOK           = "ok"
	AuthReasonNotMember    = "not-a-member"
	AuthReasonSeatDisabled = "seat-disabled"
	AuthReasonOverLimit    = "over-seat-limit"
)

// AuthorizationResult is the outcome of an authorization check.
type AuthorizationResult struct {
	Authorized bool   `json:"authorized"`
	Reason     string `json:"reason"`
}

// IsAuthorized reports whether the email holds a usable seat right now.
//
// The stored status is not trusted on its own: the rank is recomputed against
// the current seat count, so a downgrade takes effect immediately even if an
// enforcement pass has not run yet. Any fetch failure propagates as an error;
// callers must treat errors as not authorized.
func (s *Service) IsAuthorized(ctx context.Context, accountID uuid.UUID, email string) (*AuthorizationResult, error) {
	email = NormalizeEmail(email)

	sub, err := s.seats.GetSubscription(ctx, accountID)
	if err != nil {
		return nil, err
	}

	members, err := s.repo.ListMembers(ctx, sub.ID)
	if err != nil {
		return nil, err
	}

	result := s.authorize(sub.Seats, members, email)
	if s.metrics != nil {
		s.metrics.RecordAuthorizationCheck(result.Reason)
	}
	return result, nil
}

func (s *Service) authorize(seats int, members []*Member, email string) *AuthorizationResult {
	for rank, m := range members {
		if m.Email != email {
			continue
		}
		if !m.IsActive() {
			return &AuthorizationResult{Reason: AuthReasonSeatDisabled}
		}
		if rank >= seats {
			return &AuthorizationResult{Reason: AuthReasonOverLimit}
		}
		return &AuthorizationResult{Authorized: true, Reason: AuthReasonOK}
	}
	return &AuthorizationResult{Reason: AuthReasonNotMember}
}

// NormalizeEmail lowercases and trims a member email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
