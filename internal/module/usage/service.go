package usage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mailvet/server/internal/module/billing"
)

// SubscriptionSource resolves the subscription whose allowance and billing
// period govern an account's usage. Satisfied by the billing service.
type SubscriptionSource interface {
	GetSubscription(ctx context.Context, accountID uuid.UUID) (*billing.Subscription, error)
}

// Service tracks analysis usage against the plan allowance. Redis serves the
// hot path; the usage_records table is the durable source of truth.
type Service struct {
	repo    Repository
	counter *Counter
	subs    SubscriptionSource
	logger  *zap.Logger
}

// NewService creates a new usage service.
func NewService(repo Repository, counter *Counter, subs SubscriptionSource, logger *zap.Logger) *Service {
	return &Service{
		repo:    repo,
		counter: counter,
		subs:    subs,
		logger:  logger,
	}
}

// RecordInput describes one completed analysis.
type RecordInput struct {
	MemberEmail string
	Verdict     string
	Findings    []string
	LatencyMS   int
}

// RecordAnalysis stores an analysis event and bumps the period counter.
// The durable row is what matters; a failed counter update just means the
// next allowance check falls back to counting rows.
func (s *Service) RecordAnalysis(ctx context.Context, accountID uuid.UUID, in RecordInput) (*UsageRecord, error) {
	sub, err := s.subs.GetSubscription(ctx, accountID)
	if err != nil {
		return nil, err
	}

	record := &UsageRecord{
		AccountID:   accountID,
		MemberEmail: in.MemberEmail,
		Verdict:     in.Verdict,
		Findings:    in.Findings,
		LatencyMS:   in.LatencyMS,
	}
	if err := s.repo.CreateRecord(ctx, record); err != nil {
		return nil, err
	}

	periodStart, periodEnd := billingPeriod(sub)
	if _, err := s.counter.Increment(ctx, accountID, periodStart, periodEnd); err != nil {
		s.logger.Warn("analysis counter update failed",
			zap.String("account_id", accountID.String()),
			zap.Error(err))
	}
	return record, nil
}

// AllowanceStatus reports period usage against the plan allowance.
type AllowanceStatus struct {
	Used        int64     `json:"used"`
	Allowance   int       `json:"allowance"`
	Remaining   int64     `json:"remaining"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
}

// GetAllowanceStatus returns current-period usage for the account. Reads the
// Redis counter first and falls back to the usage table when Redis is down.
func (s *Service) GetAllowanceStatus(ctx context.Context, accountID uuid.UUID) (*AllowanceStatus, error) {
	sub, err := s.subs.GetSubscription(ctx, accountID)
	if err != nil {
		return nil, err
	}
	periodStart, periodEnd := billingPeriod(sub)

	used, err := s.counter.Used(ctx, accountID, periodStart)
	if err != nil {
		used, err = s.repo.CountSince(ctx, accountID, periodStart)
		if err != nil {
			return nil, err
		}
	}

	remaining := int64(sub.AnalysisAllowance) - used
	if remaining < 0 {
		remaining = 0
	}
	return &AllowanceStatus{
		Used:        used,
		Allowance:   sub.AnalysisAllowance,
		Remaining:   remaining,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
	}, nil
}

// Stats summarizes recent analyses for the dashboard.
type Stats struct {
	Total         int64            `json:"total"`
	ByVerdict     map[string]int64 `json:"by_verdict"`
	RecentRecords []*UsageRecord   `json:"recent_records"`
}

// GetStats returns analysis statistics for the current billing period.
func (s *Service) GetStats(ctx context.Context, accountID uuid.UUID) (*Stats, error) {
	sub, err := s.subs.GetSubscription(ctx, accountID)
	if err != nil {
		return nil, err
	}
	periodStart, _ := billingPeriod(sub)

	counts, err := s.repo.VerdictCounts(ctx, accountID, periodStart)
	if err != nil {
		return nil, err
	}
	records, err := s.repo.ListRecords(ctx, accountID, periodStart, 20)
	if err != nil {
		return nil, err
	}

	var total int64
	for _, n := range counts {
		total += n
	}
	return &Stats{Total: total, ByVerdict: counts, RecentRecords: records}, nil
}

// billingPeriod returns the subscription's current period. Free accounts have
// no provider period, so they meter on the UTC calendar month.
func billingPeriod(sub *billing.Subscription) (time.Time, time.Time) {
	if sub.CurrentPeriodStart != nil && sub.CurrentPeriodEnd != nil {
		return *sub.CurrentPeriodStart, *sub.CurrentPeriodEnd
	}
	now := time.Now().UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}
