package billing

import "time"

// GetPlansResponse represents the response for listing plans.
type GetPlansResponse struct {
	Plans []*PlanResponse `json:"plans"`
}

// PlanResponse represents a plan in API responses.
type PlanResponse struct {
	Name            string   `json:"name"`
	DisplayName     string   `json:"display_name"`
	PriceUSD        int64    `json:"price_usd"`
	Seats           int      `json:"seats"`
	MonthlyAnalyses int      `json:"monthly_analyses"`
	Features        []string `json:"features"`
}

// ToResponse converts a Plan to PlanResponse.
func (p *Plan) ToResponse() *PlanResponse {
	features := make([]string, len(p.Features))
	copy(features, p.Features)
	return &PlanResponse{
		Name:            string(p.Name),
		DisplayName:     p.DisplayName,
		PriceUSD:        p.PriceUSD,
		Seats:           p.Seats,
		MonthlyAnalyses: p.MonthlyAnalyses,
		Features:        features,
	}
}

// SubscriptionResponse represents a subscription in API responses.
type SubscriptionResponse struct {
	PlanName           string     `json:"plan_name"`
	Seats              int        `json:"seats"`
	AnalysisAllowance  int        `json:"analysis_allowance"`
	Status             string     `json:"status"`
	CancelAtPeriodEnd  bool       `json:"cancel_at_period_end"`
	CurrentPeriodStart *time.Time `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time `json:"current_period_end,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

// ToResponse converts a Subscription to SubscriptionResponse.
func (s *Subscription) ToResponse() *SubscriptionResponse {
	return &SubscriptionResponse{
		PlanName:           string(s.PlanName),
		Seats:              s.Seats,
		AnalysisAllowance:  s.AnalysisAllowance,
		Status:             string(s.Status),
		CancelAtPeriodEnd:  s.CancelAtPeriodEnd,
		CurrentPeriodStart: s.CurrentPeriodStart,
		CurrentPeriodEnd:   s.CurrentPeriodEnd,
		CreatedAt:          s.CreatedAt,
	}
}

// ReconcileRequest represents the request body for a reconciliation run.
type ReconcileRequest struct {
	ForceImmediate bool `json:"force_immediate"`
}

// CancelSubscriptionRequest represents a cancellation request.
type CancelSubscriptionRequest struct {
	Mode     string `json:"mode" binding:"required,oneof=at_period_end immediate"`
	Reason   string `json:"reason"`
	Feedback string `json:"feedback"`
}
