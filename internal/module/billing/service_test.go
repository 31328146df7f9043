package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mailvet/server/internal/module/billing/provider"
)

// --- Fakes ---

type fakeRepo struct {
	subs        map[uuid.UUID]*Subscription
	upsertCalls int
	upsertErr   error
	feedback    []*CancellationFeedback
	feedbackErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{subs: make(map[uuid.UUID]*Subscription)}
}

func (r *fakeRepo) CreateSubscription(_ context.Context, sub *Subscription) error {
	if _, ok := r.subs[sub.AccountID]; ok {
		return ErrSubscriptionExists
	}
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	sub.CreatedAt = time.Now()
	r.subs[sub.AccountID] = sub
	return nil
}

func (r *fakeRepo) GetSubscription(_ context.Context, accountID uuid.UUID) (*Subscription, error) {
	sub, ok := r.subs[accountID]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	cp := *sub
	return &cp, nil
}

func (r *fakeRepo) GetSubscriptionByCustomerRef(_ context.Context, customerID string) (*Subscription, error) {
	for _, sub := range r.subs {
		if sub.StripeCustomerID == customerID {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, ErrSubscriptionNotFound
}

func (r *fakeRepo) UpdateSubscription(_ context.Context, sub *Subscription) error {
	cp := *sub
	r.subs[sub.AccountID] = &cp
	return nil
}

func (r *fakeRepo) UpsertSubscriptionFields(_ context.Context, accountID uuid.UUID, fields LocalFields) error {
	r.upsertCalls++
	if r.upsertErr != nil {
		return r.upsertErr
	}
	sub, ok := r.subs[accountID]
	if !ok {
		sub = &Subscription{ID: uuid.New(), AccountID: accountID}
		r.subs[accountID] = sub
	}
	sub.PlanName = fields.PlanName
	sub.Seats = fields.Seats
	sub.AnalysisAllowance = fields.AnalysisAllowance
	sub.Status = fields.Status
	sub.CancelAtPeriodEnd = fields.CancelAtPeriodEnd
	sub.CurrentPeriodStart = fields.CurrentPeriodStart
	sub.CurrentPeriodEnd = fields.CurrentPeriodEnd
	sub.StripeSubscriptionID = fields.StripeSubscriptionID
	return nil
}

func (r *fakeRepo) CreateCancellationFeedback(_ context.Context, fb *CancellationFeedback) error {
	if r.feedbackErr != nil {
		return r.feedbackErr
	}
	r.feedback = append(r.feedback, fb)
	return nil
}

type fakeProvider struct {
	subs      []*provider.Subscription
	listErr   error
	canceled  []string
	cancelErr map[string]error
	patches   map[string]provider.UpdatePatch
	updateErr error
}

func newFakeProvider(subs ...*provider.Subscription) *fakeProvider {
	return &fakeProvider{
		subs:      subs,
		cancelErr: make(map[string]error),
		patches:   make(map[string]provider.UpdatePatch),
	}
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) ListSubscriptions(_ context.Context, _ string) ([]*provider.Subscription, error) {
	if p.listErr != nil {
		return nil, p.listErr
	}
	return p.subs, nil
}

func (p *fakeProvider) UpdateSubscription(_ context.Context, id string, patch provider.UpdatePatch) (*provider.Subscription, error) {
	if p.updateErr != nil {
		return nil, p.updateErr
	}
	p.patches[id] = patch
	return &provider.Subscription{ID: id}, nil
}

func (p *fakeProvider) CancelSubscription(_ context.Context, id string, _ bool) error {
	if err, ok := p.cancelErr[id]; ok {
		return err
	}
	p.canceled = append(p.canceled, id)
	return nil
}

func newTestService(repo Repository, prov provider.Provider, t *testing.T) *Service {
	t.Helper()
	prices, err := NewPriceTable(map[string]string{
		"price_solo": "solo",
		"price_team": "team",
	})
	require.NoError(t, err)
	return NewService(repo, prov, prices, zap.NewNop(), nil)
}

func seedPaid(repo *fakeRepo, accountID uuid.UUID) *Subscription {
	sub := &Subscription{
		ID:                   uuid.New(),
		AccountID:            accountID,
		PlanName:             PlanTeam,
		Seats:                10,
		AnalysisAllowance:    10000,
		Status:               SubscriptionStatusActive,
		StripeCustomerID:     "cus_1",
		StripeSubscriptionID: "sub_live",
	}
	repo.subs[accountID] = sub
	return sub
}

// --- GetSubscription ---

func TestGetSubscription_CreatesFreeDefault(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, newFakeProvider(), t)
	accountID := uuid.New()

	sub, err := svc.GetSubscription(context.Background(), accountID)
	require.NoError(t, err)
	assert.Equal(t, PlanFree, sub.PlanName)
	assert.Equal(t, 1, sub.Seats)
	assert.Equal(t, 10, sub.AnalysisAllowance)
	assert.Equal(t, SubscriptionStatusActive, sub.Status)

	// Second access reuses the row.
	again, err := svc.GetSubscription(context.Background(), accountID)
	require.NoError(t, err)
	assert.Equal(t, sub.ID, again.ID)
}

// --- Reconcile ---

func TestReconcile_ActiveSubscription(t *testing.T) {
	repo := newFakeRepo()
	accountID := uuid.New()
	seedPaid(repo, accountID)
	now := time.Now().Unix()

	prov := newFakeProvider(&provider.Subscription{
		ID:                 "sub_live",
		Status:             "active",
		PriceID:            "price_team",
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now + 86400,
	})
	svc := newTestService(repo, prov, t)

	report, err := svc.Reconcile(context.Background(), accountID, ReconcileOptions{})
	require.NoError(t, err)
	assert.Equal(t, ReasonActiveSubscription, report.Reason)
	assert.Equal(t, PlanTeam, report.PlanName)
	assert.False(t, report.MultipleActiveDetected)
	assert.Equal(t, 1, repo.upsertCalls)

	sub := repo.subs[accountID]
	assert.Equal(t, 10, sub.Seats)
	assert.Equal(t, "sub_live", sub.StripeSubscriptionID)
	require.NotNil(t, sub.CurrentPeriodEnd)
}

func TestReconcile_MultipleActiveFlagged(t *testing.T) {
	repo := newFakeRepo()
	accountID := uuid.New()
	seedPaid(repo, accountID)

	prov := newFakeProvider(
		&provider.Subscription{ID: "sub_a", Status: "active", PriceID: "price_team"},
		&provider.Subscription{ID: "sub_b", Status: "active", PriceID: "price_solo"},
	)
	svc := newTestService(repo, prov, t)

	report, err := svc.Reconcile(context.Background(), accountID, ReconcileOptions{})
	require.NoError(t, err)
	assert.True(t, report.MultipleActiveDetected)
	assert.Equal(t, PlanTeam, report.PlanName)
	// Without forceImmediate nothing is canceled.
	assert.Empty(t, prov.canceled)
}

func TestReconcile_ForceImmediateCancelsActives(t *testing.T) {
	repo := newFakeRepo()
	accountID := uuid.New()
	seedPaid(repo, accountID)

	prov := newFakeProvider(
		&provider.Subscription{ID: "sub_old", Status: "active", PriceID: "price_solo"},
		&provider.Subscription{ID: "sub_new", Status: "incomplete", Scheduled: true, PriceID: "price_team"},
	)
	svc := newTestService(repo, prov, t)

	report, err := svc.Reconcile(context.Background(), accountID, ReconcileOptions{ForceImmediate: true})
	require.NoError(t, err)
	assert.Equal(t, ReasonForcedImmediateUpgrade, report.Reason)
	assert.Equal(t, PlanTeam, report.PlanName)
	assert.Equal(t, []string{"sub_old"}, report.Canceled)
	assert.Equal(t, []string{"sub_old"}, prov.canceled)

	// Forced cutover reports active even though the provider has not
	// transitioned the subscription yet.
	assert.Equal(t, SubscriptionStatusActive, repo.subs[accountID].Status)
}

func TestReconcile_ForceImmediateToleratesGone(t *testing.T) {
	repo := newFakeRepo()
	accountID := uuid.New()
	seedPaid(repo, accountID)

	prov := newFakeProvider(
		&provider.Subscription{ID: "sub_old", Status: "active", PriceID: "price_solo"},
		&provider.Subscription{ID: "sub_new", Status: "incomplete", Scheduled: true, PriceID: "price_team"},
	)
	prov.cancelErr["sub_old"] = provider.ErrSubscriptionGone
	svc := newTestService(repo, prov, t)

	report, err := svc.Reconcile(context.Background(), accountID, ReconcileOptions{ForceImmediate: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"sub_old"}, report.Canceled)
}

func TestReconcile_UnknownPriceDegradesToFree(t *testing.T) {
	repo := newFakeRepo()
	accountID := uuid.New()
	seedPaid(repo, accountID)

	prov := newFakeProvider(&provider.Subscription{ID: "sub_x", Status: "active", PriceID: "price_retired"})
	svc := newTestService(repo, prov, t)

	report, err := svc.Reconcile(context.Background(), accountID, ReconcileOptions{})
	require.NoError(t, err)
	assert.True(t, report.UnknownPrice)
	assert.Equal(t, PlanFree, report.PlanName)
	assert.Equal(t, 1, repo.subs[accountID].Seats)
}

func TestReconcile_NothingUsableDowngradesToFree(t *testing.T) {
	repo := newFakeRepo()
	accountID := uuid.New()
	seedPaid(repo, accountID)

	prov := newFakeProvider(&provider.Subscription{ID: "sub_dead", Status: "canceled"})
	svc := newTestService(repo, prov, t)

	report, err := svc.Reconcile(context.Background(), accountID, ReconcileOptions{})
	require.NoError(t, err)
	assert.Equal(t, PlanFree, report.PlanName)
	assert.Equal(t, PlanTeam, report.PreviousPlanName)

	sub := repo.subs[accountID]
	assert.Equal(t, 1, sub.Seats)
	assert.Empty(t, sub.StripeSubscriptionID)
	assert.Nil(t, sub.CurrentPeriodEnd)
}

func TestReconcile_NoBillingAttachment(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, newFakeProvider(), t)

	_, err := svc.Reconcile(context.Background(), uuid.New(), ReconcileOptions{})
	assert.ErrorIs(t, err, ErrNoBillingAttachment)
}

func TestReconcile_ProviderListFailure(t *testing.T) {
	repo := newFakeRepo()
	accountID := uuid.New()
	seedPaid(repo, accountID)

	prov := newFakeProvider()
	prov.listErr = errors.New("stripe down")
	svc := newTestService(repo, prov, t)

	_, err := svc.Reconcile(context.Background(), accountID, ReconcileOptions{})
	assert.Error(t, err)
	// Local record untouched on upstream failure.
	assert.Equal(t, PlanTeam, repo.subs[accountID].PlanName)
	assert.Zero(t, repo.upsertCalls)
}

func TestReconcileByCustomerRef(t *testing.T) {
	repo := newFakeRepo()
	accountID := uuid.New()
	seedPaid(repo, accountID)

	prov := newFakeProvider(&provider.Subscription{ID: "sub_live", Status: "active", PriceID: "price_solo"})
	svc := newTestService(repo, prov, t)

	report, err := svc.ReconcileByCustomerRef(context.Background(), "cus_1")
	require.NoError(t, err)
	assert.Equal(t, PlanSolo, report.PlanName)

	_, err = svc.ReconcileByCustomerRef(context.Background(), "cus_unknown")
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)
}

// --- CancelSubscription ---

func TestCancelSubscription_AtPeriodEnd(t *testing.T) {
	repo := newFakeRepo()
	accountID := uuid.New()
	seedPaid(repo, accountID)

	prov := newFakeProvider()
	svc := newTestService(repo, prov, t)

	sub, err := svc.CancelSubscription(context.Background(), accountID, CancelRequest{Mode: CancelAtPeriodEnd})
	require.NoError(t, err)

	assert.True(t, sub.CancelAtPeriodEnd)
	assert.Equal(t, SubscriptionStatusActive, sub.Status)
	assert.Equal(t, PlanTeam, sub.PlanName)

	patch, ok := prov.patches["sub_live"]
	require.True(t, ok)
	require.NotNil(t, patch.CancelAtPeriodEnd)
	assert.True(t, *patch.CancelAtPeriodEnd)
}

func TestCancelSubscription_Immediate(t *testing.T) {
	repo := newFakeRepo()
	accountID := uuid.New()
	seedPaid(repo, accountID)

	prov := newFakeProvider()
	svc := newTestService(repo, prov, t)

	sub, err := svc.CancelSubscription(context.Background(), accountID, CancelRequest{
		Mode:     CancelImmediate,
		Reason:   "too-expensive",
		Feedback: "switching to the free tier",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"sub_live"}, prov.canceled)
	assert.Equal(t, PlanFree, sub.PlanName)
	assert.Equal(t, 1, sub.Seats)
	assert.Empty(t, sub.StripeSubscriptionID)
	require.Len(t, repo.feedback, 1)
	assert.Equal(t, "too-expensive", repo.feedback[0].Reason)
}

func TestCancelSubscription_AlreadyGoneIsSuccess(t *testing.T) {
	repo := newFakeRepo()
	accountID := uuid.New()
	seedPaid(repo, accountID)

	prov := newFakeProvider()
	prov.cancelErr["sub_live"] = provider.ErrSubscriptionGone
	svc := newTestService(repo, prov, t)

	sub, err := svc.CancelSubscription(context.Background(), accountID, CancelRequest{Mode: CancelImmediate})
	require.NoError(t, err)
	assert.Equal(t, PlanFree, sub.PlanName)
}

func TestCancelSubscription_DowngradeFailureSurfaced(t *testing.T) {
	repo := newFakeRepo()
	accountID := uuid.New()
	seedPaid(repo, accountID)
	repo.upsertErr = errors.New("db write failed")

	prov := newFakeProvider()
	svc := newTestService(repo, prov, t)

	_, err := svc.CancelSubscription(context.Background(), accountID, CancelRequest{Mode: CancelImmediate})
	assert.ErrorIs(t, err, ErrDowngradeIncomplete)
	// The provider side did happen.
	assert.Equal(t, []string{"sub_live"}, prov.canceled)
}

func TestCancelSubscription_FeedbackFailureNonFatal(t *testing.T) {
	repo := newFakeRepo()
	accountID := uuid.New()
	seedPaid(repo, accountID)
	repo.feedbackErr = errors.New("feedback table gone")

	prov := newFakeProvider()
	svc := newTestService(repo, prov, t)

	sub, err := svc.CancelSubscription(context.Background(), accountID, CancelRequest{
		Mode:   CancelImmediate,
		Reason: "too expensive",
	})
	require.NoError(t, err)
	assert.Equal(t, PlanFree, sub.PlanName)
	assert.Empty(t, sub.StripeSubscriptionID)
}

func TestCancelSubscription_InvalidMode(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, newFakeProvider(), t)

	_, err := svc.CancelSubscription(context.Background(), uuid.New(), CancelRequest{Mode: "eventually"})
	assert.ErrorIs(t, err, ErrInvalidCancelMode)
}

func TestCancelSubscription_FreePlanRejected(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, newFakeProvider(), t)

	// First access provisions the free default.
	_, err := svc.CancelSubscription(context.Background(), uuid.New(), CancelRequest{Mode: CancelImmediate})
	assert.ErrorIs(t, err, ErrNoBillingAttachment)
}

// --- MarkPendingActivation ---

func TestMarkPendingActivation(t *testing.T) {
	repo := newFakeRepo()
	accountID := uuid.New()
	svc := newTestService(repo, newFakeProvider(), t)

	err := svc.MarkPendingActivation(context.Background(), accountID, "cus_new")
	require.NoError(t, err)

	sub := repo.subs[accountID]
	assert.Equal(t, SubscriptionStatusPending, sub.Status)
	assert.Equal(t, "cus_new", sub.StripeCustomerID)
	// Plan unchanged until reconciliation confirms the upgrade.
	assert.Equal(t, PlanFree, sub.PlanName)
}
