package member

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mailvet/server/internal/module/billing"
)

// --- Fakes ---

type fakeRepo struct {
	members   map[uuid.UUID]*Member
	listErr   error
	updateErr map[MemberStatus]error
	clock     time.Time
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		members:   make(map[uuid.UUID]*Member),
		updateErr: make(map[MemberStatus]error),
		clock:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (r *fakeRepo) CreateMember(_ context.Context, m *Member) error {
	for _, existing := range r.members {
		if existing.SubscriptionID == m.SubscriptionID && existing.Email == m.Email {
			return ErrDuplicateMember
		}
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	r.clock = r.clock.Add(time.Minute)
	m.CreatedAt = r.clock
	cp := *m
	r.members[m.ID] = &cp
	return nil
}

func (r *fakeRepo) GetMember(_ context.Context, id uuid.UUID) (*Member, error) {
	m, ok := r.members[id]
	if !ok {
		return nil, ErrMemberNotFound
	}
	cp := *m
	return &cp, nil
}

func (r *fakeRepo) GetMemberByEmail(_ context.Context, subscriptionID uuid.UUID, email string) (*Member, error) {
	for _, m := range r.members {
		if m.SubscriptionID == subscriptionID && m.Email == email {
			cp := *m
			return &cp, nil
		}
	}
	return nil, ErrMemberNotFound
}

func (r *fakeRepo) ListMembers(_ context.Context, subscriptionID uuid.UUID) ([]*Member, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []*Member
	for _, m := range r.members {
		if m.SubscriptionID == subscriptionID {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (r *fakeRepo) CountActiveMembers(_ context.Context, subscriptionID uuid.UUID) (int, error) {
	count := 0
	for _, m := range r.members {
		if m.SubscriptionID == subscriptionID && m.Status == MemberStatusActive {
			count++
		}
	}
	return count, nil
}

func (r *fakeRepo) UpdateMemberStatuses(_ context.Context, ids []uuid.UUID, status MemberStatus) error {
	if err := r.updateErr[status]; err != nil {
		return err
	}
	for _, id := range ids {
		if m, ok := r.members[id]; ok {
			m.Status = status
		}
	}
	return nil
}

func (r *fakeRepo) DeleteMember(_ context.Context, id uuid.UUID) error {
	if _, ok := r.members[id]; !ok {
		return ErrMemberNotFound
	}
	delete(r.members, id)
	return nil
}

func (r *fakeRepo) Transaction(_ context.Context, fn func(Repository) error) error {
	return fn(r)
}

type fakeSeatSource struct {
	sub *billing.Subscription
	err error
}

func (s *fakeSeatSource) GetSubscription(_ context.Context, _ uuid.UUID) (*billing.Subscription, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.sub, nil
}

func newTestService(repo Repository, seats int) (*Service, *fakeSeatSource) {
	src := &fakeSeatSource{sub: &billing.Subscription{
		ID:        uuid.New(),
		AccountID: uuid.New(),
		Seats:     seats,
	}}
	return NewService(repo, src, zap.NewNop(), nil), src
}

func addMembers(t *testing.T, repo *fakeRepo, subID uuid.UUID, n int, status MemberStatus) []*Member {
	t.Helper()
	members := make([]*Member, 0, n)
	for i := 0; i < n; i++ {
		m := &Member{
			SubscriptionID: subID,
			Email:          string(rune('a'+i)) + "@example.com",
			Status:         status,
		}
		require.NoError(t, repo.CreateMember(context.Background(), m))
		members = append(members, m)
	}
	return members
}

// --- DeriveSeatAssignment ---

func TestDeriveSeatAssignment(t *testing.T) {
	mk := func(status MemberStatus) *Member {
		return &Member{ID: uuid.New(), Status: status}
	}

	t.Run("oldest members keep seats", func(t *testing.T) {
		members := []*Member{mk(MemberStatusActive), mk(MemberStatusActive), mk(MemberStatusActive)}
		enable, disable := DeriveSeatAssignment(2, members)
		assert.Empty(t, enable)
		assert.Equal(t, []uuid.UUID{members[2].ID}, disable)
	})

	t.Run("seat growth re-enables in seniority order", func(t *testing.T) {
		members := []*Member{mk(MemberStatusActive), mk(MemberStatusInactive), mk(MemberStatusInactive)}
		enable, disable := DeriveSeatAssignment(3, members)
		assert.Equal(t, []uuid.UUID{members[1].ID, members[2].ID}, enable)
		assert.Empty(t, disable)
	})

	t.Run("already converged is a no-op", func(t *testing.T) {
		members := []*Member{mk(MemberStatusActive), mk(MemberStatusInactive)}
		enable, disable := DeriveSeatAssignment(1, members)
		assert.Empty(t, enable)
		assert.Empty(t, disable)
	})

	t.Run("zero seats disables everyone", func(t *testing.T) {
		members := []*Member{mk(MemberStatusActive), mk(MemberStatusActive)}
		enable, disable := DeriveSeatAssignment(0, members)
		assert.Empty(t, enable)
		assert.Len(t, disable, 2)
	})

	t.Run("no members", func(t *testing.T) {
		enable, disable := DeriveSeatAssignment(5, nil)
		assert.Empty(t, enable)
		assert.Empty(t, disable)
	})
}

// --- EnforceSeatLimits ---

func TestEnforceSeatLimits_DowngradeDisablesNewest(t *testing.T) {
	repo := newFakeRepo()
	svc, src := newTestService(repo, 2)
	members := addMembers(t, repo, src.sub.ID, 4, MemberStatusActive)

	report, err := svc.EnforceSeatLimits(context.Background(), src.sub.AccountID)
	require.NoError(t, err)
	assert.True(t, report.IsOverLimit)
	assert.Equal(t, 2, report.MembersEnabled)
	assert.Equal(t, 2, report.MembersDisabled)

	assert.Equal(t, MemberStatusActive, repo.members[members[0].ID].Status)
	assert.Equal(t, MemberStatusActive, repo.members[members[1].ID].Status)
	assert.Equal(t, MemberStatusInactive, repo.members[members[2].ID].Status)
	assert.Equal(t, MemberStatusInactive, repo.members[members[3].ID].Status)
}

func TestEnforceSeatLimits_Idempotent(t *testing.T) {
	repo := newFakeRepo()
	svc, src := newTestService(repo, 3)
	addMembers(t, repo, src.sub.ID, 5, MemberStatusActive)

	first, err := svc.EnforceSeatLimits(context.Background(), src.sub.AccountID)
	require.NoError(t, err)

	second, err := svc.EnforceSeatLimits(context.Background(), src.sub.AccountID)
	require.NoError(t, err)

	// The report describes the resulting assignment, so both passes agree
	// even though the second one writes nothing.
	for _, report := range []*EnforcementReport{first, second} {
		assert.True(t, report.IsOverLimit)
		assert.Equal(t, 3, report.MembersEnabled)
		assert.Equal(t, 2, report.MembersDisabled)
	}
}

func TestEnforceSeatLimits_UpgradeReenables(t *testing.T) {
	repo := newFakeRepo()
	svc, src := newTestService(repo, 2)
	members := addMembers(t, repo, src.sub.ID, 3, MemberStatusActive)
	repo.members[members[1].ID].Status = MemberStatusInactive
	repo.members[members[2].ID].Status = MemberStatusInactive

	src.sub.Seats = 3
	report, err := svc.EnforceSeatLimits(context.Background(), src.sub.AccountID)
	require.NoError(t, err)
	assert.False(t, report.IsOverLimit)
	assert.Equal(t, 3, report.MembersEnabled)
	assert.Equal(t, 0, report.MembersDisabled)
}

func TestEnforceSeatLimits_PartialFailureTyped(t *testing.T) {
	repo := newFakeRepo()
	svc, src := newTestService(repo, 1)
	members := addMembers(t, repo, src.sub.ID, 2, MemberStatusActive)
	repo.members[members[0].ID].Status = MemberStatusInactive
	repo.updateErr[MemberStatusInactive] = errors.New("disable write failed")

	report, err := svc.EnforceSeatLimits(context.Background(), src.sub.AccountID)
	require.Error(t, err)

	var partial *PartialEnforcementError
	require.ErrorAs(t, err, &partial)
	assert.NoError(t, partial.EnableErr)
	assert.Error(t, partial.DisableErr)

	// The enable half still landed.
	assert.Equal(t, MemberStatusActive, repo.members[members[0].ID].Status)
	require.NotNil(t, report)
	assert.Equal(t, 1, report.MembersEnabled)
}

// --- AddMember ---

func TestAddMember(t *testing.T) {
	repo := newFakeRepo()
	svc, src := newTestService(repo, 3)

	m, err := svc.AddMember(context.Background(), src.sub.AccountID, "  Alice@Example.COM ", "Alice", uuid.New())
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", m.Email)
	assert.Equal(t, MemberStatusActive, m.Status)
}

func TestAddMember_SeatLimitExceeded(t *testing.T) {
	repo := newFakeRepo()
	svc, src := newTestService(repo, 2)
	addMembers(t, repo, src.sub.ID, 2, MemberStatusActive)

	_, err := svc.AddMember(context.Background(), src.sub.AccountID, "new@example.com", "", uuid.New())
	var seatErr *SeatLimitError
	require.ErrorAs(t, err, &seatErr)
	assert.Equal(t, 2, seatErr.Current)
	assert.Equal(t, 2, seatErr.Max)
}

func TestAddMember_InactiveMembersDoNotHoldSeats(t *testing.T) {
	repo := newFakeRepo()
	svc, src := newTestService(repo, 2)
	addMembers(t, repo, src.sub.ID, 1, MemberStatusActive)
	inactive := &Member{SubscriptionID: src.sub.ID, Email: "idle@example.com", Status: MemberStatusInactive}
	require.NoError(t, repo.CreateMember(context.Background(), inactive))

	// One active of two seats: the inactive member does not block the add.
	_, err := svc.AddMember(context.Background(), src.sub.AccountID, "second@example.com", "", uuid.New())
	assert.NoError(t, err)
}

func TestAddMember_Duplicate(t *testing.T) {
	repo := newFakeRepo()
	svc, src := newTestService(repo, 5)

	_, err := svc.AddMember(context.Background(), src.sub.AccountID, "dup@example.com", "", uuid.New())
	require.NoError(t, err)

	_, err = svc.AddMember(context.Background(), src.sub.AccountID, "DUP@example.com", "", uuid.New())
	assert.ErrorIs(t, err, ErrDuplicateMember)
}

func TestAddMember_InvalidEmail(t *testing.T) {
	repo := newFakeRepo()
	svc, src := newTestService(repo, 5)

	_, err := svc.AddMember(context.Background(), src.sub.AccountID, "not-an-email", "", uuid.New())
	assert.ErrorIs(t, err, ErrInvalidEmail)
}

// --- RemoveMember ---

func TestRemoveMember_NoRepromotion(t *testing.T) {
	repo := newFakeRepo()
	svc, src := newTestService(repo, 2)
	members := addMembers(t, repo, src.sub.ID, 3, MemberStatusActive)
	repo.members[members[2].ID].Status = MemberStatusInactive

	require.NoError(t, svc.RemoveMember(context.Background(), src.sub.AccountID, members[0].ID))

	// The freed seat stays empty until an enforcement pass runs.
	assert.Equal(t, MemberStatusInactive, repo.members[members[2].ID].Status)
	_, err := repo.GetMember(context.Background(), members[0].ID)
	assert.ErrorIs(t, err, ErrMemberNotFound)
}

func TestRemoveMember_WrongSubscription(t *testing.T) {
	repo := newFakeRepo()
	svc, src := newTestService(repo, 2)
	stranger := &Member{SubscriptionID: uuid.New(), Email: "other@example.com", Status: MemberStatusActive}
	require.NoError(t, repo.CreateMember(context.Background(), stranger))

	err := svc.RemoveMember(context.Background(), src.sub.AccountID, stranger.ID)
	assert.ErrorIs(t, err, ErrMemberNotFound)
	// Not deleted.
	_, err = repo.GetMember(context.Background(), stranger.ID)
	assert.NoError(t, err)
}

// --- IsAuthorized ---

func TestIsAuthorized(t *testing.T) {
	repo := newFakeRepo()
	svc, src := newTestService(repo, 2)
	members := addMembers(t, repo, src.sub.ID, 3, MemberStatusActive)

	t.Run("member within seats", func(t *testing.T) {
		res, err := svc.IsAuthorized(context.Background(), src.sub.AccountID, members[0].Email)
		require.NoError(t, err)
		assert.True(t, res.Authorized)
		assert.Equal(t, AuthReasonOK, res.Reason)
	})

	t.Run("active but over seat limit", func(t *testing.T) {
		// Stored status says active; the live rank says the third member has
		// no seat under a 2-seat plan.
		res, err := svc.IsAuthorized(context.Background(), src.sub.AccountID, members[2].Email)
		require.NoError(t, err)
		assert.False(t, res.Authorized)
		assert.Equal(t, AuthReasonOverLimit, res.Reason)
	})

	t.Run("disabled member", func(t *testing.T) {
		repo.members[members[1].ID].Status = MemberStatusInactive
		res, err := svc.IsAuthorized(context.Background(), src.sub.AccountID, members[1].Email)
		require.NoError(t, err)
		assert.False(t, res.Authorized)
		assert.Equal(t, AuthReasonSeatDisabled, res.Reason)
	})

	t.Run("unknown email", func(t *testing.T) {
		res, err := svc.IsAuthorized(context.Background(), src.sub.AccountID, "nobody@example.com")
		require.NoError(t, err)
		assert.False(t, res.Authorized)
		assert.Equal(t, AuthReasonNotMember, res.Reason)
	})

	t.Run("case and whitespace normalized", func(t *testing.T) {
		res, err := svc.IsAuthorized(context.Background(), src.sub.AccountID, "  "+members[0].Email+"  ")
		require.NoError(t, err)
		assert.True(t, res.Authorized)
	})
}

func TestIsAuthorized_FailsClosed(t *testing.T) {
	t.Run("member list failure", func(t *testing.T) {
		repo := newFakeRepo()
		svc, src := newTestService(repo, 2)
		repo.listErr = errors.New("db down")

		res, err := svc.IsAuthorized(context.Background(), src.sub.AccountID, "a@example.com")
		assert.Error(t, err)
		assert.Nil(t, res)
	})

	t.Run("subscription fetch failure", func(t *testing.T) {
		repo := newFakeRepo()
		svc, src := newTestService(repo, 2)
		src.err = errors.New("billing down")

		res, err := svc.IsAuthorized(context.Background(), src.sub.AccountID, "a@example.com")
		assert.Error(t, err)
		assert.Nil(t, res)
	})
}
