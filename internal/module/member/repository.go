package member

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository defines the interface for member data access.
type Repository interface {
	CreateMember(ctx context.Context, m *Member) error
	GetMember(ctx context.Context, id uuid.UUID) (*Member, error)
	GetMemberByEmail(ctx context.Context, subscriptionID uuid.UUID, email string) (*Member, error)
	// ListMembers returns all members of a subscription in seniority order:
	// created_at ascending, id ascending as the tiebreak.
	ListMembers(ctx context.Context, subscriptionID uuid.UUID) ([]*Member, error)
	CountActiveMembers(ctx context.Context, subscriptionID uuid.UUID) (int, error)
	UpdateMemberStatuses(ctx context.Context, ids []uuid.UUID, status MemberStatus) error
	DeleteMember(ctx context.Context, id uuid.UUID) error

	// Transaction runs fn against a transactional view of the repository.
	Transaction(ctx context.Context, fn func(Repository) error) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new member repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// Transaction runs fn inside a database transaction.
func (r *repository) Transaction(ctx context.Context, fn func(Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&repository{db: tx})
	})
}

func (r *repository) CreateMember(ctx context.Context, m *Member) error {
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateMember
		}
		return fmt.Errorf("create member: %w", err)
	}
	return nil
}

func (r *repository) GetMember(ctx context.Context, id uuid.UUID) (*Member, error) {
	var m Member
	err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMemberNotFound
		}
		return nil, fmt.Errorf("get member: %w", err)
	}
	return &m, nil
}

func (r *repository) GetMemberByEmail(ctx context.Context, subscriptionID uuid.UUID, email string) (*Member, error) {
	var m Member
	err := r.db.WithContext(ctx).
		Where("subscription_id = ? AND email = ?", subscriptionID, email).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMemberNotFound
		}
		return nil, fmt.Errorf("get member by email: %w", err)
	}
	return &m, nil
}

func (r *repository) ListMembers(ctx context.Context, subscriptionID uuid.UUID) ([]*Member, error) {
	var members []*Member
	err := r.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("created_at ASC, id ASC").
		Find(&members).Error
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return members, nil
}

func (r *repository) CountActiveMembers(ctx context.Context, subscriptionID uuid.UUID) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&Member{}).
		Where("subscription_id = ? AND status = ?", subscriptionID, MemberStatusActive).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count active members: %w", err)
	}
	return int(count), nil
}

func (r *repository) UpdateMemberStatuses(ctx context.Context, ids []uuid.UUID, status MemberStatus) error {
	if len(ids) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).
		Model(&Member{}).
		Where("id IN ?", ids).
		Update("status", status).Error
	if err != nil {
		return fmt.Errorf("update member statuses: %w", err)
	}
	return nil
}

func (r *repository) DeleteMember(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Delete(&Member{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("delete member: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrMemberNotFound
	}
	return nil
}
