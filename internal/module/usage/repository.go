package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository defines the interface for usage data access.
type Repository interface {
	CreateRecord(ctx context.Context, record *UsageRecord) error
	// CountSince counts analyses since the given time. Used as the durable
	// fallback when the Redis counter is unavailable.
	CountSince(ctx context.Context, accountID uuid.UUID, since time.Time) (int64, error)
	ListRecords(ctx context.Context, accountID uuid.UUID, since time.Time, limit int) ([]*UsageRecord, error)
	VerdictCounts(ctx context.Context, accountID uuid.UUID, since time.Time) (map[string]int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new usage repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) CreateRecord(ctx context.Context, record *UsageRecord) error {
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("create usage record: %w", err)
	}
	return nil
}

func (r *repository) CountSince(ctx context.Context, accountID uuid.UUID, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&UsageRecord{}).
		Where("account_id = ? AND created_at >= ?", accountID, since).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count usage records: %w", err)
	}
	return count, nil
}

func (r *repository) ListRecords(ctx context.Context, accountID uuid.UUID, since time.Time, limit int) ([]*UsageRecord, error) {
	var records []*UsageRecord
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND created_at >= ?", accountID, since).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list usage records: %w", err)
	}
	return records, nil
}

func (r *repository) VerdictCounts(ctx context.Context, accountID uuid.UUID, since time.Time) (map[string]int64, error) {
	type row struct {
		Verdict string
		Count   int64
	}
	var rows []row
	err := r.db.WithContext(ctx).
		Model(&UsageRecord{}).
		Select("verdict, COUNT(*) as count").
		Where("account_id = ? AND created_at >= ?", accountID, since).
		Group("verdict").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("verdict counts: %w", err)
	}

	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Verdict] = r.Count
	}
	return counts, nil
}
