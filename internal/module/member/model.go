package member

import (
	"time"

	"github.com/google/uuid"
)

// MemberStatus represents a member's seat assignment state.
type MemberStatus string

const (
	// MemberStatusActive means the member holds a seat.
	MemberStatusActive MemberStatus = "active"
	// MemberStatusInactive means the member exists but holds no seat,
	// typically after a plan downgrade shrank the seat count.
	MemberStatusInactive MemberStatus = "inactive"
)

// Member is a protected inbox address attached to a subscription. Seats are
// assigned by seniority: members created earlier keep their seats when the
// plan shrinks.
type Member struct {
	ID             uuid.UUID    `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	SubscriptionID uuid.UUID    `json:"subscription_id" gorm:"type:uuid;not null;uniqueIndex:idx_members_subscription_email,priority:1"`
	Email          string       `json:"email" gorm:"not null;uniqueIndex:idx_members_subscription_email,priority:2"`
	Label          string       `json:"label"`
	CreatedBy      uuid.UUID    `json:"created_by" gorm:"type:uuid"`
	Status         MemberStatus `json:"status" gorm:"not null;default:active"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// TableName returns the database table name.
func (Member) TableName() string {
	return "members"
}

// IsActive returns true if the member currently holds a seat.
func (m *Member) IsActive() bool {
	return m.Status == MemberStatusActive
}
