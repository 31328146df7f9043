package member

import (
	"time"

	"github.com/google/uuid"
)

// AddMemberRequest represents the request to add a member.
type AddMemberRequest struct {
	Email string `json:"email" binding:"required,email"`
	Label string `json:"label" binding:"max=120"`
}

// MemberResponse represents a member in API responses.
type MemberResponse struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Label     string    `json:"label,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// ToResponse converts a Member to MemberResponse.
func (m *Member) ToResponse() *MemberResponse {
	return &MemberResponse{
		ID:        m.ID,
		Email:     m.Email,
		Label:     m.Label,
		Status:    string(m.Status),
		CreatedAt: m.CreatedAt,
	}
}

// ListMembersResponse represents the response for listing members.
type ListMembersResponse struct {
	Members []*MemberResponse `json:"members"`
	Total   int               `json:"total"`
}
