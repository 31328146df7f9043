package member

import (
	"errors"
	"fmt"
)

// Domain errors for member management.
var (
	ErrMemberNotFound  = errors.New("member not found")
	ErrDuplicateMember = errors.New("member email already exists for subscription")
	ErrInvalidEmail    = errors.New("invalid member email")
)

// SeatLimitError reports an add that would exceed the plan's seat count.
type SeatLimitError struct {
	Current int
	Max     int
}

func (e *SeatLimitError) Error() string {
	return fmt.Sprintf("seat limit exceeded: %d of %d seats in use", e.Current, e.Max)
}

// PartialEnforcementError reports a seat enforcement pass where one or both
// status writes failed. Each half is reported separately: the derivation is
// idempotent, so the next pass completes whatever this one missed.
type PartialEnforcementError struct {
	EnableErr  error
	DisableErr error
}

func (e *PartialEnforcementError) Error() string {
	switch {
	case e.EnableErr != nil && e.DisableErr != nil:
		return fmt.Sprintf("seat enforcement incomplete: enable: %v; disable: %v", e.EnableErr, e.DisableErr)
	case e.EnableErr != nil:
		return fmt.Sprintf("seat enforcement incomplete: enable: %v", e.EnableErr)
	default:
		return fmt.Sprintf("seat enforcement incomplete: disable: %v", e.DisableErr)
	}
}

func (e *PartialEnforcementError) Unwrap() []error {
	var errs []error
	if e.EnableErr != nil {
		errs = append(errs, e.EnableErr)
	}
	if e.DisableErr != nil {
		errs = append(errs, e.DisableErr)
	}
	return errs
}
