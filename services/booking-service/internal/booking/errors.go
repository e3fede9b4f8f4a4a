package booking

import (
	"errors"
	"fmt"
	"strings"

	"github.com/robertbravery/FurryFriends-sub000/services/booking-service/internal/availability"
)

var (
	ErrReservationNotFound = errors.New("reservation not found")
	ErrInvalidSlotDuration = errors.New("slot duration must be positive and step must not be negative")
	ErrInvalidRequest      = errors.New("invalid booking request")
)

type OutsideAvailabilityError struct {
	ProviderID string
	Requested  availability.Interval
}

func (e *OutsideAvailabilityError) Error() string {
	return fmt.Sprintf("provider %s is not available for %s", e.ProviderID, e.Requested)
}

// SlotConflictError means the range is taken. Conflicts is empty when the clash was
// caught by the database constraint rather than the ledger read.
type SlotConflictError struct {
	ProviderID string
	Requested  availability.Interval
	Conflicts  []availability.Interval
}

func (e *SlotConflictError) Error() string {
	if len(e.Conflicts) == 0 {
		return fmt.Sprintf("slot %s is no longer available for provider %s", e.Requested, e.ProviderID)
	}
	parts := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		parts = append(parts, c.String())
	}
	return fmt.Sprintf("slot %s is no longer available for provider %s: overlaps %s",
		e.Requested, e.ProviderID, strings.Join(parts, ", "))
}

// StoreUnavailableError is an infrastructure failure. Unlike the business errors it
// is worth retrying.
type StoreUnavailableError struct {
	Op      string
	Err     error
	Timeout bool
}

func (e *StoreUnavailableError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s: store timed out: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: store unavailable: %v", e.Op, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error { return e.Err }

func (e *StoreUnavailableError) Retryable() bool { return true }
