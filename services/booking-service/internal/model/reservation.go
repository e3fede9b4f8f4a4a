package model

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// ActiveStatuses hold capacity: a reservation in one of these blocks its interval.
var ActiveStatuses = []Status{StatusPending, StatusConfirmed}

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted:
		return st, nil
	}
	return "", fmt.Errorf("unknown reservation status %q", s)
}

func (s Status) Active() bool {
	return slices.Contains(ActiveStatuses, s)
}

var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusCancelled},
}

func (s Status) CanTransitionTo(to Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

type Reservation struct {
	ID          string
	ProviderID  string
	ClientID    string
	Start       time.Time
	End         time.Time
	Status      Status
	Price       int64
	Notes       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ConfirmedAt *time.Time
	CancelledAt *time.Time
	CompletedAt *time.Time
}

type InvalidTransitionError struct {
	ReservationID string
	From          Status
	To            Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("reservation %s: cannot move from %s to %s", e.ReservationID, e.From, e.To)
}

// Transition moves r to status `to` at time `at`, stamping the matching audit field.
func (r *Reservation) Transition(to Status, at time.Time) error {
	if !r.Status.CanTransitionTo(to) {
		return &InvalidTransitionError{ReservationID: r.ID, From: r.Status, To: to}
	}
	r.Status = to
	r.UpdatedAt = at
	switch to {
	case StatusConfirmed:
		r.ConfirmedAt = &at
	case StatusCancelled:
		r.CancelledAt = &at
	case StatusCompleted:
		r.CompletedAt = &at
	}
	return nil
}

// Store-level sentinels. Storage implementations wrap these so the service can
// classify failures without knowing the backend.
var (
	ErrNotFound         = errors.New("not found")
	ErrOverlap          = errors.New("overlapping active reservation")
	ErrSerialization    = errors.New("transaction serialization failure")
	ErrStoreUnavailable = errors.New("store unavailable")
)
