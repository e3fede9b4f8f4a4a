package model

import (
	"errors"
	"testing"
	"time"
)

func TestTransitions(t *testing.T) {
	at := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	cases := []struct {
		from Status
		to   Status
		ok   bool
	}{
		{StatusPending, StatusConfirmed, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusCompleted, false},
		{StatusConfirmed, StatusCompleted, true},
		{StatusConfirmed, StatusCancelled, true},
		{StatusConfirmed, StatusPending, false},
		{StatusCancelled, StatusCancelled, false},
		{StatusCancelled, StatusConfirmed, false},
		{StatusCompleted, StatusCancelled, false},
	}
	for _, c := range cases {
		r := Reservation{ID: "r1", Status: c.from}
		err := r.Transition(c.to, at)
		if c.ok {
			if err != nil || r.Status != c.to || !r.UpdatedAt.Equal(at) {
				t.Fatalf("%s -> %s: unexpected err=%v status=%s", c.from, c.to, err, r.Status)
			}
			continue
		}
		var te *InvalidTransitionError
		if !errors.As(err, &te) {
			t.Fatalf("%s -> %s: expected InvalidTransitionError, got %v", c.from, c.to, err)
		}
		if r.Status != c.from {
			t.Fatalf("%s -> %s: status changed on failed transition", c.from, c.to)
		}
	}
}

func TestTransitionStampsAuditFields(t *testing.T) {
	at := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	r := Reservation{Status: StatusPending}
	_ = r.Transition(StatusConfirmed, at)
	_ = r.Transition(StatusCompleted, at.Add(time.Hour))
	if r.ConfirmedAt == nil || r.CompletedAt == nil || r.CancelledAt != nil {
		t.Fatalf("unexpected audit fields: %+v", r)
	}
	if !r.CompletedAt.Equal(at.Add(time.Hour)) {
		t.Fatalf("completed_at = %s", r.CompletedAt)
	}
}

func TestParseStatus(t *testing.T) {
	if s, err := ParseStatus("confirmed"); err != nil || s != StatusConfirmed {
		t.Fatalf("got %q, %v", s, err)
	}
	if _, err := ParseStatus("booked"); err == nil {
		t.Fatal("expected error for unknown status")
	}
	if !StatusPending.Active() || !StatusConfirmed.Active() || StatusCancelled.Active() || StatusCompleted.Active() {
		t.Fatal("status predicates wrong")
	}
}
