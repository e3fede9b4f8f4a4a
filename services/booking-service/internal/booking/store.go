package booking

import (
	"context"

	"github.com/robertbravery/FurryFriends-sub000/services/booking-service/internal/availability"
	"github.com/robertbravery/FurryFriends-sub000/services/booking-service/internal/model"
	"github.com/robertbravery/FurryFriends-sub000/services/booking-service/internal/outbox"
)

// Store runs fn inside one transaction. View is a read-only consistent snapshot.
// Update commits only if fn returns nil; otherwise nothing fn did is visible.
//
// Implementations report failures by wrapping the model sentinels
// (ErrNotFound, ErrOverlap, ErrSerialization, ErrStoreUnavailable).
type Store interface {
	View(ctx context.Context, fn func(Tx) error) error
	Update(ctx context.Context, fn func(Tx) error) error
}

type Tx interface {
	// LockProvider serializes writers for one provider until the transaction ends.
	LockProvider(ctx context.Context, providerID string) error

	ListWindows(ctx context.Context, providerID string) ([]availability.Window, error)
	ReplaceWindows(ctx context.Context, providerID string, windows []availability.Window) error

	// ListActive returns pending and confirmed reservations overlapping span, ordered by start.
	ListActive(ctx context.Context, providerID string, span availability.Interval) ([]model.Reservation, error)
	InsertReservation(ctx context.Context, r model.Reservation) error
	GetReservation(ctx context.Context, id string) (model.Reservation, error)
	GetReservationForUpdate(ctx context.Context, id string) (model.Reservation, error)
	// UpdateReservationStatus persists status, updated_at and the audit timestamps of r.
	UpdateReservationStatus(ctx context.Context, r model.Reservation) error

	AppendEvent(ctx context.Context, evt outbox.Event) error
}

// ScheduleCache is a read-through cache of weekly windows keyed by provider.
// Readers take the generation before loading from the store; Set must refuse
// to write once Invalidate has run for a later generation.
type ScheduleCache interface {
	Get(ctx context.Context, providerID string) ([]availability.Window, bool, error)
	Generation(ctx context.Context, providerID string) (int64, error)
	Set(ctx context.Context, providerID string, gen int64, windows []availability.Window) (bool, error)
	Invalidate(ctx context.Context, providerID string) error
}

type Metrics interface {
	ObserveBooking(outcome string, seconds float64)
	ObserveTransition(to model.Status, outcome string)
	ObserveRetry(op string)
}

type nopMetrics struct{}

func (nopMetrics) ObserveBooking(string, float64) {}
func (nopMetrics) ObserveTransition(model.Status, string) {}
func (nopMetrics) ObserveRetry(string) {}
