package booking

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robertbravery/FurryFriends-sub000/services/booking-service/internal/availability"
	"github.com/robertbravery/FurryFriends-sub000/services/booking-service/internal/model"
	"github.com/robertbravery/FurryFriends-sub000/services/booking-service/internal/outbox"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type BookRequest struct {
	ProviderID string
	ClientID   string
	Start      time.Time
	End        time.Time
	// Price in minor currency units.
	Price int64
	Notes string
}

// Book reserves [Start, End) for the client. The availability check, the ledger
// read and the insert run in one transaction holding the provider lock, so two
// concurrent requests for overlapping ranges can never both succeed.
func (s *Service) Book(ctx context.Context, req BookRequest) (res model.Reservation, err error) {
	ctx, span := tracer.Start(ctx, "booking.Book", trace.WithAttributes(
		attribute.String("provider_id", req.ProviderID),
		attribute.String("client_id", req.ClientID),
	))
	started := time.Now()
	defer func() {
		s.metrics.ObserveBooking(bookingOutcome(err), time.Since(started).Seconds())
		if err == nil {
			span.SetAttributes(attribute.String("reservation_id", res.ID))
		}
		endSpan(span, err)
	}()

	if strings.TrimSpace(req.ProviderID) == "" || strings.TrimSpace(req.ClientID) == "" {
		return model.Reservation{}, ErrInvalidRequest
	}
	if req.Price < 0 {
		return model.Reservation{}, ErrInvalidRequest
	}
	iv, err := availability.NewInterval(req.Start, req.End)
	if err != nil {
		return model.Reservation{}, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err = s.update(ctx, "book", func(tx Tx) error {
		if err := tx.LockProvider(ctx, req.ProviderID); err != nil {
			return err
		}
		windows, err := tx.ListWindows(ctx, req.ProviderID)
		if err != nil {
			return err
		}
		if !availability.Covers(windows, iv, s.loc) {
			return &OutsideAvailabilityError{ProviderID: req.ProviderID, Requested: iv}
		}

		active, err := tx.ListActive(ctx, req.ProviderID, iv)
		if err != nil {
			return err
		}
		if len(active) > 0 {
			return &SlotConflictError{ProviderID: req.ProviderID, Requested: iv, Conflicts: intervalsOf(active)}
		}

		now := s.now()
		r := model.Reservation{
			ID:         uuid.NewString(),
			ProviderID: req.ProviderID,
			ClientID:   req.ClientID,
			Start:      iv.Start,
			End:        iv.End,
			Status:     model.StatusPending,
			Price:      req.Price,
			Notes:      req.Notes,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := tx.InsertReservation(ctx, r); err != nil {
			return err
		}
		if err := s.appendReservationEvent(ctx, tx, outbox.EventReservationBooked, r, now); err != nil {
			return err
		}
		res = r
		return nil
	})
	if errors.Is(err, model.ErrOverlap) {
		return model.Reservation{}, &SlotConflictError{ProviderID: req.ProviderID, Requested: iv}
	}
	if err != nil {
		return model.Reservation{}, err
	}

	s.logger.Info("reservation booked",
		"reservation_id", res.ID,
		"provider_id", res.ProviderID,
		"start", res.Start,
		"end", res.End,
	)
	return res, nil
}

func (s *Service) Cancel(ctx context.Context, reservationID string) (model.Reservation, error) {
	return s.transition(ctx, reservationID, model.StatusCancelled, outbox.EventReservationCancelled)
}

func (s *Service) Confirm(ctx context.Context, reservationID string) (model.Reservation, error) {
	return s.transition(ctx, reservationID, model.StatusConfirmed, outbox.EventReservationConfirmed)
}

func (s *Service) Complete(ctx context.Context, reservationID string) (model.Reservation, error) {
	return s.transition(ctx, reservationID, model.StatusCompleted, outbox.EventReservationCompleted)
}

func (s *Service) transition(ctx context.Context, reservationID string, to model.Status, eventType string) (res model.Reservation, err error) {
	ctx, span := tracer.Start(ctx, "booking.Transition", trace.WithAttributes(
		attribute.String("reservation_id", reservationID),
		attribute.String("to", string(to)),
	))
	defer func() {
		s.metrics.ObserveTransition(to, transitionOutcome(err))
		endSpan(span, err)
	}()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err = s.update(ctx, "transition_"+string(to), func(tx Tx) error {
		r, err := tx.GetReservationForUpdate(ctx, reservationID)
		if errors.Is(err, model.ErrNotFound) {
			return ErrReservationNotFound
		}
		if err != nil {
			return err
		}
		now := s.now()
		if err := r.Transition(to, now); err != nil {
			return err
		}
		if err := tx.UpdateReservationStatus(ctx, r); err != nil {
			return err
		}
		if err := s.appendReservationEvent(ctx, tx, eventType, r, now); err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return model.Reservation{}, err
	}
	s.logger.Info("reservation status changed", "reservation_id", res.ID, "provider_id", res.ProviderID, "status", res.Status)
	return res, nil
}

func (s *Service) GetReservation(ctx context.Context, reservationID string) (model.Reservation, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var res model.Reservation
	err := s.view(ctx, "get_reservation", func(tx Tx) error {
		r, err := tx.GetReservation(ctx, reservationID)
		if errors.Is(err, model.ErrNotFound) {
			return ErrReservationNotFound
		}
		res = r
		return err
	})
	if err != nil {
		return model.Reservation{}, err
	}
	return res, nil
}

// GetActiveReservations lists the pending and confirmed intervals overlapping span.
func (s *Service) GetActiveReservations(ctx context.Context, providerID string, span availability.Interval) ([]availability.Interval, error) {
	if _, err := availability.NewInterval(span.Start, span.End); err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var out []availability.Interval
	err := s.view(ctx, "list_active", func(tx Tx) error {
		active, err := tx.ListActive(ctx, providerID, span)
		if err != nil {
			return err
		}
		out = intervalsOf(active)
		return nil
	})
	return out, err
}

func (s *Service) appendReservationEvent(ctx context.Context, tx Tx, eventType string, r model.Reservation, at time.Time) error {
	evt, err := outbox.NewEvent(ctx, outbox.AggregateReservation, r.ID, eventType, outbox.ReservationPayload{
		ReservationID: r.ID,
		ProviderID:    r.ProviderID,
		ClientID:      r.ClientID,
		Start:         r.Start,
		End:           r.End,
		Status:        string(r.Status),
		Price:         r.Price,
		OccurredAt:    at,
	})
	if err != nil {
		return err
	}
	return tx.AppendEvent(ctx, evt)
}

func intervalsOf(rs []model.Reservation) []availability.Interval {
	out := make([]availability.Interval, 0, len(rs))
	for _, r := range rs {
		out = append(out, availability.Interval{Start: r.Start, End: r.End})
	}
	availability.SortByStart(out)
	return out
}

func bookingOutcome(err error) string {
	var (
		conflict *SlotConflictError
		outside  *OutsideAvailabilityError
		invalid  *availability.InvalidIntervalError
		store    *StoreUnavailableError
	)
	switch {
	case err == nil:
		return "booked"
	case errors.As(err, &conflict):
		return "conflict"
	case errors.As(err, &outside):
		return "outside_availability"
	case errors.As(err, &invalid), errors.Is(err, ErrInvalidRequest):
		return "invalid"
	case errors.As(err, &store):
		return "unavailable"
	}
	return "error"
}

func transitionOutcome(err error) string {
	var (
		invalid *model.InvalidTransitionError
		store   *StoreUnavailableError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrReservationNotFound):
		return "not_found"
	case errors.As(err, &invalid):
		return "invalid_transition"
	case errors.As(err, &store):
		return "unavailable"
	}
	return "error"
}
