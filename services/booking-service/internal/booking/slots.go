package booking

import (
	"context"
	"iter"
	"time"

	"github.com/robertbravery/FurryFriends-sub000/services/booking-service/internal/availability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// GenerateSlots reads the provider's windows for date and the day's active
// reservations from one snapshot and returns the lazy slot sequence. step 0 means
// step == slotDuration. Past slots are not filtered here.
func (s *Service) GenerateSlots(ctx context.Context, providerID string, date time.Time, slotDuration, step time.Duration) (seq iter.Seq[availability.Interval], err error) {
	ctx, span := tracer.Start(ctx, "booking.GenerateSlots", trace.WithAttributes(
		attribute.String("provider_id", providerID),
		attribute.String("date", date.In(s.loc).Format(time.DateOnly)),
	))
	defer func() { endSpan(span, err) }()

	if slotDuration <= 0 || step < 0 {
		return nil, ErrInvalidSlotDuration
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	day := availability.DaySpan(date, s.loc)
	var (
		open []availability.Interval
		busy []availability.Interval
	)
	err = s.view(ctx, "generate_slots", func(tx Tx) error {
		windows, err := tx.ListWindows(ctx, providerID)
		if err != nil {
			return err
		}
		open = availability.WindowsForDate(windows, date, s.loc)
		if len(open) == 0 {
			return nil
		}
		active, err := tx.ListActive(ctx, providerID, day)
		if err != nil {
			return err
		}
		busy = intervalsOf(active)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return availability.Slots(open, busy, slotDuration, step), nil
}
