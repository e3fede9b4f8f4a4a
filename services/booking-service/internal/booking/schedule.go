package booking

import (
	"context"
	"slices"
	"time"

	"github.com/robertbravery/FurryFriends-sub000/services/booking-service/internal/availability"
	"github.com/robertbravery/FurryFriends-sub000/services/booking-service/internal/outbox"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// SetSchedule replaces the provider's whole weekly schedule. An invalid schedule
// is rejected with every violation listed and the stored schedule is left as is.
func (s *Service) SetSchedule(ctx context.Context, providerID string, windows []availability.Window) (err error) {
	ctx, span := tracer.Start(ctx, "booking.SetSchedule", trace.WithAttributes(
		attribute.String("provider_id", providerID),
		attribute.Int("windows", len(windows)),
	))
	defer func() { endSpan(span, err) }()

	if providerID == "" {
		return ErrInvalidRequest
	}
	if err := availability.ValidateWindows(windows); err != nil {
		return err
	}
	windows = slices.Clone(windows)
	slices.SortFunc(windows, compareWindows)

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err = s.update(ctx, "set_schedule", func(tx Tx) error {
		if err := tx.LockProvider(ctx, providerID); err != nil {
			return err
		}
		if err := tx.ReplaceWindows(ctx, providerID, windows); err != nil {
			return err
		}
		evt, err := outbox.NewEvent(ctx, outbox.AggregateSchedule, providerID, outbox.EventScheduleUpdated, schedulePayload(providerID, windows, s.now()))
		if err != nil {
			return err
		}
		return tx.AppendEvent(ctx, evt)
	})
	if err != nil {
		return err
	}

	if s.cache != nil {
		if cerr := s.cache.Invalidate(ctx, providerID); cerr != nil {
			s.logger.Warn("schedule cache invalidate failed", "provider_id", providerID, "err", cerr)
		}
	}
	s.logger.Info("schedule replaced", "provider_id", providerID, "windows", len(windows))
	return nil
}

func (s *Service) ClearSchedule(ctx context.Context, providerID string) error {
	return s.SetSchedule(ctx, providerID, nil)
}

// GetWindowsForDate returns the provider's open intervals on date, sorted by start.
// A provider with no hours that weekday gets an empty result, not an error.
func (s *Service) GetWindowsForDate(ctx context.Context, providerID string, date time.Time) ([]availability.Interval, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	windows, err := s.loadWindows(ctx, providerID)
	if err != nil {
		return nil, err
	}
	return availability.WindowsForDate(windows, date, s.loc), nil
}

// GetSchedule returns the provider's stored weekly windows.
func (s *Service) GetSchedule(ctx context.Context, providerID string) ([]availability.Window, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.loadWindows(ctx, providerID)
}

func (s *Service) loadWindows(ctx context.Context, providerID string) ([]availability.Window, error) {
	cacheable := false
	var gen int64
	if s.cache != nil {
		windows, ok, err := s.cache.Get(ctx, providerID)
		if err != nil {
			s.logger.Warn("schedule cache read failed", "provider_id", providerID, "err", err)
		} else if ok {
			return windows, nil
		}
		if gen, err = s.cache.Generation(ctx, providerID); err != nil {
			s.logger.Warn("schedule cache generation read failed", "provider_id", providerID, "err", err)
		} else {
			cacheable = true
		}
	}

	var windows []availability.Window
	err := s.view(ctx, "list_windows", func(tx Tx) error {
		var err error
		windows, err = tx.ListWindows(ctx, providerID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if cacheable {
		if _, err := s.cache.Set(ctx, providerID, gen, windows); err != nil {
			s.logger.Warn("schedule cache write failed", "provider_id", providerID, "err", err)
		}
	}
	return windows, nil
}

func compareWindows(a, b availability.Window) int {
	if a.Weekday != b.Weekday {
		return int(a.Weekday) - int(b.Weekday)
	}
	return a.StartMinute - b.StartMinute
}

func schedulePayload(providerID string, windows []availability.Window, at time.Time) outbox.SchedulePayload {
	p := outbox.SchedulePayload{ProviderID: providerID, Windows: []outbox.ScheduleWindow{}, OccurredAt: at}
	for _, w := range windows {
		p.Windows = append(p.Windows, outbox.ScheduleWindow{
			DayOfWeek: int(w.Weekday),
			StartTime: availability.FormatClock(w.StartMinute),
			EndTime:   availability.FormatClock(w.EndMinute),
		})
	}
	return p
}
