package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	otelx "github.com/robertbravery/FurryFriends-sub000/libs/otel"
)

const (
	AggregateReservation = "reservation"
	AggregateSchedule    = "provider_schedule"

	EventReservationBooked    = "booking.reservation.booked.v1"
	EventReservationConfirmed = "booking.reservation.confirmed.v1"
	EventReservationCancelled = "booking.reservation.cancelled.v1"
	EventReservationCompleted = "booking.reservation.completed.v1"
	EventScheduleUpdated      = "booking.schedule.updated.v1"
)

// Event is a state change recorded in the same transaction as the change itself.
type Event struct {
	EventID       string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Traceparent   string
	Tracestate    string
	CreatedAt     time.Time
}

// NewEvent encodes payload as JSON and captures the trace context of ctx so the
// publisher can continue the trace when it ships the event.
func NewEvent(ctx context.Context, aggregateType, aggregateID, eventType string, payload any) (Event, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	tp, ts := otelx.InjectTraceContext(ctx)
	return Event{
		EventID:       uuid.NewString(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       body,
		Traceparent:   tp,
		Tracestate:    ts,
	}, nil
}

type ReservationPayload struct {
	ReservationID string    `json:"reservation_id"`
	ProviderID    string    `json:"provider_id"`
	ClientID      string    `json:"client_id"`
	Start         time.Time `json:"start_time"`
	End           time.Time `json:"end_time"`
	Status        string    `json:"status"`
	Price         int64     `json:"price"`
	OccurredAt    time.Time `json:"occurred_at"`
}

type ScheduleWindow struct {
	DayOfWeek int    `json:"day_of_week"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type SchedulePayload struct {
	ProviderID string           `json:"provider_id"`
	Windows    []ScheduleWindow `json:"windows"`
	OccurredAt time.Time        `json:"occurred_at"`
}
