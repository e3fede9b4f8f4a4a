package outbox

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/robertbravery/FurryFriends-sub000/libs/kafkax"
	"github.com/segmentio/kafka-go"
)

type fakeSource struct {
	pending []Record
	acked   int
}

func (s *fakeSource) PublishPending(ctx context.Context, limit int, fn func(context.Context, []Record) error) (int, error) {
	batch := s.pending
	if len(batch) > limit {
		batch = batch[:limit]
	}
	if len(batch) == 0 {
		return 0, nil
	}
	if err := fn(ctx, batch); err != nil {
		return 0, err
	}
	s.pending = s.pending[len(batch):]
	s.acked += len(batch)
	return len(batch), nil
}

type fakeWriter struct {
	msgs []kafka.Message
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestPublishOnceWritesMessagesPerEventType(t *testing.T) {
	src := &fakeSource{pending: []Record{
		{ID: 1, Event: Event{EventID: "e-1", AggregateID: "res-1", EventType: EventReservationBooked, Payload: []byte(`{"a":1}`)}},
		{ID: 2, Event: Event{EventID: "e-2", AggregateID: "prov-1", EventType: EventScheduleUpdated, Payload: []byte(`{}`)}},
		{ID: 3, Event: Event{EventID: "e-3", AggregateID: "res-2", EventType: EventReservationBooked, Payload: []byte(`{}`)}},
	}}
	w := &fakeWriter{}
	published := 0
	p := NewPublisher(src, w, slog.New(slog.NewTextHandler(io.Discard, nil)), PublisherConfig{
		BatchSize: 2,
		OnPublish: func(n int) { published += n },
	})

	n, err := p.PublishOnce(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("first batch: n=%d err=%v", n, err)
	}
	if _, err := p.PublishOnce(context.Background()); err != nil {
		t.Fatalf("second batch: %v", err)
	}

	if src.acked != 3 || published != 3 || len(w.msgs) != 3 {
		t.Fatalf("acked=%d published=%d msgs=%d", src.acked, published, len(w.msgs))
	}
	m := w.msgs[0]
	if m.Topic != EventReservationBooked || string(m.Key) != "res-1" {
		t.Fatalf("unexpected message %+v", m)
	}
	if kafkax.HeaderValue(m.Headers, "event_id") != "e-1" {
		t.Fatalf("missing event_id header: %v", m.Headers)
	}
}
