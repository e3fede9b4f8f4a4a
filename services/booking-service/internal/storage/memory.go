package storage

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/robertbravery/FurryFriends-sub000/services/booking-service/internal/availability"
	"github.com/robertbravery/FurryFriends-sub000/services/booking-service/internal/booking"
	"github.com/robertbravery/FurryFriends-sub000/services/booking-service/internal/model"
	"github.com/robertbravery/FurryFriends-sub000/services/booking-service/internal/outbox"
)

const defaultOutboxLimit = 10000

// MemoryStore keeps everything in process. Writers are serialized by one lock and
// work on a private copy of the state that replaces the shared one only on commit.
// Readers take the current immutable snapshot.
//
// Published events are removed from the outbox. Unpublished ones are capped at
// the outbox limit; past it the oldest event is dropped and counted.
type MemoryStore struct {
	writer chan struct{}

	mu          sync.RWMutex
	state       *memState
	now         func() time.Time
	outboxLimit int
}

type memState struct {
	windows      map[string][]availability.Window
	reservations map[string]model.Reservation
	outbox       []outbox.Record
	nextEventID  int64
	dropped      int64
}

type MemoryOption func(*MemoryStore)

// WithOutboxLimit bounds the unpublished backlog. n <= 0 keeps the default.
func WithOutboxLimit(n int) MemoryOption {
	return func(s *MemoryStore) {
		if n > 0 {
			s.outboxLimit = n
		}
	}
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		writer: make(chan struct{}, 1),
		state: &memState{
			windows:      map[string][]availability.Window{},
			reservations: map[string]model.Reservation{},
		},
		now:         time.Now,
		outboxLimit: defaultOutboxLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) snapshot() *memState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *MemoryStore) lock(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case s.writer <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *MemoryStore) unlock() { <-s.writer }

func (s *MemoryStore) View(ctx context.Context, fn func(booking.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(&memTx{st: s.snapshot(), readOnly: true, now: s.now, outboxLimit: s.outboxLimit})
}

func (s *MemoryStore) Update(ctx context.Context, fn func(booking.Tx) error) error {
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.unlock()

	tx := &memTx{st: s.snapshot().clone(), now: s.now, outboxLimit: s.outboxLimit}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.state = tx.st
	s.mu.Unlock()
	return nil
}

// PublishPending hands unpublished events to fn in insertion order and removes
// them once fn succeeds.
func (s *MemoryStore) PublishPending(ctx context.Context, limit int, fn func(context.Context, []outbox.Record) error) (int, error) {
	if limit <= 0 {
		return 0, nil
	}
	pending := s.snapshot().outbox
	batch := slices.Clone(pending[:min(limit, len(pending))])
	if len(batch) == 0 {
		return 0, nil
	}
	if err := fn(ctx, batch); err != nil {
		return 0, err
	}

	if err := s.lock(ctx); err != nil {
		return 0, err
	}
	defer s.unlock()
	st := s.snapshot().clone()
	published := map[int64]bool{}
	for _, r := range batch {
		published[r.ID] = true
	}
	st.outbox = slices.DeleteFunc(st.outbox, func(r outbox.Record) bool { return published[r.ID] })
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	return len(batch), nil
}

// Events returns the outbox events that are not published yet, oldest first.
func (s *MemoryStore) Events() []outbox.Event {
	var out []outbox.Event
	for _, r := range s.snapshot().outbox {
		out = append(out, r.Event)
	}
	return out
}

// DroppedEvents counts unpublished events discarded because the outbox was full.
func (s *MemoryStore) DroppedEvents() int64 {
	return s.snapshot().dropped
}

func (st *memState) clone() *memState {
	windows := make(map[string][]availability.Window, len(st.windows))
	for k, v := range st.windows {
		windows[k] = slices.Clone(v)
	}
	return &memState{
		windows:      windows,
		reservations: maps.Clone(st.reservations),
		outbox:       slices.Clone(st.outbox),
		nextEventID:  st.nextEventID,
		dropped:      st.dropped,
	}
}

type memTx struct {
	st          *memState
	readOnly    bool
	now         func() time.Time
	outboxLimit int
}

func (tx *memTx) writable() error {
	if tx.readOnly {
		return fmt.Errorf("write in read-only transaction")
	}
	return nil
}

// LockProvider is a no-op: the store already admits one writer at a time.
func (tx *memTx) LockProvider(context.Context, string) error {
	return tx.writable()
}

func (tx *memTx) ListWindows(_ context.Context, providerID string) ([]availability.Window, error) {
	return slices.Clone(tx.st.windows[providerID]), nil
}

func (tx *memTx) ReplaceWindows(_ context.Context, providerID string, windows []availability.Window) error {
	if err := tx.writable(); err != nil {
		return err
	}
	if len(windows) == 0 {
		delete(tx.st.windows, providerID)
		return nil
	}
	tx.st.windows[providerID] = slices.Clone(windows)
	return nil
}

func (tx *memTx) ListActive(_ context.Context, providerID string, span availability.Interval) ([]model.Reservation, error) {
	var out []model.Reservation
	for _, r := range tx.st.reservations {
		if r.ProviderID != providerID || !r.Status.Active() {
			continue
		}
		if span.Overlaps(availability.Interval{Start: r.Start, End: r.End}) {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b model.Reservation) int { return a.Start.Compare(b.Start) })
	return out, nil
}

// InsertReservation enforces the same no-overlap rule as the database constraint.
func (tx *memTx) InsertReservation(ctx context.Context, r model.Reservation) error {
	if err := tx.writable(); err != nil {
		return err
	}
	if _, ok := tx.st.reservations[r.ID]; ok {
		return fmt.Errorf("reservation %s already exists", r.ID)
	}
	if r.Status.Active() {
		clash, _ := tx.ListActive(ctx, r.ProviderID, availability.Interval{Start: r.Start, End: r.End})
		if len(clash) > 0 {
			return fmt.Errorf("insert reservation %s: %w", r.ID, model.ErrOverlap)
		}
	}
	tx.st.reservations[r.ID] = r
	return nil
}

func (tx *memTx) GetReservation(_ context.Context, id string) (model.Reservation, error) {
	r, ok := tx.st.reservations[id]
	if !ok {
		return model.Reservation{}, fmt.Errorf("reservation %s: %w", id, model.ErrNotFound)
	}
	return r, nil
}

func (tx *memTx) GetReservationForUpdate(ctx context.Context, id string) (model.Reservation, error) {
	if err := tx.writable(); err != nil {
		return model.Reservation{}, err
	}
	return tx.GetReservation(ctx, id)
}

func (tx *memTx) UpdateReservationStatus(_ context.Context, r model.Reservation) error {
	if err := tx.writable(); err != nil {
		return err
	}
	cur, ok := tx.st.reservations[r.ID]
	if !ok {
		return fmt.Errorf("reservation %s: %w", r.ID, model.ErrNotFound)
	}
	cur.Status = r.Status
	cur.UpdatedAt = r.UpdatedAt
	cur.ConfirmedAt = r.ConfirmedAt
	cur.CancelledAt = r.CancelledAt
	cur.CompletedAt = r.CompletedAt
	tx.st.reservations[r.ID] = cur
	return nil
}

func (tx *memTx) AppendEvent(_ context.Context, evt outbox.Event) error {
	if err := tx.writable(); err != nil {
		return err
	}
	tx.st.nextEventID++
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = tx.now()
	}
	if len(tx.st.outbox) >= tx.outboxLimit {
		n := len(tx.st.outbox) - tx.outboxLimit + 1
		tx.st.outbox = slices.Delete(tx.st.outbox, 0, n)
		tx.st.dropped += int64(n)
	}
	tx.st.outbox = append(tx.st.outbox, outbox.Record{ID: tx.st.nextEventID, Event: evt})
	return nil
}

var (
	_ booking.Store = (*MemoryStore)(nil)
	_ outbox.Source = (*MemoryStore)(nil)
)
