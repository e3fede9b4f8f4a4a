package storage

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/robertbravery/FurryFriends-sub000/services/booking-service/internal/availability"
	"github.com/robertbravery/FurryFriends-sub000/services/booking-service/internal/booking"
	"github.com/robertbravery/FurryFriends-sub000/services/booking-service/internal/model"
	"github.com/robertbravery/FurryFriends-sub000/services/booking-service/internal/outbox"
)

// DB is satisfied by *pgxpool.Pool and by pgxmock pools.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var snapshotTxOptions = pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}

// View runs fn in a REPEATABLE READ, READ ONLY transaction so windows and
// reservations are read from the same snapshot.
func (s *PostgresStore) View(ctx context.Context, fn func(booking.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, snapshotTxOptions)
	if err != nil {
		return classify(fmt.Errorf("begin read tx: %w", err))
	}
	return s.finish(ctx, tx, fn)
}

// Update runs fn in a READ COMMITTED transaction. Writers of one provider are
// serialized by LockProvider; the exclusion constraint on reservations backs it up.
func (s *PostgresStore) Update(ctx context.Context, fn func(booking.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return classify(fmt.Errorf("begin tx: %w", err))
	}
	return s.finish(ctx, tx, fn)
}

func (s *PostgresStore) finish(ctx context.Context, tx pgx.Tx, fn func(booking.Tx) error) error {
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(fmt.Errorf("commit: %w", err))
	}
	committed = true
	return nil
}

// classify tags driver errors with the model sentinels. Errors that are not
// database errors (business errors from fn) are returned unchanged.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23P01":
			return fmt.Errorf("%w: %w", model.ErrOverlap, err)
		case pgErr.Code == "40001", pgErr.Code == "40P01":
			return fmt.Errorf("%w: %w", model.ErrSerialization, err)
		case pgErr.Code == "22P02":
			// malformed uuid: no such row can exist
			return fmt.Errorf("%w: %w", model.ErrNotFound, err)
		case pgErr.Code == "57P01", pgErr.Code == "53300", len(pgErr.Code) == 5 && pgErr.Code[:2] == "08":
			return fmt.Errorf("%w: %w", model.ErrStoreUnavailable, err)
		}
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %w", model.ErrNotFound, err)
	}
	var connErr *pgconn.ConnectError
	var netErr net.Error
	if errors.As(err, &connErr) || (errors.As(err, &netErr) && !errors.Is(err, context.DeadlineExceeded)) {
		return fmt.Errorf("%w: %w", model.ErrStoreUnavailable, err)
	}
	return err
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockProvider(ctx context.Context, providerID string) error {
	if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, providerID); err != nil {
		return fmt.Errorf("lock provider %s: %w", providerID, err)
	}
	return nil
}

func (t *pgTx) ListWindows(ctx context.Context, providerID string) ([]availability.Window, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT weekday, start_minute, end_minute
		FROM provider_availability_windows
		WHERE provider_id = $1
		ORDER BY weekday, start_minute
	`, providerID)
	if err != nil {
		return nil, fmt.Errorf("list windows: %w", err)
	}
	defer rows.Close()

	var windows []availability.Window
	for rows.Next() {
		var weekday, start, end int
		if err := rows.Scan(&weekday, &start, &end); err != nil {
			return nil, fmt.Errorf("scan window: %w", err)
		}
		windows = append(windows, availability.Window{Weekday: time.Weekday(weekday), StartMinute: start, EndMinute: end})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list windows: %w", err)
	}
	return windows, nil
}

func (t *pgTx) ReplaceWindows(ctx context.Context, providerID string, windows []availability.Window) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM provider_availability_windows WHERE provider_id = $1`, providerID); err != nil {
		return fmt.Errorf("delete windows: %w", err)
	}
	if len(windows) == 0 {
		return nil
	}

	weekdays := make([]int32, 0, len(windows))
	starts := make([]int32, 0, len(windows))
	ends := make([]int32, 0, len(windows))
	for _, w := range windows {
		weekdays = append(weekdays, int32(w.Weekday))
		starts = append(starts, int32(w.StartMinute))
		ends = append(ends, int32(w.EndMinute))
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO provider_availability_windows (provider_id, weekday, start_minute, end_minute)
		SELECT $1, w.weekday, w.start_minute, w.end_minute
		FROM unnest($2::int[], $3::int[], $4::int[]) AS w(weekday, start_minute, end_minute)
	`, providerID, weekdays, starts, ends)
	if err != nil {
		return fmt.Errorf("insert windows: %w", err)
	}
	return nil
}

const reservationColumns = `id::text, provider_id, client_id, start_time, end_time, status, price,
	COALESCE(notes, ''), created_at, updated_at, confirmed_at, cancelled_at, completed_at`

func activeStatusNames() []string {
	names := make([]string, len(model.ActiveStatuses))
	for i, st := range model.ActiveStatuses {
		names[i] = string(st)
	}
	return names
}

func (t *pgTx) ListActive(ctx context.Context, providerID string, span availability.Interval) ([]model.Reservation, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE provider_id = $1
			AND status = ANY($4)
			AND start_time < $3
			AND end_time > $2
		ORDER BY start_time ASC
	`, providerID, span.Start, span.End, activeStatusNames())
	if err != nil {
		return nil, fmt.Errorf("list active reservations: %w", err)
	}
	defer rows.Close()

	var out []model.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list active reservations: %w", err)
	}
	return out, nil
}

func (t *pgTx) InsertReservation(ctx context.Context, r model.Reservation) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO reservations
			(id, provider_id, client_id, start_time, end_time, status, price, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, r.ID, r.ProviderID, r.ClientID, r.Start, r.End, string(r.Status), r.Price, r.Notes, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}
	return nil
}

func (t *pgTx) GetReservation(ctx context.Context, id string) (model.Reservation, error) {
	return t.getReservation(ctx, id, "")
}

func (t *pgTx) GetReservationForUpdate(ctx context.Context, id string) (model.Reservation, error) {
	return t.getReservation(ctx, id, "FOR UPDATE")
}

func (t *pgTx) getReservation(ctx context.Context, id, lock string) (model.Reservation, error) {
	r, err := scanReservation(t.tx.QueryRow(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE id = $1
		`+lock, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Reservation{}, fmt.Errorf("reservation %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return model.Reservation{}, classify(fmt.Errorf("get reservation %s: %w", id, err))
	}
	return r, nil
}

func (t *pgTx) UpdateReservationStatus(ctx context.Context, r model.Reservation) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE reservations
		SET status = $2,
			updated_at = $3,
			confirmed_at = $4,
			cancelled_at = $5,
			completed_at = $6
		WHERE id = $1
	`, r.ID, string(r.Status), r.UpdatedAt, r.ConfirmedAt, r.CancelledAt, r.CompletedAt)
	if err != nil {
		return fmt.Errorf("update reservation %s: %w", r.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("reservation %s: %w", r.ID, model.ErrNotFound)
	}
	return nil
}

func (t *pgTx) AppendEvent(ctx context.Context, evt outbox.Event) error {
	return outbox.Insert(ctx, t.tx, evt)
}

func scanReservation(row pgx.Row) (model.Reservation, error) {
	var (
		r      model.Reservation
		status string
	)
	err := row.Scan(&r.ID, &r.ProviderID, &r.ClientID, &r.Start, &r.End, &status, &r.Price,
		&r.Notes, &r.CreatedAt, &r.UpdatedAt, &r.ConfirmedAt, &r.CancelledAt, &r.CompletedAt)
	if err != nil {
		return model.Reservation{}, err
	}
	if r.Status, err = model.ParseStatus(status); err != nil {
		return model.Reservation{}, err
	}
	return r, nil
}

var _ booking.Store = (*PostgresStore)(nil)
