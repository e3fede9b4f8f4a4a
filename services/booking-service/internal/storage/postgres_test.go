package storage

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/robertbravery/FurryFriends-sub000/services/booking-service/internal/availability"
	"github.com/robertbravery/FurryFriends-sub000/services/booking-service/internal/booking"
	"github.com/robertbravery/FurryFriends-sub000/services/booking-service/internal/model"
)

var reservationCols = []string{"id", "provider_id", "client_id", "start_time", "end_time", "status", "price",
	"notes", "created_at", "updated_at", "confirmed_at", "cancelled_at", "completed_at"}

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock
}

func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func TestUpdateLocksProviderAndReadsWindows(t *testing.T) {
	mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs("prov-1").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("SELECT weekday, start_minute, end_minute FROM provider_availability_windows").
		WithArgs("prov-1").
		WillReturnRows(mock.NewRows([]string{"weekday", "start_minute", "end_minute"}).
			AddRow(1, 540, 720).
			AddRow(1, 780, 1020))
	mock.ExpectCommit()

	var windows []availability.Window
	err := NewPostgresStore(mock).Update(context.Background(), func(tx booking.Tx) error {
		if err := tx.LockProvider(context.Background(), "prov-1"); err != nil {
			return err
		}
		var err error
		windows, err = tx.ListWindows(context.Background(), "prov-1")
		return err
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(windows) != 2 || windows[0].Weekday != time.Monday || windows[1].StartMinute != 780 {
		t.Fatalf("unexpected windows %+v", windows)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestReplaceWindowsDeletesThenInserts(t *testing.T) {
	mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM provider_availability_windows").
		WithArgs("prov-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectExec("INSERT INTO provider_availability_windows").
		WithArgs("prov-1", []int32{1, 2}, []int32{540, 600}, []int32{1020, 660}).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	err := NewPostgresStore(mock).Update(context.Background(), func(tx booking.Tx) error {
		return tx.ReplaceWindows(context.Background(), "prov-1", []availability.Window{
			{Weekday: time.Monday, StartMinute: 540, EndMinute: 1020},
			{Weekday: time.Tuesday, StartMinute: 600, EndMinute: 660},
		})
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestExclusionViolationMapsToOverlap(t *testing.T) {
	mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO reservations").
		WithArgs(anyArgs(10)...).
		WillReturnError(&pgconn.PgError{Code: "23P01", Message: "conflicting key value violates exclusion constraint"})
	mock.ExpectRollback()

	start := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	err := NewPostgresStore(mock).Update(context.Background(), func(tx booking.Tx) error {
		return tx.InsertReservation(context.Background(), model.Reservation{
			ID: "7d1f3a4e-0000-4000-8000-000000000001", ProviderID: "prov-1", ClientID: "c-1",
			Start: start, End: start.Add(time.Hour), Status: model.StatusPending,
		})
	})
	if !errors.Is(err, model.ErrOverlap) {
		t.Fatalf("expected ErrOverlap, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCommitSerializationFailureIsClassified(t *testing.T) {
	mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(&pgconn.PgError{Code: "40001"})
	mock.ExpectRollback()

	err := NewPostgresStore(mock).Update(context.Background(), func(booking.Tx) error { return nil })
	if !errors.Is(err, model.ErrSerialization) {
		t.Fatalf("expected ErrSerialization, got %v", err)
	}
}

func TestViewUsesReadOnlySnapshot(t *testing.T) {
	mock := newMock(t)
	day := time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)
	start := day.Add(10 * time.Hour)
	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	mock.ExpectQuery("FROM reservations").
		WithArgs("prov-1", day, day.Add(24*time.Hour), []string{"pending", "confirmed"}).
		WillReturnRows(mock.NewRows(reservationCols).
			AddRow("res-1", "prov-1", "client-1", start, start.Add(time.Hour), "confirmed", int64(2500), "", day, day, &day, nil, nil))
	mock.ExpectCommit()

	var active []model.Reservation
	err := NewPostgresStore(mock).View(context.Background(), func(tx booking.Tx) error {
		var err error
		active, err = tx.ListActive(context.Background(), "prov-1", availability.Interval{Start: day, End: day.Add(24 * time.Hour)})
		return err
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	if len(active) != 1 || active[0].Status != model.StatusConfirmed || active[0].Price != 2500 || active[0].ConfirmedAt == nil {
		t.Fatalf("unexpected reservations %+v", active)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetReservationNotFound(t *testing.T) {
	mock := newMock(t)
	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	mock.ExpectQuery("FROM reservations").
		WithArgs("missing").
		WillReturnRows(mock.NewRows(reservationCols))
	mock.ExpectRollback()

	err := NewPostgresStore(mock).View(context.Background(), func(tx booking.Tx) error {
		_, err := tx.GetReservation(context.Background(), "missing")
		return err
	})
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateStatusMissingRow(t *testing.T) {
	mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE reservations").
		WithArgs(anyArgs(6)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := NewPostgresStore(mock).Update(context.Background(), func(tx booking.Tx) error {
		return tx.UpdateReservationStatus(context.Background(), model.Reservation{ID: "gone", Status: model.StatusCancelled})
	})
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want error
	}{
		{&pgconn.PgError{Code: "40P01"}, model.ErrSerialization},
		{&pgconn.PgError{Code: "22P02"}, model.ErrNotFound},
		{&pgconn.PgError{Code: "08006"}, model.ErrStoreUnavailable},
		{&net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, model.ErrStoreUnavailable},
		{pgx.ErrNoRows, model.ErrNotFound},
	}
	for _, c := range cases {
		if got := classify(c.err); !errors.Is(got, c.want) {
			t.Fatalf("classify(%v) = %v, want %v", c.err, got, c.want)
		}
	}

	biz := errors.New("business rule")
	if got := classify(biz); got != biz {
		t.Fatalf("non-database errors must pass through, got %v", got)
	}
	if got := classify(&pgconn.PgError{Code: "23505"}); errors.Is(got, model.ErrOverlap) {
		t.Fatal("unique violation must not be treated as overlap")
	}
}
