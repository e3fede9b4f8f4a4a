package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robertbravery/FurryFriends-sub000/services/booking-service/internal/booking"
	"github.com/robertbravery/FurryFriends-sub000/services/booking-service/internal/model"
	"github.com/robertbravery/FurryFriends-sub000/services/booking-service/internal/storage"
)

// 2025-01-06 is a Monday; the clock sits at 10:30 that morning.
var now = time.Date(2025, 1, 6, 10, 30, 0, 0, time.UTC)

func newRouter(t *testing.T, store booking.Store) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := booking.NewService(store, logger, booking.Config{
		Location:       time.UTC,
		RetryBaseDelay: time.Millisecond,
		Now:            func() time.Time { return now },
	})
	r := chi.NewRouter()
	NewBookingHandler(svc, logger, func() time.Time { return now }).Routes(r)
	return r
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func withSchedule(t *testing.T) http.Handler {
	t.Helper()
	h := newRouter(t, storage.NewMemoryStore())
	rec := do(t, h, http.MethodPut, "/api/v1/providers/walker-1/schedule", scheduleRequest{
		Windows: []windowItem{{DayOfWeek: 1, StartTime: "09:00", EndTime: "17:00"}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return h
}

func bookBody(start, end string) bookRequest {
	return bookRequest{ProviderID: "walker-1", ClientID: "client-1", StartTime: start, EndTime: end, Price: 15000}
}

func TestScheduleRoundTrip(t *testing.T) {
	h := withSchedule(t)

	rec := do(t, h, http.MethodGet, "/api/v1/providers/walker-1/schedule", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sched := decode[scheduleResponse](t, rec)
	assert.Equal(t, []windowItem{{DayOfWeek: 1, StartTime: "09:00", EndTime: "17:00"}}, sched.Windows)

	rec = do(t, h, http.MethodGet, "/api/v1/providers/walker-1/windows?date=2025-01-06", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	win := decode[windowsResponse](t, rec)
	assert.Equal(t, []intervalItem{{StartTime: "2025-01-06T09:00:00Z", EndTime: "2025-01-06T17:00:00Z"}}, win.Windows)

	rec = do(t, h, http.MethodDelete, "/api/v1/providers/walker-1/schedule", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/providers/walker-1/windows?date=2025-01-06", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[windowsResponse](t, rec).Windows)
}

func TestSetScheduleReportsEveryViolation(t *testing.T) {
	h := newRouter(t, storage.NewMemoryStore())
	const path = "/api/v1/providers/walker-1/schedule"

	rec := do(t, h, http.MethodPut, path, scheduleRequest{
		Windows: []windowItem{
			{DayOfWeek: 7, StartTime: "09:00", EndTime: "10:00"},
			{DayOfWeek: 1, StartTime: "12:00", EndTime: "11:00"},
		},
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	resp := decode[errorResponse](t, rec)
	require.Len(t, resp.Violations, 2)
	assert.Equal(t, 0, resp.Violations[0].Index)
	assert.Equal(t, 7, resp.Violations[0].DayOfWeek)
	assert.Equal(t, 1, resp.Violations[1].Index)

	rec = do(t, h, http.MethodPut, path, scheduleRequest{
		Windows: []windowItem{
			{DayOfWeek: 1, StartTime: "9am", EndTime: "10:00"},
			{DayOfWeek: 2, StartTime: "09:00", EndTime: "25:00"},
			{DayOfWeek: 3, StartTime: "09:00", EndTime: "12:00"},
			{DayOfWeek: 3, StartTime: "11:00", EndTime: "13:00"},
		},
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp = decode[errorResponse](t, rec)
	require.Len(t, resp.Violations, 4)
	assert.Equal(t, "9am", resp.Violations[0].StartTime)
	for i, v := range resp.Violations {
		assert.Equal(t, i, v.Index)
	}

	// nothing was stored
	rec = do(t, h, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[scheduleResponse](t, rec).Windows)

	rec = do(t, h, http.MethodPut, path, map[string]any{"windows": "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSlotsDropPastAndHonorLimit(t *testing.T) {
	h := withSchedule(t)

	rec := do(t, h, http.MethodGet, "/api/v1/providers/walker-1/slots?date=2025-01-06&duration_minutes=60", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	slots := decode[slotsResponse](t, rec).Slots
	require.Len(t, slots, 6)
	assert.Equal(t, "2025-01-06T11:00:00Z", slots[0].StartTime)
	assert.Equal(t, "2025-01-06T17:00:00Z", slots[5].EndTime)

	rec = do(t, h, http.MethodGet, "/api/v1/providers/walker-1/slots?date=2025-01-06&duration_minutes=60&limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[slotsResponse](t, rec).Slots, 2)

	rec = do(t, h, http.MethodGet, "/api/v1/providers/walker-1/slots?date=2025-01-13&duration_minutes=60&step_minutes=30", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[slotsResponse](t, rec).Slots, 15)

	for _, q := range []string{
		"date=2025-01-06&duration_minutes=0",
		"date=2025-01-06&duration_minutes=1441",
		"date=2025-01-06&duration_minutes=153722867280912930",
		"date=2025-01-06&step_minutes=9223372036854775807",
		"date=06-01-2025",
		"duration_minutes=60",
		"date=2025-01-06&limit=0",
	} {
		rec = do(t, h, http.MethodGet, "/api/v1/providers/walker-1/slots?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestBookStatusMapping(t *testing.T) {
	h := withSchedule(t)
	const path = "/api/v1/reservations"

	rec := do(t, h, http.MethodPost, path, bookBody("2025-01-06T11:00:00Z", "2025-01-06T12:00:00Z"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decode[reservationResponse](t, rec)
	assert.Equal(t, string(model.StatusPending), res.Status)
	assert.NotEmpty(t, res.ID)

	rec = do(t, h, http.MethodPost, path, bookBody("2025-01-06T11:30:00Z", "2025-01-06T12:30:00Z"))
	require.Equal(t, http.StatusConflict, rec.Code)
	conflict := decode[errorResponse](t, rec)
	assert.Equal(t, []intervalItem{{StartTime: "2025-01-06T11:00:00Z", EndTime: "2025-01-06T12:00:00Z"}}, conflict.Conflicts)

	rec = do(t, h, http.MethodPost, path, bookBody("2025-01-06T12:00:00Z", "2025-01-06T13:00:00Z"))
	assert.Equal(t, http.StatusCreated, rec.Code, "touching reservations do not conflict")

	rec = do(t, h, http.MethodPost, path, bookBody("2025-01-06T16:30:00Z", "2025-01-06T17:30:00Z"))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, "outside availability")

	rec = do(t, h, http.MethodPost, path, bookBody("2025-01-06T09:00:00Z", "2025-01-06T10:00:00Z"))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, "start in the past")

	rec = do(t, h, http.MethodPost, path, bookBody("2025-01-06T15:00:00Z", "2025-01-06T14:00:00Z"))
	assert.Equal(t, http.StatusBadRequest, rec.Code, "end before start")

	rec = do(t, h, http.MethodPost, path, bookBody("tomorrow", "2025-01-06T14:00:00Z"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	bad := bookBody("2025-01-06T15:00:00Z", "2025-01-06T16:00:00Z")
	bad.Price = -1
	rec = do(t, h, http.MethodPost, path, bad)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/providers/walker-1/reservations?from=2025-01-06T00:00:00Z&to=2025-01-07T00:00:00Z", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[activeReservationsResponse](t, rec).Reservations, 2)
}

func TestReservationTransitions(t *testing.T) {
	h := withSchedule(t)

	rec := do(t, h, http.MethodPost, "/api/v1/reservations", bookBody("2025-01-06T14:00:00Z", "2025-01-06T15:00:00Z"))
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[reservationResponse](t, rec).ID
	base := "/api/v1/reservations/" + id

	rec = do(t, h, http.MethodPost, base+"/complete", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPost, base+"/confirm", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	confirmed := decode[reservationResponse](t, rec)
	assert.Equal(t, string(model.StatusConfirmed), confirmed.Status)
	require.NotNil(t, confirmed.ConfirmedAt)

	rec = do(t, h, http.MethodPost, base+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, base+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(model.StatusCancelled), decode[reservationResponse](t, rec).Status)

	rec = do(t, h, http.MethodGet, "/api/v1/reservations/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type downStore struct{}

func (downStore) View(context.Context, func(booking.Tx) error) error {
	return fmt.Errorf("dial: %w", model.ErrStoreUnavailable)
}

func (downStore) Update(context.Context, func(booking.Tx) error) error {
	return fmt.Errorf("dial: %w", model.ErrStoreUnavailable)
}

func TestStoreUnavailableIsRetryAfter(t *testing.T) {
	h := newRouter(t, downStore{})

	rec := do(t, h, http.MethodPost, "/api/v1/reservations", bookBody("2025-01-06T14:00:00Z", "2025-01-06T15:00:00Z"))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	rec = do(t, h, http.MethodGet, "/api/v1/providers/walker-1/windows?date=2025-01-06", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
