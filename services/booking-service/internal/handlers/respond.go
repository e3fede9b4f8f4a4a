package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/robertbravery/FurryFriends-sub000/libs/httpx"
	"github.com/robertbravery/FurryFriends-sub000/services/booking-service/internal/availability"
	"github.com/robertbravery/FurryFriends-sub000/services/booking-service/internal/booking"
	"github.com/robertbravery/FurryFriends-sub000/services/booking-service/internal/model"
)

type errorResponse struct {
	Error      string            `json:"error"`
	Violations []violationItem   `json:"violations,omitempty"`
	Conflicts  []intervalItem    `json:"conflicts,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
}

type violationItem struct {
	Index     int    `json:"index"`
	DayOfWeek int    `json:"day_of_week"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Reason    string `json:"reason"`
}

type intervalItem struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func (h *BookingHandler) interval(iv availability.Interval) intervalItem {
	return intervalItem{
		StartTime: iv.Start.In(h.loc).Format(time.RFC3339),
		EndTime:   iv.End.In(h.loc).Format(time.RFC3339),
	}
}

// writeServiceError maps engine errors onto HTTP status codes.
func (h *BookingHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		invalidInterval *availability.InvalidIntervalError
		invalidSchedule *availability.InvalidScheduleError
		outside         *booking.OutsideAvailabilityError
		conflict        *booking.SlotConflictError
		transition      *model.InvalidTransitionError
		unavailable     *booking.StoreUnavailableError
	)
	switch {
	case errors.As(err, &invalidInterval):
		writeError(w, http.StatusBadRequest, "end_time must be after start_time")
	case errors.Is(err, booking.ErrInvalidRequest), errors.Is(err, booking.ErrInvalidSlotDuration):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &invalidSchedule):
		resp := errorResponse{Error: "invalid schedule"}
		for _, v := range invalidSchedule.Violations {
			resp.Violations = append(resp.Violations, violationItem{
				Index:     v.Index,
				DayOfWeek: int(v.Window.Weekday),
				StartTime: availability.FormatClock(v.Window.StartMinute),
				EndTime:   availability.FormatClock(v.Window.EndMinute),
				Reason:    v.Reason,
			})
		}
		writeJSON(w, http.StatusUnprocessableEntity, resp)
	case errors.As(err, &outside):
		writeError(w, http.StatusUnprocessableEntity, "requested time is outside the provider's availability")
	case errors.As(err, &conflict):
		resp := errorResponse{Error: "time slot is no longer available"}
		for _, c := range conflict.Conflicts {
			resp.Conflicts = append(resp.Conflicts, h.interval(c))
		}
		writeJSON(w, http.StatusConflict, resp)
	case errors.As(err, &transition):
		writeJSON(w, http.StatusConflict, errorResponse{
			Error:   "invalid status transition",
			Details: map[string]string{"from": string(transition.From), "to": string(transition.To)},
		})
	case errors.Is(err, booking.ErrReservationNotFound):
		writeError(w, http.StatusNotFound, "reservation not found")
	case errors.As(err, &unavailable):
		h.logger.Warn("store unavailable", "request_id", httpx.RequestIDFromContext(r.Context()), "op", unavailable.Op, "timeout", unavailable.Timeout, "err", unavailable.Err)
		w.Header().Set("Retry-After", strconv.Itoa(1))
		writeError(w, http.StatusServiceUnavailable, "booking store unavailable, retry later")
	default:
		h.logger.Error("unexpected booking error", "request_id", httpx.RequestIDFromContext(r.Context()), "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
