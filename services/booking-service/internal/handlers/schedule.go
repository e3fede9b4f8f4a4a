package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/robertbravery/FurryFriends-sub000/services/booking-service/internal/availability"
)

type windowItem struct {
	DayOfWeek int    `json:"day_of_week"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type scheduleRequest struct {
	Windows []windowItem `json:"windows"`
}

type scheduleResponse struct {
	ProviderID string       `json:"provider_id"`
	Windows    []windowItem `json:"windows"`
}

type windowsResponse struct {
	ProviderID string         `json:"provider_id"`
	Date       string         `json:"date"`
	Windows    []intervalItem `json:"windows"`
}

type slotsResponse struct {
	ProviderID      string         `json:"provider_id"`
	Date            string         `json:"date"`
	DurationMinutes int            `json:"duration_minutes"`
	StepMinutes     int            `json:"step_minutes"`
	Slots           []intervalItem `json:"slots"`
}

func (h *BookingHandler) SetSchedule(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "providerID")

	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	clock := make([]availability.ClockWindow, 0, len(req.Windows))
	for _, item := range req.Windows {
		clock = append(clock, availability.ClockWindow{
			Weekday: time.Weekday(item.DayOfWeek),
			Start:   item.StartTime,
			End:     item.EndTime,
		})
	}
	windows, err := availability.ParseWindows(clock)
	var invalid *availability.InvalidScheduleError
	if errors.As(err, &invalid) {
		resp := errorResponse{Error: "invalid schedule"}
		for _, v := range invalid.Violations {
			item := req.Windows[v.Index]
			resp.Violations = append(resp.Violations, violationItem{
				Index:     v.Index,
				DayOfWeek: item.DayOfWeek,
				StartTime: item.StartTime,
				EndTime:   item.EndTime,
				Reason:    v.Reason,
			})
		}
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	if err := h.svc.SetSchedule(r.Context(), providerID, windows); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeSchedule(w, r, providerID)
}

func (h *BookingHandler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	h.writeSchedule(w, r, chi.URLParam(r, "providerID"))
}

func (h *BookingHandler) writeSchedule(w http.ResponseWriter, r *http.Request, providerID string) {
	windows, err := h.svc.GetSchedule(r.Context(), providerID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	resp := scheduleResponse{ProviderID: providerID, Windows: make([]windowItem, 0, len(windows))}
	for _, win := range windows {
		resp.Windows = append(resp.Windows, windowItem{
			DayOfWeek: int(win.Weekday),
			StartTime: availability.FormatClock(win.StartMinute),
			EndTime:   availability.FormatClock(win.EndMinute),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *BookingHandler) ClearSchedule(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ClearSchedule(r.Context(), chi.URLParam(r, "providerID")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *BookingHandler) Windows(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "providerID")
	date, ok := h.parseDate(w, r)
	if !ok {
		return
	}

	intervals, err := h.svc.GetWindowsForDate(r.Context(), providerID, date)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	resp := windowsResponse{
		ProviderID: providerID,
		Date:       date.Format(time.DateOnly),
		Windows:    make([]intervalItem, 0, len(intervals)),
	}
	for _, iv := range intervals {
		resp.Windows = append(resp.Windows, h.interval(iv))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Slots lists bookable start times for one day. Slots that already started are
// dropped and the walk stops once limit slots were collected.
func (h *BookingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "providerID")
	date, ok := h.parseDate(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	duration, err := intParam(q.Get("duration_minutes"), 60)
	if err != nil || duration <= 0 || duration > availability.MinutesPerDay {
		writeError(w, http.StatusBadRequest, "duration_minutes must be between 1 and "+strconv.Itoa(availability.MinutesPerDay))
		return
	}
	step, err := intParam(q.Get("step_minutes"), duration)
	if err != nil || step <= 0 || step > availability.MinutesPerDay {
		writeError(w, http.StatusBadRequest, "step_minutes must be between 1 and "+strconv.Itoa(availability.MinutesPerDay))
		return
	}
	limit, err := intParam(q.Get("limit"), maxSlotLimit)
	if err != nil || limit <= 0 || limit > maxSlotLimit {
		writeError(w, http.StatusBadRequest, "limit must be between 1 and "+strconv.Itoa(maxSlotLimit))
		return
	}

	seq, err := h.svc.GenerateSlots(r.Context(), providerID, date, time.Duration(duration)*time.Minute, time.Duration(step)*time.Minute)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	now := h.now()
	resp := slotsResponse{
		ProviderID:      providerID,
		Date:            date.Format(time.DateOnly),
		DurationMinutes: duration,
		StepMinutes:     step,
		Slots:           []intervalItem{},
	}
	for slot := range seq {
		if slot.Start.Before(now) {
			continue
		}
		resp.Slots = append(resp.Slots, h.interval(slot))
		if len(resp.Slots) == limit {
			break
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *BookingHandler) parseDate(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("date"))
	if raw == "" {
		writeError(w, http.StatusBadRequest, "date is required (YYYY-MM-DD)")
		return time.Time{}, false
	}
	date, err := time.ParseInLocation(time.DateOnly, raw, h.loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return time.Time{}, false
	}
	return date, true
}

func intParam(raw string, fallback int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
