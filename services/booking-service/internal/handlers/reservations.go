package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/robertbravery/FurryFriends-sub000/services/booking-service/internal/availability"
	"github.com/robertbravery/FurryFriends-sub000/services/booking-service/internal/booking"
	"github.com/robertbravery/FurryFriends-sub000/services/booking-service/internal/model"
)

type bookRequest struct {
	ProviderID string `json:"provider_id"`
	ClientID   string `json:"client_id"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	Price      int64  `json:"price"`
	Notes      string `json:"notes"`
}

type reservationResponse struct {
	ID          string  `json:"id"`
	ProviderID  string  `json:"provider_id"`
	ClientID    string  `json:"client_id"`
	StartTime   string  `json:"start_time"`
	EndTime     string  `json:"end_time"`
	Status      string  `json:"status"`
	Price       int64   `json:"price"`
	Notes       string  `json:"notes,omitempty"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
	ConfirmedAt *string `json:"confirmed_at,omitempty"`
	CancelledAt *string `json:"cancelled_at,omitempty"`
	CompletedAt *string `json:"completed_at,omitempty"`
}

type activeReservationsResponse struct {
	ProviderID   string         `json:"provider_id"`
	From         string         `json:"from"`
	To           string         `json:"to"`
	Reservations []intervalItem `json:"reservations"`
}

func (h *BookingHandler) Book(w http.ResponseWriter, r *http.Request) {
	var req bookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	req.ProviderID = strings.TrimSpace(req.ProviderID)
	req.ClientID = strings.TrimSpace(req.ClientID)
	if req.ProviderID == "" || req.ClientID == "" {
		writeError(w, http.StatusBadRequest, "provider_id and client_id are required")
		return
	}

	start, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "start_time must be RFC3339")
		return
	}
	end, err := time.Parse(time.RFC3339, req.EndTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "end_time must be RFC3339")
		return
	}
	if start.Before(h.now()) {
		writeError(w, http.StatusUnprocessableEntity, "start_time is in the past")
		return
	}

	res, err := h.svc.Book(r.Context(), booking.BookRequest{
		ProviderID: req.ProviderID,
		ClientID:   req.ClientID,
		Start:      start,
		End:        end,
		Price:      req.Price,
		Notes:      req.Notes,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.reservation(res))
}

func (h *BookingHandler) GetReservation(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.GetReservation(r.Context(), chi.URLParam(r, "reservationID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.reservation(res))
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Cancel)
}

func (h *BookingHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Confirm)
}

func (h *BookingHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Complete)
}

func (h *BookingHandler) transition(w http.ResponseWriter, r *http.Request, op func(context.Context, string) (model.Reservation, error)) {
	res, err := op(r.Context(), chi.URLParam(r, "reservationID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.reservation(res))
}

func (h *BookingHandler) ActiveReservations(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "providerID")
	q := r.URL.Query()

	from, err := time.Parse(time.RFC3339, q.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "from must be RFC3339")
		return
	}
	to, err := time.Parse(time.RFC3339, q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "to must be RFC3339")
		return
	}
	span, err := availability.NewInterval(from, to)
	if err != nil {
		writeError(w, http.StatusBadRequest, "to must be after from")
		return
	}

	busy, err := h.svc.GetActiveReservations(r.Context(), providerID, span)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	resp := activeReservationsResponse{
		ProviderID:   providerID,
		From:         from.In(h.loc).Format(time.RFC3339),
		To:           to.In(h.loc).Format(time.RFC3339),
		Reservations: make([]intervalItem, 0, len(busy)),
	}
	for _, iv := range busy {
		resp.Reservations = append(resp.Reservations, h.interval(iv))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *BookingHandler) reservation(res model.Reservation) reservationResponse {
	return reservationResponse{
		ID:          res.ID,
		ProviderID:  res.ProviderID,
		ClientID:    res.ClientID,
		StartTime:   res.Start.In(h.loc).Format(time.RFC3339),
		EndTime:     res.End.In(h.loc).Format(time.RFC3339),
		Status:      string(res.Status),
		Price:       res.Price,
		Notes:       res.Notes,
		CreatedAt:   res.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   res.UpdatedAt.UTC().Format(time.RFC3339),
		ConfirmedAt: formatOptional(res.ConfirmedAt),
		CancelledAt: formatOptional(res.CancelledAt),
		CompletedAt: formatOptional(res.CompletedAt),
	}
}

func formatOptional(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
