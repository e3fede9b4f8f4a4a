package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/robertbravery/FurryFriends-sub000/services/booking-service/internal/booking"
)

const maxSlotLimit = 500

type BookingHandler struct {
	svc    *booking.Service
	logger *slog.Logger
	loc    *time.Location
	now    func() time.Time
}

func NewBookingHandler(svc *booking.Service, logger *slog.Logger, now func() time.Time) *BookingHandler {
	if now == nil {
		now = time.Now
	}
	return &BookingHandler{svc: svc, logger: logger, loc: svc.Location(), now: now}
}

// Routes mounts the booking API under /api/v1. bookMW wraps only the booking
// endpoint (rate limiting).
func (h *BookingHandler) Routes(r chi.Router, bookMW ...func(http.Handler) http.Handler) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/providers/{providerID}", func(r chi.Router) {
			r.Get("/schedule", h.GetSchedule)
			r.Put("/schedule", h.SetSchedule)
			r.Delete("/schedule", h.ClearSchedule)
			r.Get("/windows", h.Windows)
			r.Get("/slots", h.Slots)
			r.Get("/reservations", h.ActiveReservations)
		})
		r.With(bookMW...).Post("/reservations", h.Book)
		r.Route("/reservations/{reservationID}", func(r chi.Router) {
			r.Get("/", h.GetReservation)
			r.Post("/cancel", h.Cancel)
			r.Post("/confirm", h.Confirm)
			r.Post("/complete", h.Complete)
		})
	})
}
