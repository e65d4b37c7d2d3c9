package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Shivanand-hulikatti/school-events/internal/model"
	"github.com/Shivanand-hulikatti/school-events/internal/service"
)

type registerRequest struct {
	StudentID string `json:"student_id"`
}

type attendanceRequest struct {
	Attended *bool `json:"attended" validate:"required"`
}

const defaultReminderWindow = 24 * time.Hour

// Register handles POST /events/{id}/registrations
// Registers a student for the event and opens its payment.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())

	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.badBody(w, err)
		return
	}

	res, err := h.registrations.RegisterStudent(r.Context(), actor, model.RegisterRequest{
		EventID:   chi.URLParam(r, "id"),
		StudentID: req.StudentID,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// CancelRegistration handles POST /registrations/{id}/cancel
func (h *Handler) CancelRegistration(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())

	reg, err := h.registrations.CancelRegistration(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

// MarkAttendance handles POST /registrations/{id}/attendance
func (h *Handler) MarkAttendance(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())

	var req attendanceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.badBody(w, err)
		return
	}
	if err := service.Validate(req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	reg, err := h.registrations.MarkAttendance(r.Context(), actor, chi.URLParam(r, "id"), *req.Attended)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

// Checkout handles POST /registrations/{id}/checkout
// Opens the gateway checkout of a payment that could not be opened at
// registration time.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())

	checkout, err := h.payments.RetryCheckout(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, checkout)
}

// SendEventReminders handles POST /admin/reminders/events?window=24h
func (h *Handler) SendEventReminders(w http.ResponseWriter, r *http.Request) {
	window := defaultReminderWindow
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, model.ErrorResponse{Error: "window must be a duration such as 24h", Kind: string(model.KindValidation)})
			return
		}
		window = d
	}

	res, err := h.registrations.SendEventReminders(r.Context(), window)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
