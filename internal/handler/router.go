package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/Shivanand-hulikatti/school-events/internal/model"
)

// NewRouter mounts every route of the API. metricsHandler may be nil.
func NewRouter(h *Handler, health *HealthHandler, metricsHandler http.Handler, allowedOrigins []string, log *slog.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware stack
	r.Use(chimiddleware.Recoverer) // recover from panics, return 500
	r.Use(chimiddleware.RequestID) // attach request IDs
	r.Use(chimiddleware.RealIP)    // trust X-Forwarded-For
	r.Use(Logger(log))             // structured access log
	r.Use(CORS(allowedOrigins))

	// Health
	r.Get("/health", health.Health)
	r.Get("/health/ready", health.Ready)
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}

	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", h.Login)
		r.Post("/password/forgot", h.ForgotPassword)
		r.Post("/password/reset", h.ResetPassword)
	})

	// The gateway calls this without a session.
	r.Post("/payments/webhook", h.PaymentWebhook)

	r.Group(func(r chi.Router) {
		r.Use(h.tokens.Authenticate)

		r.Post("/events/{id}/registrations", h.Register)

		r.Route("/registrations/{id}", func(r chi.Router) {
			r.Post("/cancel", h.CancelRegistration)
			r.With(RequireRole(model.RoleTeacher, model.RoleAdmin)).Post("/attendance", h.MarkAttendance)
			r.Post("/checkout", h.Checkout)
		})

		r.Group(func(r chi.Router) {
			r.Use(RequireRole(model.RoleAdmin))
			r.Post("/payments/{id}/refund", h.RefundPayment)
			r.Post("/admin/reminders/payments", h.SendPaymentReminders)
			r.Post("/admin/reminders/events", h.SendEventReminders)
		})
	})

	return r
}
