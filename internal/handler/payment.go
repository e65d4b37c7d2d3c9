package handler

import (
	"crypto/subtle"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Shivanand-hulikatti/school-events/internal/model"
	"github.com/Shivanand-hulikatti/school-events/internal/service"
)

const (
	outcomeSucceeded = "succeeded"
	outcomeFailed    = "failed"
)

type webhookRequest struct {
	Reference string `json:"reference" validate:"required"`
	Outcome   string `json:"outcome" validate:"required,oneof=succeeded failed"`
	Reason    string `json:"reason" validate:"max=500"`
}

type refundRequest struct {
	Amount model.Cents `json:"amount"`
	Reason string      `json:"reason"`
}

// PaymentWebhook handles POST /payments/webhook
// The gateway reports the outcome of a checkout. Either outcome is confirmed
// with the gateway before the payment changes.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	if h.webhookSecret != "" {
		got := r.Header.Get("X-Webhook-Secret")
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.webhookSecret)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid webhook secret")
			return
		}
	}

	var req webhookRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.badBody(w, err)
		return
	}
	if err := service.Validate(req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	var (
		p   *model.Payment
		err error
	)
	switch req.Outcome {
	case outcomeSucceeded:
		p, err = h.payments.CompletePayment(r.Context(), req.Reference)
	case outcomeFailed:
		p, err = h.payments.RejectPayment(r.Context(), req.Reference, req.Reason)
	}
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// RefundPayment handles POST /payments/{id}/refund
func (h *Handler) RefundPayment(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())

	var req refundRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.badBody(w, err)
		return
	}

	p, err := h.payments.RefundPayment(r.Context(), actor, model.RefundRequest{
		PaymentID: chi.URLParam(r, "id"),
		Amount:    req.Amount,
		Reason:    req.Reason,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// SendPaymentReminders handles POST /admin/reminders/payments
func (h *Handler) SendPaymentReminders(w http.ResponseWriter, r *http.Request) {
	res, err := h.payments.SendOverduePaymentReminders(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
