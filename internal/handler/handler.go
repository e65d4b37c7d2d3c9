// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/Shivanand-hulikatti/school-events/internal/model"
)

// RegistrationService is the registration side of the core.
type RegistrationService interface {
	RegisterStudent(ctx context.Context, actor model.Actor, req model.RegisterRequest) (*model.RegistrationResult, error)
	CancelRegistration(ctx context.Context, actor model.Actor, registrationID string) (*model.Registration, error)
	MarkAttendance(ctx context.Context, actor model.Actor, registrationID string, attended bool) (*model.Registration, error)
	SendEventReminders(ctx context.Context, window time.Duration) (*model.SweepResult, error)
}

// PaymentService is the payment side of the core.
type PaymentService interface {
	RetryCheckout(ctx context.Context, actor model.Actor, registrationID string) (*model.Checkout, error)
	CompletePayment(ctx context.Context, reference string) (*model.Payment, error)
	RejectPayment(ctx context.Context, reference, reason string) (*model.Payment, error)
	RefundPayment(ctx context.Context, actor model.Actor, req model.RefundRequest) (*model.Payment, error)
	SendOverduePaymentReminders(ctx context.Context) (*model.SweepResult, error)
}

// AuthService authenticates accounts and manages password resets.
type AuthService interface {
	Authenticate(ctx context.Context, identifier, secret string) (*model.Account, error)
	IssueResetToken(ctx context.Context, identifier string) error
	ConsumeResetToken(ctx context.Context, token, newSecret string) error
}

// Handler holds all HTTP handlers of the API.
type Handler struct {
	registrations RegistrationService
	payments      PaymentService
	auth          AuthService
	tokens        *Tokens
	webhookSecret string
	log           *slog.Logger
}

// New constructs a Handler. An empty webhookSecret accepts unsigned
// gateway callbacks.
func New(registrations RegistrationService, payments PaymentService, auth AuthService, tokens *Tokens, webhookSecret string, log *slog.Logger) *Handler {
	return &Handler{
		registrations: registrations,
		payments:      payments,
		auth:          auth,
		tokens:        tokens,
		webhookSecret: webhookSecret,
		log:           log,
	}
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// statusOf maps an error kind to its HTTP status.
var statusOf = map[model.ErrorKind]int{
	model.KindValidation:                 http.StatusBadRequest,
	model.KindNotFound:                   http.StatusNotFound,
	model.KindForbidden:                  http.StatusForbidden,
	model.KindEventNotActive:             http.StatusConflict,
	model.KindRegistrationClosed:         http.StatusConflict,
	model.KindDuplicateRegistration:      http.StatusConflict,
	model.KindEventFull:                  http.StatusConflict,
	model.KindInvalidRegistrationState:   http.StatusConflict,
	model.KindInvalidPaymentState:        http.StatusConflict,
	model.KindPaymentNotCaptured:         http.StatusConflict,
	model.KindGatewayTimeout:             http.StatusGatewayTimeout,
	model.KindGatewayUnavailable:         http.StatusServiceUnavailable,
	model.KindAccountLocked:              http.StatusLocked,
	model.KindInvalidCredentials:         http.StatusUnauthorized,
	model.KindTokenInvalidOrExpired:      http.StatusBadRequest,
	model.KindNotificationChannelFailure: http.StatusBadGateway,
}

// writeServiceError answers with the status and message of a core error.
// Anything without a stable kind is logged and reported as a bare 500.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var e *model.Error
	if !errors.As(err, &e) {
		h.log.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, model.ErrorResponse{Error: "internal error", Kind: string(model.KindInternal)})
		return
	}

	status, ok := statusOf[e.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	if e.Kind == model.KindAccountLocked && e.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(e.RetryAfter.Seconds()))))
	}
	if status >= http.StatusInternalServerError {
		// The wrapped cause stays in the log; clients only see Message.
		h.log.Warn("request failed",
			slog.String("path", r.URL.Path),
			slog.String("kind", string(e.Kind)),
			slog.String("error", err.Error()))
	}
	writeJSON(w, status, model.ErrorResponse{Error: e.Message, Kind: string(e.Kind)})
}

func (h *Handler) badBody(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, model.ErrorResponse{Error: "invalid request body: " + err.Error(), Kind: string(model.KindValidation)})
}
