package handler

import (
	"net/http"
	"time"

	"github.com/Shivanand-hulikatti/school-events/internal/model"
	"github.com/Shivanand-hulikatti/school-events/internal/service"
)

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expires_at"`
	Account   *model.Account `json:"account"`
}

type forgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type resetPasswordRequest struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// Login handles POST /auth/login
// Exchanges credentials for a session token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.badBody(w, err)
		return
	}
	if err := service.Validate(req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	acc, err := h.auth.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	token, expires, err := h.tokens.Issue(acc)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: expires, Account: acc})
}

// ForgotPassword handles POST /auth/password/forgot
// Always answers 202 so the response does not reveal whether the address
// belongs to an account.
func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.badBody(w, err)
		return
	}
	if err := service.Validate(req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	if err := h.auth.IssueResetToken(r.Context(), req.Email); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"message": "If an account exists for this address, a reset link has been sent.",
	})
}

// ResetPassword handles POST /auth/password/reset
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.badBody(w, err)
		return
	}
	if err := service.Validate(req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	if err := h.auth.ConsumeResetToken(r.Context(), req.Token, req.Password); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password has been reset."})
}
