package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/mmeshcher/donations-system/internal/ledger"
	"github.com/mmeshcher/donations-system/internal/model"
	"github.com/mmeshcher/donations-system/internal/payment"
	"github.com/mmeshcher/donations-system/internal/repository"
	"github.com/mmeshcher/donations-system/internal/service"
	"github.com/mmeshcher/donations-system/internal/wallet"
)

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := envelope{Success: status < http.StatusBadRequest, Message: message, Data: data}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	if message == "" {
		message = http.StatusText(status)
	}
	h.writeJSON(w, status, message, nil)
}

// handleError переводит ошибку бизнес-логики в HTTP-ответ.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(op+" error",
			zap.String("request_id", requestID(r)),
			zap.Error(err),
		)
		h.writeError(w, status, "")
		return
	}
	h.writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, repository.ErrFundNotFound), errors.Is(err, repository.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrFundClosed), errors.Is(err, repository.ErrUserExists):
		return http.StatusConflict
	case errors.Is(err, model.ErrInvalidAmount), errors.Is(err, service.ErrValidation), errors.Is(err, ledger.ErrInvalidFund):
		return http.StatusBadRequest
	case errors.Is(err, wallet.ErrInsufficientBalance):
		return http.StatusPaymentRequired
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, payment.ErrSignatureInvalid):
		return http.StatusBadRequest
	case errors.Is(err, payment.ErrProvider):
		return http.StatusBadGateway
	case errors.Is(err, service.ErrPaymentsUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
