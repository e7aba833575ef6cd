// Package handler содержит HTTP-обработчики API платформы пожертвований.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/mmeshcher/donations-system/internal/ledger"
	"github.com/mmeshcher/donations-system/internal/middleware"
	"github.com/mmeshcher/donations-system/internal/model"
	"github.com/mmeshcher/donations-system/internal/payment"
	"github.com/mmeshcher/donations-system/internal/reconcile"
	"github.com/mmeshcher/donations-system/internal/service"
)

// Максимальный размер тела уведомления провайдера.
const maxWebhookBody = 65536

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	CreateUser(ctx context.Context, p service.UserParams) (*model.User, error)
	GetUser(ctx context.Context, userID string) (*model.User, error)
	GetDonationHistory(ctx context.Context, userID string) ([]model.HistoryEntry, error)
	CreditWallet(ctx context.Context, userID string, amount int64) (*model.User, error)
	UpdateBankDetails(ctx context.Context, userID, details string) (*model.User, error)

	CreateFund(ctx context.Context, adminID string, p ledger.FundParams) (*model.Fund, error)
	GetFund(ctx context.Context, fundID string) (*model.Fund, error)
	DeactivateFund(ctx context.Context, fundID string) (*model.Fund, error)
	GetFundAnalytics(ctx context.Context, fundID string) (*model.FundAnalytics, error)
	Donate(ctx context.Context, userID, fundID string, amount int64, interval model.Interval) (*model.Fund, error)

	CreateCheckoutSession(ctx context.Context, callerID string, callerRole model.Role, p service.CheckoutParams) (*model.CheckoutSession, error)
	HandlePaymentWebhook(ctx context.Context, payload []byte, signatureHeader string) (reconcile.Result, error)
}

// TokenIssuer выпускает токены доступа для новых пользователей.
type TokenIssuer interface {
	Sign(p middleware.Principal) string
}

// Handler реализует HTTP-обработчики API платформы пожертвований.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	issuer         TokenIssuer
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов. issuer может быть nil,
// если токены выпускает внешний провайдер.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, issuer TokenIssuer) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		issuer:         issuer,
	}
}

func requestID(r *http.Request) string {
	return chimiddleware.GetReqID(r.Context())
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (h *Handler) principal(w http.ResponseWriter, r *http.Request) (middleware.Principal, bool) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "")
	}
	return p, ok
}

// Health сообщает, что сервис запущен.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, "", map[string]string{"status": "ok"})
}

// Donate списывает пожертвование с кошелька текущего пользователя в сбор.
func (h *Handler) Donate(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req donateRequest
	if !h.decode(w, r, &req) {
		return
	}

	amount, err := model.ToMinor(req.Amount)
	if err != nil {
		h.handleError(w, r, "donate", err)
		return
	}

	fund, err := h.service.Donate(r.Context(), p.UserID, chi.URLParam(r, "fundId"), amount, req.Interval)
	if err != nil {
		h.handleError(w, r, "donate", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, "donation applied", toFundResponse(fund))
}

// CreateFund создаёт новый сбор от имени администратора.
func (h *Handler) CreateFund(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req createFundRequest
	if !h.decode(w, r, &req) {
		return
	}

	target, err := model.ToMinor(req.TargetAmount)
	if err != nil {
		h.handleError(w, r, "create fund", err)
		return
	}

	fund, err := h.service.CreateFund(r.Context(), p.UserID, ledger.FundParams{
		Name:         req.Name,
		Description:  req.Description,
		TargetAmount: target,
		Plan:         req.Plan,
	})
	if err != nil {
		h.handleError(w, r, "create fund", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, "fund created", toFundResponse(fund))
}

// GetFund возвращает сбор.
func (h *Handler) GetFund(w http.ResponseWriter, r *http.Request) {
	fund, err := h.service.GetFund(r.Context(), chi.URLParam(r, "fundId"))
	if err != nil {
		h.handleError(w, r, "get fund", err)
		return
	}
	h.writeJSON(w, http.StatusOK, "", toFundResponse(fund))
}

// DeleteFund закрывает сбор без удаления данных.
func (h *Handler) DeleteFund(w http.ResponseWriter, r *http.Request) {
	fund, err := h.service.DeactivateFund(r.Context(), chi.URLParam(r, "fundId"))
	if err != nil {
		h.handleError(w, r, "delete fund", err)
		return
	}
	h.writeJSON(w, http.StatusOK, "fund deactivated", toFundResponse(fund))
}

// GetFundAnalytics возвращает сводку по сбору.
func (h *Handler) GetFundAnalytics(w http.ResponseWriter, r *http.Request) {
	a, err := h.service.GetFundAnalytics(r.Context(), chi.URLParam(r, "fundId"))
	if err != nil {
		h.handleError(w, r, "fund analytics", err)
		return
	}
	h.writeJSON(w, http.StatusOK, "", toAnalyticsResponse(a))
}

// CreateUser создаёт пользователя. Если сервис сам выпускает токены, в ответ добавляется токен доступа.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !h.decode(w, r, &req) {
		return
	}

	u, err := h.service.CreateUser(r.Context(), service.UserParams{
		ID:          req.ID,
		Name:        req.Name,
		Email:       req.Email,
		Role:        req.Role,
		BankDetails: req.BankDetails,
	})
	if err != nil {
		h.handleError(w, r, "create user", err)
		return
	}

	resp := toUserResponse(u)
	if h.issuer != nil {
		resp.Token = h.issuer.Sign(middleware.Principal{UserID: u.ID, Role: u.Role})
	}
	h.writeJSON(w, http.StatusCreated, "user created", resp)
}

// GetMe возвращает профиль текущего пользователя.
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	u, err := h.service.GetUser(r.Context(), p.UserID)
	if err != nil {
		h.handleError(w, r, "get user", err)
		return
	}
	h.writeJSON(w, http.StatusOK, "", toUserResponse(u))
}

// AddBalance пополняет кошелёк текущего пользователя.
func (h *Handler) AddBalance(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req balanceRequest
	if !h.decode(w, r, &req) {
		return
	}

	amount, err := model.ToMinor(req.Amount)
	if err != nil {
		h.handleError(w, r, "add balance", err)
		return
	}

	u, err := h.service.CreditWallet(r.Context(), p.UserID, amount)
	if err != nil {
		h.handleError(w, r, "add balance", err)
		return
	}
	h.writeJSON(w, http.StatusOK, "balance updated", toUserResponse(u))
}

// AddBankDetails сохраняет банковские реквизиты текущего пользователя.
func (h *Handler) AddBankDetails(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req bankDetailsRequest
	if !h.decode(w, r, &req) {
		return
	}

	u, err := h.service.UpdateBankDetails(r.Context(), p.UserID, req.BankDetails)
	if err != nil {
		h.handleError(w, r, "add bank details", err)
		return
	}
	h.writeJSON(w, http.StatusOK, "bank details updated", toUserResponse(u))
}

// GetDonations возвращает историю пожертвований текущего пользователя.
func (h *Handler) GetDonations(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	history, err := h.service.GetDonationHistory(r.Context(), p.UserID)
	if err != nil {
		h.handleError(w, r, "get donations", err)
		return
	}

	resp := make([]historyResponse, 0, len(history))
	for _, e := range history {
		resp = append(resp, toHistoryResponse(e))
	}
	h.writeJSON(w, http.StatusOK, "", resp)
}

// CreateSubscriptionSession создаёт сессию оплаты подписки на сбор.
func (h *Handler) CreateSubscriptionSession(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req checkoutRequest
	if !h.decode(w, r, &req) {
		return
	}

	session, err := h.service.CreateCheckoutSession(r.Context(), p.UserID, p.Role, service.CheckoutParams{
		UserID:   req.UserID,
		PriceID:  req.PriceID,
		FundID:   req.FundID,
		Interval: req.Interval,
	})
	if err != nil {
		h.handleError(w, r, "create checkout session", err)
		return
	}
	h.writeJSON(w, http.StatusOK, "", session)
}

// StripeWebhook принимает уведомления провайдера. Тело читается без разбора, чтобы проверить подпись.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "cannot read body")
		return
	}

	res, err := h.service.HandlePaymentWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, payment.ErrSignatureInvalid) {
			h.writeError(w, http.StatusBadRequest, "invalid signature")
			return
		}
		h.handleError(w, r, "stripe webhook", err)
		return
	}

	h.writeJSON(w, http.StatusOK, "", webhookResponse{Received: true, Outcome: string(res.Outcome)})
}
