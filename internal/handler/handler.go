// Package handler содержит HTTP-обработчики, через которые сервис бронирования вызывает платёжный модуль.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/salon-payguard/internal/apperr"
	"github.com/mmeshcher/salon-payguard/internal/middleware"
	"github.com/mmeshcher/salon-payguard/internal/model"
)

// Service определяет контракт платёжного модуля, используемый HTTP-обработчиками.
type Service interface {
	AuthorizeAttempt(ctx context.Context, actorID string) (model.AuthDecision, error)
	StartPayment(ctx context.Context, actorID string, amount decimal.Decimal, currency string, notes map[string]string) (model.AuthDecision, *model.OrderHandle, error)
	ConfirmPayment(ctx context.Context, cb model.PaymentCallback, expectedAmount decimal.Decimal, expectedCurrency, actorID string) model.ConfirmResult
}

// Handler реализует HTTP-обработчики платёжного модуля.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

type decisionResponse struct {
	Allowed             bool  `json:"allowed"`
	RemainingCooldownMS int64 `json:"remaining_cooldown_ms"`
}

// AuthorizeAttempt сообщает, может ли текущий актор начать попытку оплаты.
func (h *Handler) AuthorizeAttempt(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.GetActorIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	decision, err := h.service.AuthorizeAttempt(r.Context(), actorID)
	if err != nil {
		h.logger.Error("authorize attempt error", zap.Error(err), zap.String("actorID", actorID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	status := http.StatusOK
	if !decision.Allowed {
		setRetryAfter(w, decision.RemainingCooldown)
		status = http.StatusTooManyRequests
	}

	writeJSON(w, status, toDecisionResponse(decision))
}

type startPaymentRequest struct {
	Amount   decimal.Decimal   `json:"amount"`
	Currency string            `json:"currency"`
	Notes    map[string]string `json:"notes"`
}

type orderResponse struct {
	OrderID  string `json:"order_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

// StartPayment учитывает попытку оплаты и создаёт заказ в платёжном шлюзе.
func (h *Handler) StartPayment(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.GetActorIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req startPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	decision, order, err := h.service.StartPayment(r.Context(), actorID, req.Amount, req.Currency, req.Notes)
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrRateLimited):
			setRetryAfter(w, decision.RemainingCooldown)
			writeJSON(w, http.StatusTooManyRequests, toDecisionResponse(decision))
		case errors.Is(err, apperr.ErrValidation):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			h.logger.Error("start payment error", zap.Error(err), zap.String("actorID", actorID))
			http.Error(w, http.StatusText(apperr.HTTPStatus(err)), apperr.HTTPStatus(err))
		}
		return
	}

	writeJSON(w, http.StatusCreated, orderResponse{
		OrderID:  order.ID,
		Amount:   order.AmountMinor,
		Currency: order.Currency,
		Receipt:  order.Receipt,
		Status:   string(order.Status),
	})
}

type verifyRequest struct {
	OrderID   string          `json:"order_id"`
	PaymentID string          `json:"payment_id"`
	Signature string          `json:"signature"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
}

type verifyResponse struct {
	Success      bool     `json:"success"`
	Message      string   `json:"message"`
	Outcome      string   `json:"outcome"`
	Kind         string   `json:"kind,omitempty"`
	FailedChecks []string `json:"failed_checks,omitempty"`
	Risk         string   `json:"risk,omitempty"`
}

// VerifyPayment подтверждает платёж по данным callback шлюза.
func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.GetActorIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	cb := model.PaymentCallback{
		OrderID:   req.OrderID,
		PaymentID: req.PaymentID,
		Signature: req.Signature,
	}

	res := h.service.ConfirmPayment(r.Context(), cb, req.Amount, req.Currency, actorID)

	status := http.StatusOK
	if !res.Success {
		status = apperr.KindStatus(res.Kind)
	}

	writeJSON(w, status, verifyResponse{
		Success:      res.Success,
		Message:      res.Message,
		Outcome:      string(res.Outcome),
		Kind:         res.Kind,
		FailedChecks: res.FailedChecks,
		Risk:         string(res.Risk),
	})
}

func toDecisionResponse(d model.AuthDecision) decisionResponse {
	return decisionResponse{
		Allowed:             d.Allowed,
		RemainingCooldownMS: d.RemainingCooldown.Milliseconds(),
	}
}

func setRetryAfter(w http.ResponseWriter, d time.Duration) {
	if d <= 0 {
		return
	}
	seconds := int64(math.Ceil(d.Seconds()))
	w.Header().Set("Retry-After", strconv.FormatInt(seconds, 10))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
