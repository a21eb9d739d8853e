// Package service реализует оркестрацию платежей: допуск попыток, подтверждение callback
// и проверку заказа.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/salon-payguard/internal/apperr"
	"github.com/mmeshcher/salon-payguard/internal/integrity"
	"github.com/mmeshcher/salon-payguard/internal/model"
	"github.com/mmeshcher/salon-payguard/internal/signature"
)

// Limiter описывает учёт попыток оплаты, используемый сервисом.
type Limiter interface {
	Check(ctx context.Context, actorID string) (model.AuthDecision, error)
	Record(ctx context.Context, actorID string) error
	Acquire(ctx context.Context, actorID string) (model.AuthDecision, error)
	Clear(ctx context.Context, actorID string) error
}

// Verifier описывает проверку подписи callback.
type Verifier interface {
	Verify(cb model.PaymentCallback) signature.Result
}

// Checker описывает проверку целостности заказа.
type Checker interface {
	Validate(order model.OrderSnapshot, expectedAmount decimal.Decimal, expectedCurrency string) model.IntegrityResult
}

// Gateway описывает операции платёжного шлюза, которые вызывает сервис.
type Gateway interface {
	CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string, metadata map[string]string) (*model.OrderHandle, error)
	FetchOrder(ctx context.Context, orderID string) (*model.OrderSnapshot, error)
}

// Options содержит необязательные параметры сервиса.
type Options struct {
	// HighValueAmount задаёт сумму в минимальных единицах, начиная с которой риск повышается до medium.
	HighValueAmount int64
	// CountSignatureFailures включает учёт поддельных callback в том же счётчике, что и попытки оплаты.
	CountSignatureFailures bool
}

// Service содержит бизнес-логику подтверждения платежей.
type Service struct {
	limiter  Limiter
	verifier Verifier
	checker  Checker
	gateway  Gateway
	logger   *zap.Logger
	opts     Options
}

// NewService создаёт сервис. Без любой из зависимостей сервис не запускается.
func NewService(limiter Limiter, verifier Verifier, checker Checker, gw Gateway, logger *zap.Logger, opts Options) (*Service, error) {
	if limiter == nil || verifier == nil || checker == nil || gw == nil {
		return nil, fmt.Errorf("%w: payment service dependencies are not configured", apperr.ErrConfiguration)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.HighValueAmount <= 0 {
		opts.HighValueAmount = DefaultHighValueAmount
	}

	return &Service{
		limiter:  limiter,
		verifier: verifier,
		checker:  checker,
		gateway:  gw,
		logger:   logger.Named("payments"),
		opts:     opts,
	}, nil
}

// AuthorizeAttempt сообщает, может ли актор начать новую попытку оплаты.
// Если попытка разрешена, вызывающий должен учесть её через RecordAttempt до обращения к шлюзу.
func (s *Service) AuthorizeAttempt(ctx context.Context, actorID string) (model.AuthDecision, error) {
	decision, err := s.limiter.Check(ctx, actorID)
	if err != nil {
		return model.AuthDecision{}, fmt.Errorf("check rate limit: %w", err)
	}
	if !decision.Allowed {
		s.logger.Info("payment attempt blocked",
			zap.String("actor_id", actorID),
			zap.Duration("remaining_cooldown", decision.RemainingCooldown),
		)
	}
	return decision, nil
}

// RecordAttempt учитывает попытку оплаты актора.
func (s *Service) RecordAttempt(ctx context.Context, actorID string) error {
	if err := s.limiter.Record(ctx, actorID); err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

// BeginAttempt атомарно проверяет лимит и учитывает попытку.
func (s *Service) BeginAttempt(ctx context.Context, actorID string) (model.AuthDecision, error) {
	decision, err := s.limiter.Acquire(ctx, actorID)
	if err != nil {
		return model.AuthDecision{}, fmt.Errorf("acquire attempt: %w", err)
	}
	if !decision.Allowed {
		s.logger.Info("payment attempt blocked",
			zap.String("actor_id", actorID),
			zap.Duration("remaining_cooldown", decision.RemainingCooldown),
		)
	}
	return decision, nil
}

// StartPayment учитывает попытку и создаёт заказ в шлюзе. Заблокированный актор получает
// решение лимитера и ошибку apperr.ErrRateLimited без обращения к шлюзу.
func (s *Service) StartPayment(ctx context.Context, actorID string, amount decimal.Decimal, currency string, notes map[string]string) (model.AuthDecision, *model.OrderHandle, error) {
	minor := integrity.ToMinorUnits(amount)
	if !minor.IsInteger() || !minor.IsPositive() {
		return model.AuthDecision{}, nil, fmt.Errorf("%w: amount must be positive with at most two decimal places", apperr.ErrValidation)
	}
	if currency == "" {
		return model.AuthDecision{}, nil, fmt.Errorf("%w: currency is required", apperr.ErrValidation)
	}

	decision, err := s.BeginAttempt(ctx, actorID)
	if err != nil {
		return model.AuthDecision{}, nil, err
	}
	if !decision.Allowed {
		return decision, nil, apperr.ErrRateLimited
	}

	metadata := make(map[string]string, len(notes)+1)
	for k, v := range notes {
		metadata[k] = v
	}
	metadata["actor_id"] = actorID

	receipt := "rcpt_" + strings.ReplaceAll(uuid.NewString(), "-", "")

	order, err := s.gateway.CreateOrder(ctx, minor.IntPart(), currency, receipt, metadata)
	if err != nil {
		s.logger.Error("create gateway order failed",
			zap.String("actor_id", actorID),
			zap.String("receipt", receipt),
			zap.Error(err),
		)
		return decision, nil, err
	}

	s.logger.Info("gateway order created",
		zap.String("actor_id", actorID),
		zap.String("order_id", order.ID),
		zap.String("receipt", receipt),
	)
	return decision, order, nil
}

// ConfirmPayment проверяет подпись callback, сверяет заказ из шлюза с ожидаемой суммой и валютой
// и при успехе сбрасывает счётчик попыток актора.
func (s *Service) ConfirmPayment(ctx context.Context, cb model.PaymentCallback, expectedAmount decimal.Decimal, expectedCurrency, actorID string) model.ConfirmResult {
	verified := s.verifier.Verify(cb)
	if !verified.Success {
		if s.opts.CountSignatureFailures && errors.Is(verified.Err, apperr.ErrAuthentication) {
			if err := s.limiter.Record(ctx, actorID); err != nil {
				s.logger.Error("record forged callback attempt failed", zap.String("actor_id", actorID), zap.Error(err))
			}
		}
		return model.ConfirmResult{
			Message: verified.Message,
			Kind:    apperr.Kind(verified.Err),
			Outcome: model.OutcomeSignatureRejected,
		}
	}

	order, err := s.gateway.FetchOrder(ctx, cb.OrderID)
	if err != nil {
		s.logger.Warn("fetch gateway order failed",
			zap.String("actor_id", actorID),
			zap.String("order_id", cb.OrderID),
			zap.Error(err),
		)
		return model.ConfirmResult{
			Message: "payment status unknown: gateway request failed",
			Kind:    upstreamKind(err),
			Outcome: model.OutcomePending,
		}
	}

	risk := ClassifyRisk(*order, s.opts.HighValueAmount)
	res := s.checker.Validate(*order, expectedAmount, expectedCurrency)

	if !res.Valid {
		failed := integrity.FailedChecks(res)
		s.logger.Warn("payment integrity check failed",
			zap.String("actor_id", actorID),
			zap.String("order_id", cb.OrderID),
			zap.String("payment_id", cb.PaymentID),
			zap.Strings("failed_checks", failed),
			zap.String("risk", string(risk)),
		)
		return model.ConfirmResult{
			Message:      "payment integrity check failed: " + strings.Join(failed, ", "),
			Kind:         apperr.Kind(apperr.ErrIntegrity),
			Outcome:      model.OutcomeIntegrityRejected,
			FailedChecks: failed,
			Risk:         risk,
		}
	}

	if err := s.limiter.Clear(ctx, actorID); err != nil {
		s.logger.Error("clear attempts failed", zap.String("actor_id", actorID), zap.Error(err))
	}

	s.logger.Info("payment confirmed",
		zap.String("actor_id", actorID),
		zap.String("order_id", cb.OrderID),
		zap.String("payment_id", cb.PaymentID),
		zap.String("risk", string(risk)),
	)

	return model.ConfirmResult{
		Success: true,
		Message: "payment confirmed",
		Outcome: model.OutcomeConfirmed,
		Risk:    risk,
	}
}

// upstreamKind классифицирует ошибку шлюза; ошибки без класса считаются ошибками шлюза.
func upstreamKind(err error) string {
	kind := apperr.Kind(err)
	if kind == "internal" {
		return apperr.Kind(apperr.ErrUpstream)
	}
	return kind
}
