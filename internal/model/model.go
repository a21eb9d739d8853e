// Package model содержит доменные сущности платёжного модуля салона.
package model

import "time"

// AttemptRecord хранит число попыток оплаты актора внутри окна ожидания.
type AttemptRecord struct {
	ActorID       string
	Count         int
	LastAttemptAt time.Time
}

// Expired сообщает, что с последней попытки прошло не меньше cooldown.
func (r AttemptRecord) Expired(now time.Time, cooldown time.Duration) bool {
	return now.Sub(r.LastAttemptAt) >= cooldown
}

// RemainingCooldown возвращает время до конца окна ожидания.
func (r AttemptRecord) RemainingCooldown(now time.Time, cooldown time.Duration) time.Duration {
	return cooldown - now.Sub(r.LastAttemptAt)
}

// PaymentCallback описывает идентификаторы и подпись, которые платёжный шлюз возвращает после оплаты.
type PaymentCallback struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Signature string `json:"signature"`
}

// OrderStatus описывает статус заказа на стороне шлюза.
type OrderStatus string

const (
	OrderStatusCreated   OrderStatus = "created"
	OrderStatusAttempted OrderStatus = "attempted"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusExpired   OrderStatus = "expired"
)

// OrderSnapshot описывает заказ в том виде, в каком его вернул шлюз. Суммы в минимальных единицах валюты.
type OrderSnapshot struct {
	ID          string
	AmountMinor int64
	AmountPaid  int64
	AmountDue   int64
	Currency    string
	Status      OrderStatus
	Receipt     string
	Attempts    int
	Notes       map[string]string
	CreatedAt   int64
}

// Названия проверок целостности заказа.
const (
	CheckAmount    = "amount"
	CheckCurrency  = "currency"
	CheckStatus    = "status"
	CheckTimestamp = "timestamp"
)

// CheckNames перечисляет проверки целостности в порядке их выполнения.
var CheckNames = []string{CheckAmount, CheckCurrency, CheckStatus, CheckTimestamp}

// IntegrityResult содержит итог проверки целостности и результат каждой отдельной проверки.
type IntegrityResult struct {
	Valid  bool
	Checks map[string]bool
}

// AuthDecision описывает решение о допуске новой попытки оплаты.
type AuthDecision struct {
	Allowed           bool
	RemainingCooldown time.Duration
}

// Outcome описывает итоговое состояние попытки оплаты.
type Outcome string

const (
	OutcomePending            Outcome = "PENDING"
	OutcomeBlockedByRateLimit Outcome = "BLOCKED_BY_RATE_LIMIT"
	OutcomeSignatureRejected  Outcome = "SIGNATURE_REJECTED"
	OutcomeIntegrityRejected  Outcome = "INTEGRITY_REJECTED"
	OutcomeConfirmed          Outcome = "CONFIRMED"
)

// RiskLevel задаёт грубую оценку риска платежа для аналитики.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ConfirmResult содержит результат подтверждения платежа.
type ConfirmResult struct {
	Success      bool
	Message      string
	Kind         string
	Outcome      Outcome
	FailedChecks []string
	Risk         RiskLevel
}

// OrderHandle описывает заказ, созданный в платёжном шлюзе.
type OrderHandle struct {
	ID          string
	AmountMinor int64
	Currency    string
	Receipt     string
	Status      OrderStatus
}

// PaymentRecord описывает платёж после захвата средств.
type PaymentRecord struct {
	ID          string
	OrderID     string
	AmountMinor int64
	Currency    string
	Status      string
	Captured    bool
}

// RefundRecord описывает возврат платежа.
type RefundRecord struct {
	ID          string
	PaymentID   string
	AmountMinor int64
	Status      string
}
