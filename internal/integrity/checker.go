// Package integrity сверяет заказ, полученный от платёжного шлюза, с ожидаемыми бизнес-значениями.
package integrity

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/salon-payguard/internal/model"
)

const (
	// DefaultAmountTolerance задаёт допустимое расхождение суммы в минимальных единицах валюты.
	DefaultAmountTolerance int64 = 1
	// DefaultFreshnessWindow задаёт максимальный возраст заказа.
	DefaultFreshnessWindow = 30 * time.Minute
	// DefaultClockSkew задаёт, насколько время создания заказа может опережать наши часы.
	DefaultClockSkew = time.Minute
)

var minorUnitsPerMajor = decimal.NewFromInt(100)

// Config содержит параметры проверок.
type Config struct {
	AmountTolerance int64
	FreshnessWindow time.Duration
	ClockSkew       time.Duration
}

// Checker выполняет проверки целостности заказа.
type Checker struct {
	cfg Config
	now func() time.Time
}

// NewChecker создаёт Checker. Нулевые значения конфигурации заменяются значениями по умолчанию;
// now может быть nil.
func NewChecker(cfg Config, now func() time.Time) *Checker {
	if cfg.AmountTolerance <= 0 {
		cfg.AmountTolerance = DefaultAmountTolerance
	}
	if cfg.FreshnessWindow <= 0 {
		cfg.FreshnessWindow = DefaultFreshnessWindow
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = DefaultClockSkew
	}
	if now == nil {
		now = time.Now
	}
	return &Checker{cfg: cfg, now: now}
}

// ToMinorUnits переводит сумму в основных единицах валюты в минимальные.
func ToMinorUnits(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(minorUnitsPerMajor)
}

// Validate сверяет заказ с ожидаемой суммой (в основных единицах) и валютой.
// Заказ валиден, только если пройдены все четыре проверки. Заказ из будущего
// (дальше допустимого расхождения часов) не проходит проверку timestamp.
func (c *Checker) Validate(order model.OrderSnapshot, expectedAmount decimal.Decimal, expectedCurrency string) model.IntegrityResult {
	diff := decimal.NewFromInt(order.AmountMinor).Sub(ToMinorUnits(expectedAmount)).Abs()
	age := c.now().Sub(time.Unix(order.CreatedAt, 0))

	checks := map[string]bool{
		model.CheckAmount:    diff.LessThanOrEqual(decimal.NewFromInt(c.cfg.AmountTolerance)),
		model.CheckCurrency:  order.Currency == expectedCurrency,
		model.CheckStatus:    order.Status == model.OrderStatusCreated,
		model.CheckTimestamp: age >= -c.cfg.ClockSkew && age < c.cfg.FreshnessWindow,
	}

	valid := true
	for _, ok := range checks {
		valid = valid && ok
	}

	return model.IntegrityResult{Valid: valid, Checks: checks}
}

// FailedChecks возвращает имена непройденных проверок в порядке model.CheckNames.
func FailedChecks(res model.IntegrityResult) []string {
	var failed []string
	for _, name := range model.CheckNames {
		if !res.Checks[name] {
			failed = append(failed, name)
		}
	}
	return failed
}
