package integrity

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/mmeshcher/salon-payguard/internal/model"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestChecker() *Checker {
	return NewChecker(Config{}, func() time.Time { return fixedNow })
}

func freshOrder() model.OrderSnapshot {
	return model.OrderSnapshot{
		ID:          "order_1",
		AmountMinor: 150000,
		AmountDue:   150000,
		Currency:    "INR",
		Status:      model.OrderStatusCreated,
		CreatedAt:   fixedNow.Add(-5 * time.Minute).Unix(),
	}
}

func TestValidate_AllChecksPass(t *testing.T) {
	res := newTestChecker().Validate(freshOrder(), decimal.NewFromInt(1500), "INR")

	assert.True(t, res.Valid)
	for _, name := range model.CheckNames {
		assert.True(t, res.Checks[name], name)
	}
	assert.Empty(t, FailedChecks(res))
}

func TestValidate_AmountBoundary(t *testing.T) {
	tests := []struct {
		name   string
		amount int64
		want   bool
	}{
		{name: "exact", amount: 150000, want: true},
		{name: "one above", amount: 150001, want: true},
		{name: "one below", amount: 149999, want: true},
		{name: "two above", amount: 150002, want: false},
		{name: "two below", amount: 149998, want: false},
		{name: "major unit off", amount: 150100, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := freshOrder()
			order.AmountMinor = tt.amount

			res := newTestChecker().Validate(order, decimal.NewFromInt(1500), "INR")
			assert.Equal(t, tt.want, res.Checks[model.CheckAmount])
			assert.Equal(t, tt.want, res.Valid)
		})
	}
}

func TestValidate_FractionalExpectedAmount(t *testing.T) {
	order := freshOrder()
	order.AmountMinor = 49999

	res := newTestChecker().Validate(order, decimal.RequireFromString("499.99"), "INR")
	assert.True(t, res.Checks[model.CheckAmount])

	res = newTestChecker().Validate(order, decimal.RequireFromString("500.005"), "INR")
	assert.False(t, res.Checks[model.CheckAmount], "difference of 1.5 minor units must fail")
}

func TestValidate_StaleOrder(t *testing.T) {
	order := freshOrder()
	order.CreatedAt = fixedNow.Add(-31 * time.Minute).Unix()

	res := newTestChecker().Validate(order, decimal.NewFromInt(1500), "INR")

	assert.False(t, res.Valid)
	assert.False(t, res.Checks[model.CheckTimestamp])
	assert.True(t, res.Checks[model.CheckAmount])
	assert.True(t, res.Checks[model.CheckCurrency])
	assert.True(t, res.Checks[model.CheckStatus])
	assert.Equal(t, []string{model.CheckTimestamp}, FailedChecks(res))
}

func TestValidate_OrderCreatedInFuture(t *testing.T) {
	tests := []struct {
		name  string
		ahead time.Duration
		want  bool
	}{
		{name: "within clock skew", ahead: 30 * time.Second, want: true},
		{name: "at clock skew", ahead: DefaultClockSkew, want: true},
		{name: "beyond clock skew", ahead: DefaultClockSkew + time.Second, want: false},
		{name: "a day ahead", ahead: 24 * time.Hour, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := freshOrder()
			order.CreatedAt = fixedNow.Add(tt.ahead).Unix()

			res := newTestChecker().Validate(order, decimal.NewFromInt(1500), "INR")
			assert.Equal(t, tt.want, res.Checks[model.CheckTimestamp])
			assert.Equal(t, tt.want, res.Valid)
		})
	}
}

func TestValidate_CurrencyAndStatus(t *testing.T) {
	order := freshOrder()
	order.Currency = "USD"
	order.Status = model.OrderStatusPaid

	res := newTestChecker().Validate(order, decimal.NewFromInt(1500), "INR")

	assert.False(t, res.Valid)
	assert.Equal(t, []string{model.CheckCurrency, model.CheckStatus}, FailedChecks(res))
}

func TestValidate_CustomConfig(t *testing.T) {
	c := NewChecker(Config{AmountTolerance: 5, FreshnessWindow: time.Minute}, func() time.Time { return fixedNow })

	order := freshOrder()
	order.AmountMinor = 150005

	res := c.Validate(order, decimal.NewFromInt(1500), "INR")
	assert.True(t, res.Checks[model.CheckAmount])
	assert.False(t, res.Checks[model.CheckTimestamp])
}
