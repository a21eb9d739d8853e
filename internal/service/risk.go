package service

import "github.com/mmeshcher/salon-payguard/internal/model"

// DefaultHighValueAmount соответствует 100 000.00 в минимальных единицах валюты.
const DefaultHighValueAmount int64 = 10_000_000

// ClassifyRisk грубо оценивает риск платежа по статусу, сумме и частичной оплате.
// Результат используется только для логов и аналитики.
func ClassifyRisk(order model.OrderSnapshot, highValueAmount int64) model.RiskLevel {
	partial := order.AmountPaid > 0 && order.AmountDue > 0

	switch {
	case partial, order.Status == model.OrderStatusExpired:
		return model.RiskHigh
	case order.Status == model.OrderStatusAttempted, order.AmountMinor >= highValueAmount:
		return model.RiskMedium
	default:
		return model.RiskLow
	}
}
