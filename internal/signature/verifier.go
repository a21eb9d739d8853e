// Package signature проверяет подписи callback платёжного шлюза.
//
// Подпись вычисляется как HMAC-SHA256 от строки orderID + "|" + paymentID на общем секрете
// и передаётся в шестнадцатеричном виде. Разделитель и порядок полей — часть протокола шлюза
// и не должны меняться.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mmeshcher/salon-payguard/internal/apperr"
	"github.com/mmeshcher/salon-payguard/internal/model"
	"github.com/mmeshcher/salon-payguard/internal/validation"
)

const (
	// Delimiter разделяет идентификаторы заказа и платежа в подписываемой строке.
	Delimiter = "|"

	auditPrefixLen = 8
)

// Сообщения о результате проверки.
const (
	MessageVerified      = "signature verified"
	MessageInvalidFormat = "invalid signature format"
	MessageMismatch      = "invalid signature"
)

// Result содержит итог проверки подписи. Err классифицирует отказ через пакет apperr.
type Result struct {
	Success bool
	Message string
	Err     error
}

// Sign вычисляет ожидаемую подпись для пары идентификаторов.
func Sign(orderID, paymentID string, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(orderID + Delimiter + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify проверяет подпись callback. Функция не паникует и не логирует:
// любой отказ возвращается в поле Result.
func Verify(orderID, paymentID, signature string, secret []byte) Result {
	if missing := validation.MissingCallbackParams(orderID, paymentID, signature); len(missing) > 0 {
		msg := "missing required parameters: " + strings.Join(missing, ", ")
		return Result{
			Message: msg,
			Err:     fmt.Errorf("%w: %s", apperr.ErrValidation, msg),
		}
	}

	if !validation.IsValidSignatureFormat(signature) {
		return Result{
			Message: MessageInvalidFormat,
			Err:     fmt.Errorf("%w: %s", apperr.ErrValidation, MessageInvalidFormat),
		}
	}

	expected := Sign(orderID, paymentID, secret)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return Result{
			Message: MessageMismatch,
			Err:     fmt.Errorf("%w: %s", apperr.ErrAuthentication, MessageMismatch),
		}
	}

	return Result{Success: true, Message: MessageVerified}
}

// Verifier хранит секрет подписи и пишет аудит каждой проверки.
type Verifier struct {
	secret []byte
	logger *zap.Logger
}

// NewVerifier создаёт Verifier. Пустой секрет считается ошибкой конфигурации.
func NewVerifier(secret string, logger *zap.Logger) (*Verifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: payment signing secret is not set", apperr.ErrConfiguration)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{
		secret: []byte(secret),
		logger: logger.Named("signature"),
	}, nil
}

// Verify проверяет подпись callback и записывает результат в аудит.
func (v *Verifier) Verify(cb model.PaymentCallback) Result {
	res := Verify(cb.OrderID, cb.PaymentID, cb.Signature, v.secret)

	fields := []zap.Field{
		zap.String("order_id", cb.OrderID),
		zap.String("payment_id", cb.PaymentID),
		zap.String("signature_prefix", truncate(cb.Signature)),
	}

	if res.Success {
		v.logger.Info("payment signature verified", fields...)
		return res
	}

	fields = append(fields, zap.String("reason", res.Message), zap.String("kind", apperr.Kind(res.Err)))
	v.logger.Warn("payment signature rejected", fields...)
	return res
}

// truncate оставляет только префикс подписи; короткие значения не логируются совсем.
func truncate(signature string) string {
	if len(signature) <= auditPrefixLen {
		return "[redacted]"
	}
	return signature[:auditPrefixLen] + "..."
}
