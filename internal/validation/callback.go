// Package validation содержит функции валидации входных данных платёжного callback.
package validation

import "strings"

// SignatureLength задаёт длину подписи HMAC-SHA256 в шестнадцатеричном виде.
const SignatureLength = 64

// MissingCallbackParams возвращает имена пустых обязательных параметров callback.
func MissingCallbackParams(orderID, paymentID, signature string) []string {
	var missing []string
	if strings.TrimSpace(orderID) == "" {
		missing = append(missing, "order_id")
	}
	if strings.TrimSpace(paymentID) == "" {
		missing = append(missing, "payment_id")
	}
	if strings.TrimSpace(signature) == "" {
		missing = append(missing, "signature")
	}
	return missing
}

// IsValidSignatureFormat проверяет, что подпись состоит ровно из 64 шестнадцатеричных символов.
func IsValidSignatureFormat(signature string) bool {
	if len(signature) != SignatureLength {
		return false
	}

	for i := 0; i < len(signature); i++ {
		ch := signature[i]
		switch {
		case ch >= '0' && ch <= '9':
		case ch >= 'a' && ch <= 'f':
		case ch >= 'A' && ch <= 'F':
		default:
			return false
		}
	}

	return true
}
