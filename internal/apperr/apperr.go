// Package apperr содержит классификацию ошибок платёжного модуля.
package apperr

import (
	"context"
	"errors"
	"net/http"
)

var (
	// ErrConfiguration возвращается, если не заданы секрет подписи или учётные данные шлюза.
	ErrConfiguration = errors.New("configuration error")
	// ErrValidation возвращается при отсутствующих или некорректных параметрах callback.
	ErrValidation = errors.New("validation error")
	// ErrAuthentication возвращается при несовпадении подписи.
	ErrAuthentication = errors.New("authentication failure")
	// ErrIntegrity возвращается, если заказ не прошёл проверки целостности.
	ErrIntegrity = errors.New("integrity failure")
	// ErrUpstream возвращается при ошибке обращения к платёжному шлюзу.
	ErrUpstream = errors.New("upstream error")
	// ErrRateLimited возвращается, если актор превысил лимит попыток.
	ErrRateLimited = errors.New("rate limited")
)

// Kind возвращает короткое имя класса ошибки для логов и ответов API.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""

	case errors.Is(err, ErrConfiguration):
		return "configuration"

	case errors.Is(err, ErrValidation):
		return "validation"

	case errors.Is(err, ErrAuthentication):
		return "authentication"

	case errors.Is(err, ErrIntegrity):
		return "integrity"

	case errors.Is(err, ErrRateLimited):
		return "rate_limited"

	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"

	case errors.Is(err, context.Canceled):
		return "canceled"

	case errors.Is(err, ErrUpstream):
		return "upstream"

	default:
		return "internal"
	}
}

var kindToStatus = map[string]int{
	"":               http.StatusOK,
	"validation":     http.StatusBadRequest,
	"authentication": http.StatusUnauthorized,
	"integrity":      http.StatusUnprocessableEntity,
	"rate_limited":   http.StatusTooManyRequests,
	"timeout":        http.StatusGatewayTimeout,
	"canceled":       http.StatusRequestTimeout,
	"upstream":       http.StatusBadGateway,
}

// HTTPStatus возвращает HTTP-статус для ошибки.
func HTTPStatus(err error) int {
	return KindStatus(Kind(err))
}

// KindStatus возвращает HTTP-статус для класса ошибки.
func KindStatus(kind string) int {
	if s, ok := kindToStatus[kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}
