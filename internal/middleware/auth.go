// Package middleware содержит HTTP middleware платёжного сервиса.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmeshcher/salon-payguard/internal/apperr"
)

type contextKey string

const actorIDKey contextKey = "actorID"

const (
	authCookieName = "auth_token"
	authCookieTTL  = 24 * time.Hour
	bearerPrefix   = "Bearer "
)

// AuthMiddleware проверяет подписанный токен актора. Токены выпускает сервис бронирования
// тем же секретом, поэтому актор не может сбросить себе лимит попыток, подменив идентификатор.
type AuthMiddleware struct {
	secretKey []byte
}

// NewAuthMiddleware создаёт AuthMiddleware с указанным секретным ключом.
func NewAuthMiddleware(secret string) (*AuthMiddleware, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: auth secret is not set", apperr.ErrConfiguration)
	}
	return &AuthMiddleware{secretKey: []byte(secret)}, nil
}

// Middleware извлекает токен из заголовка Authorization или cookie и добавляет идентификатор актора в контекст.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := tokenFromRequest(r)
		if token == "" {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		actorID, ok := a.parseToken(token)
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), actorIDKey, actorID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// IssueToken подписывает идентификатор актора.
func (a *AuthMiddleware) IssueToken(actorID string) string {
	encoded := base64.RawURLEncoding.EncodeToString([]byte(actorID))
	return encoded + "." + a.sign(encoded)
}

// SetAuthCookie устанавливает cookie авторизации для указанного актора.
func (a *AuthMiddleware) SetAuthCookie(w http.ResponseWriter, actorID string) {
	cookie := &http.Cookie{
		Name:     authCookieName,
		Value:    a.IssueToken(actorID),
		Path:     "/",
		Expires:  time.Now().Add(authCookieTTL),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	}

	http.SetCookie(w, cookie)
}

func (a *AuthMiddleware) sign(encoded string) string {
	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(encoded))
	return hex.EncodeToString(mac.Sum(nil))
}

func (a *AuthMiddleware) parseToken(token string) (string, bool) {
	encoded, signature, found := strings.Cut(token, ".")
	if !found || encoded == "" {
		return "", false
	}

	if !hmac.Equal([]byte(signature), []byte(a.sign(encoded))) {
		return "", false
	}

	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil || len(raw) == 0 {
		return "", false
	}

	return string(raw), true
}

func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, bearerPrefix) {
		return strings.TrimSpace(strings.TrimPrefix(h, bearerPrefix))
	}
	if cookie, err := r.Cookie(authCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// GetActorIDFromContext извлекает идентификатор актора из контекста запроса.
func GetActorIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(actorIDKey).(string)
	return id, ok
}
