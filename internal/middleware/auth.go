// Package middleware содержит HTTP middleware платформы пожертвований.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"

	"github.com/mmeshcher/donations-system/internal/model"
)

type contextKey string

const principalKey contextKey = "principal"

// ErrInvalidToken возвращается, если токен не прошёл проверку.
var ErrInvalidToken = errors.New("invalid token")

// Principal описывает аутентифицированного пользователя запроса.
type Principal struct {
	UserID string
	Role   model.Role
}

// TokenVerifier проверяет токен доступа и возвращает его владельца.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (Principal, error)
}

// HMACSigner выпускает и проверяет токены вида "<userID>.<role>.<подпись>".
type HMACSigner struct {
	secretKey []byte
}

// NewHMACSigner создаёт подписчик с указанным секретом. Пустой секрет заменяется случайным,
// тогда токены действительны только до перезапуска процесса.
func NewHMACSigner(secret string) *HMACSigner {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}

	return &HMACSigner{secretKey: key}
}

// Sign выпускает токен для пользователя.
func (s *HMACSigner) Sign(p Principal) string {
	payload := p.UserID + "." + string(p.Role)
	return payload + "." + s.signature(payload)
}

// Verify проверяет подпись токена.
func (s *HMACSigner) Verify(_ context.Context, token string) (Principal, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 || parts[0] == "" {
		return Principal{}, ErrInvalidToken
	}

	payload := parts[0] + "." + parts[1]
	if !hmac.Equal([]byte(parts[2]), []byte(s.signature(payload))) {
		return Principal{}, ErrInvalidToken
	}

	role := model.Role(parts[1])
	if role != model.RoleUser && role != model.RoleAdmin {
		return Principal{}, ErrInvalidToken
	}

	return Principal{UserID: parts[0], Role: role}, nil
}

func (s *HMACSigner) signature(payload string) string {
	mac := hmac.New(sha256.New, s.secretKey)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// AuthMiddleware выполняет проверку аутентификации по Bearer-токену в заголовке Authorization.
type AuthMiddleware struct {
	verifier TokenVerifier
}

// NewAuthMiddleware создаёт AuthMiddleware с указанным способом проверки токенов.
func NewAuthMiddleware(v TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{verifier: v}
}

// Middleware проверяет токен и добавляет пользователя в контекст запроса.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := tokenFromRequest(r)
		if token == "" {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		p, err := a.verifier.Verify(r.Context(), token)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

func tokenFromRequest(r *http.Request) string {
	parts := strings.Fields(r.Header.Get("Authorization"))
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return parts[1]
	}
	return ""
}

// RequireRole пропускает только пользователей с одной из указанных ролей.
func RequireRole(roles ...model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			for _, role := range roles {
				if p.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		})
	}
}

// WithPrincipal возвращает контекст с пользователем запроса.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext извлекает пользователя запроса из контекста.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}
