// Package middlewarectx содержит HTTP middleware для проверки JWT токенов
// и ограничения частоты запросов аккаунта.
//
// JWTMiddleware проверяет наличие и валидность JWT токена в заголовке Authorization
// и в случае успеха кладёт в контекст идентификатор аккаунта и email. Дальше
// идентификатор аккаунта передаётся в сервисы явным параметром.
//
// В случае ошибки проверки возвращает HTTP 401 Unauthorized с сообщением об ошибке.
package middlewarectx

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/autobill/internal/http/response"
	"github.com/magabrotheeeer/autobill/internal/lib/jwt"
	"github.com/magabrotheeeer/autobill/internal/lib/sl"
)

// Key тип для ключей контекста HTTP-запроса.
type Key string

const (
	// AccountID — ключ идентификатора аккаунта в контексте.
	AccountID Key = "account_id"
	// Email — ключ email аккаунта в контексте.
	Email Key = "email"
)

// TokenParser разбирает и проверяет JWT токен.
type TokenParser interface {
	ParseToken(tokenStr string) (*jwt.AccountClaims, error)
}

// JWTMiddleware возвращает HTTP middleware, который проверяет JWT в заголовке Authorization.
func JWTMiddleware(parser TokenParser, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middlewarectx.JWTMiddleware"
			log := log.With(
				slog.String("op", op),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)

			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				log.Warn("missing or invalid authorization header")
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, response.Error("missing or invalid authorization header"))
				return
			}
			tokenStr := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))

			claims, err := parser.ParseToken(tokenStr)
			if err != nil {
				log.Warn("invalid or expired token", sl.Err(err))
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, response.Error("invalid or expired token"))
				return
			}
			ctx := context.WithValue(r.Context(), AccountID, claims.AccountID)
			ctx = context.WithValue(ctx, Email, claims.Email)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Account возвращает идентификатор аккаунта и email, положенные JWTMiddleware.
func Account(ctx context.Context) (accountID, email string, ok bool) {
	accountID, ok = ctx.Value(AccountID).(string)
	if !ok || accountID == "" {
		return "", "", false
	}
	email, _ = ctx.Value(Email).(string)
	return accountID, email, true
}
