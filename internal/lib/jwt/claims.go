package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoAccount — токен валиден, но не содержит идентификатора аккаунта.
var ErrNoAccount = errors.New("token has no account id")

// AccountClaims описывает данные аккаунта, хранящиеся в JWT.
type AccountClaims struct {
	AccountID            string `json:"account_id"`
	Email                string `json:"email"`
	jwt.RegisteredClaims        // ExpiresAt, IssuedAt, Subject
}

// GenerateToken создает JWT токен для аккаунта, подписывая его секретным ключом.
func (j *MakerImpl) GenerateToken(accountID, email string) (string, error) {
	now := time.Now()
	claims := AccountClaims{
		AccountID: accountID,
		Email:     email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.tokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(j.secretKey))
}

// ParseToken парсит JWT токен, проверяет подпись, алгоритм и срок действия.
// Если account_id пуст, используется subject.
func (j *MakerImpl) ParseToken(tokenStr string) (*AccountClaims, error) {
	const op = "jwt.ParseToken"
	token, err := jwt.ParseWithClaims(tokenStr, &AccountClaims{}, func(_ *jwt.Token) (any, error) {
		return []byte(j.secretKey), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	claims, ok := token.Claims.(*AccountClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%s: invalid token", op)
	}
	if claims.AccountID == "" {
		claims.AccountID = claims.Subject
	}
	if claims.AccountID == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrNoAccount)
	}
	return claims, nil
}
