package middlewarectx_test

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/autobill/internal/http/middlewarectx"
	"github.com/magabrotheeeer/autobill/internal/lib/jwt"
)

type TokenParserMock struct {
	mock.Mock
}

func (m *TokenParserMock) ParseToken(token string) (*jwt.AccountClaims, error) {
	args := m.Called(token)
	claims, _ := args.Get(0).(*jwt.AccountClaims)
	return claims, args.Error(1)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func TestJWTMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		authHeader     string
		setupMock      func(*TokenParserMock)
		wantStatusCode int
		wantCalled     bool
	}{
		{
			name:           "missing Authorization header",
			authHeader:     "",
			setupMock:      func(_ *TokenParserMock) {},
			wantStatusCode: http.StatusUnauthorized,
		},
		{
			name:           "invalid Authorization header prefix",
			authHeader:     "Basic sometoken",
			setupMock:      func(_ *TokenParserMock) {},
			wantStatusCode: http.StatusUnauthorized,
		},
		{
			name:       "token parse error",
			authHeader: "Bearer expired",
			setupMock: func(m *TokenParserMock) {
				m.On("ParseToken", "expired").Return(nil, errors.New("token is expired"))
			},
			wantStatusCode: http.StatusUnauthorized,
		},
		{
			name:       "valid token",
			authHeader: "Bearer validtoken",
			setupMock: func(m *TokenParserMock) {
				m.On("ParseToken", "validtoken").Return(&jwt.AccountClaims{AccountID: "acc-1", Email: "owner@example.com"}, nil)
			},
			wantStatusCode: http.StatusOK,
			wantCalled:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parser := new(TokenParserMock)
			tt.setupMock(parser)

			handlerCalled := false
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handlerCalled = true
				accountID, email, ok := middlewarectx.Account(r.Context())
				assert.True(t, ok)
				assert.Equal(t, "acc-1", accountID)
				assert.Equal(t, "owner@example.com", email)
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			w := httptest.NewRecorder()

			middlewarectx.JWTMiddleware(parser, newNoopLogger())(next).ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatusCode, w.Code)
			assert.Equal(t, tt.wantCalled, handlerCalled)
			parser.AssertExpectations(t)
		})
	}
}

func TestJWTMiddleware_RealMaker(t *testing.T) {
	maker := jwt.NewJWTMaker("secret", time.Hour)
	token, err := maker.GenerateToken("acc-7", "seven@example.com")
	assert.NoError(t, err)

	var gotAccount string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAccount, _, _ = middlewarectx.Account(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	middlewarectx.JWTMiddleware(maker, newNoopLogger())(next).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "acc-7", gotAccount)
}

func TestRateLimitMiddleware_PerAccount(t *testing.T) {
	limiter := middlewarectx.NewRateLimiter(0.001, 2)
	maker := jwt.NewJWTMaker("secret", time.Hour)
	h := middlewarectx.JWTMiddleware(maker, newNoopLogger())(
		middlewarectx.RateLimitMiddleware(limiter, newNoopLogger())(
			http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }),
		),
	)

	call := func(accountID string) int {
		token, err := maker.GenerateToken(accountID, "")
		assert.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, call("a"))
	assert.Equal(t, http.StatusOK, call("a"))
	assert.Equal(t, http.StatusTooManyRequests, call("a"))
	assert.Equal(t, http.StatusOK, call("b"), "other accounts keep their own budget")
}
