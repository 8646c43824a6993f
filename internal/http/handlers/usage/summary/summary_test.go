package summary

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/autobill/internal/http/middlewarectx"
	"github.com/magabrotheeeer/autobill/internal/models"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) Summary(ctx context.Context, accountID string) (*models.UsageSummary, error) {
	args := m.Called(ctx, accountID)
	if res := args.Get(0); res != nil {
		return res.(*models.UsageSummary), args.Error(1)
	}
	return nil, args.Error(1)
}

func TestSummaryHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("renders unbounded as null", func(t *testing.T) {
		svc := new(MockService)
		svc.On("Summary", mock.Anything, "acc-1").Return(&models.UsageSummary{
			Tier:    models.TierPro,
			Daily:   models.UsageQuota{Used: 4, Limit: models.Unbounded()},
			Monthly: models.UsageQuota{Used: 40, Limit: models.LimitOf(1000)},
		}, nil)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/usage", nil)
		req = req.WithContext(context.WithValue(req.Context(), middlewarectx.AccountID, "acc-1"))
		w := httptest.NewRecorder()
		New(logger, svc).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"tier":"pro","daily":{"used":4,"limit":null},"monthly":{"used":40,"limit":1000}}`, w.Body.String())
		svc.AssertExpectations(t)
	})

	t.Run("service error", func(t *testing.T) {
		svc := new(MockService)
		svc.On("Summary", mock.Anything, "acc-1").Return(nil, errors.New("db down"))

		req := httptest.NewRequest(http.MethodGet, "/api/v1/usage", nil)
		req = req.WithContext(context.WithValue(req.Context(), middlewarectx.AccountID, "acc-1"))
		w := httptest.NewRecorder()
		New(logger, svc).ServeHTTP(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})

	t.Run("unauthorized", func(t *testing.T) {
		w := httptest.NewRecorder()
		New(logger, new(MockService)).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/usage", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}
