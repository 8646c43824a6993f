package webhook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/autobill/internal/billingprovider"
	"github.com/magabrotheeeer/autobill/internal/lib/signature"
)

const whsec = "whsec_test"

type MockService struct {
	mock.Mock
}

func (m *MockService) HandleEvent(ctx context.Context, event *billingprovider.Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func TestWebhookHandler(t *testing.T) {
	now := time.Unix(1_780_000_000, 0)
	verifier := billingprovider.NewWebhookVerifier(whsec, 0, func() time.Time { return now })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ts := strconv.FormatInt(now.Unix(), 10)

	const event = `{"id":"evt_1","type":"customer.subscription.deleted","data":{"object":{"id":"sub_1","customer":"cus_1"}}}`
	header := func(body string) string {
		return fmt.Sprintf("t=%s,v1=%s", ts, signature.SignTimestamped(whsec, ts, []byte(body)))
	}
	byID := mock.MatchedBy(func(e *billingprovider.Event) bool { return e.ID == "evt_1" })

	tests := []struct {
		name           string
		body           string
		header         string
		setupMock      func(*MockService)
		expectedStatus int
	}{
		{
			name:   "valid event",
			body:   event,
			header: header(event),
			setupMock: func(m *MockService) {
				m.On("HandleEvent", mock.Anything, byID).Return(nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "missing signature",
			body:           event,
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "tampered body",
			body:           strings.Replace(event, "cus_1", "cus_2", 1),
			header:         header(event),
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "signed garbage",
			body:           `not json`,
			header:         header(`not json`),
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:   "processing failure asks for redelivery",
			body:   event,
			header: header(event),
			setupMock: func(m *MockService) {
				m.On("HandleEvent", mock.Anything, byID).Return(errors.New("db down"))
			},
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockService)
			tt.setupMock(svc)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/webhook", strings.NewReader(tt.body))
			if tt.header != "" {
				req.Header.Set(billingprovider.SignatureHeader, tt.header)
			}
			w := httptest.NewRecorder()
			New(logger, verifier, svc).ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			svc.AssertExpectations(t)
		})
	}
}
