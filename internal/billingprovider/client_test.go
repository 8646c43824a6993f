package billingprovider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "sk_test_123", time.Second)
}

func TestClient_ActiveSubscription(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/subscriptions", r.URL.Path)
		assert.Equal(t, "cus_1", r.URL.Query().Get("customer"))
		assert.Equal(t, "Bearer sk_test_123", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"data":[{"id":"sub_1","customer":"cus_1","status":"active","items":{"data":[{"price":{"id":"price_pro"}}]}}]}`))
	})

	price, ok, err := c.ActiveSubscription(context.Background(), "cus_1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "price_pro", price)
}

func TestClient_ActiveSubscriptionNone(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	})

	price, ok, err := c.ActiveSubscription(context.Background(), "cus_1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, price)
}

func TestClient_APIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"No such customer"}}`))
	})

	_, err := c.CreatePortalSession(context.Background(), "cus_missing", "https://example.com/account")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Code)
	assert.Equal(t, "No such customer", apiErr.Message)
}

func TestClient_CreatePortalSession(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/billing_portal/sessions", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "cus_1", r.PostForm.Get("customer"))
		assert.Equal(t, "https://example.com/account", r.PostForm.Get("return_url"))
		_, _ = w.Write([]byte(`{"id":"bps_1","url":"https://billing.example.com/p/1"}`))
	})

	u, err := c.CreatePortalSession(context.Background(), "cus_1", "https://example.com/account")
	require.NoError(t, err)
	assert.Equal(t, "https://billing.example.com/p/1", u)
}

func TestClient_CustomerLookupAndCreate(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/customers/search":
			assert.Equal(t, `email:"owner@example.com"`, r.URL.Query().Get("query"))
			_, _ = w.Write([]byte(`{"data":[]}`))
		case "/v1/customers":
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "acc-1", r.PostForm.Get("metadata[account_id]"))
			_, _ = w.Write([]byte(`{"id":"cus_new","email":"owner@example.com"}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	id, err := c.FindCustomerByEmail(context.Background(), "owner@example.com")
	require.NoError(t, err)
	assert.Empty(t, id)

	id, err = c.CreateCustomer(context.Background(), "acc-1", "owner@example.com")
	require.NoError(t, err)
	assert.Equal(t, "cus_new", id)
}

func TestClient_SessionPriceID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/checkout/sessions/cs_1/line_items", r.URL.Path)
		_, _ = w.Write([]byte(`{"data":[{"price":{"id":"price_std"}}]}`))
	})

	price, err := c.SessionPriceID(context.Background(), "cs_1")
	require.NoError(t, err)
	assert.Equal(t, "price_std", price)
}

func TestClient_NotConfigured(t *testing.T) {
	c := NewClient("https://api.example.com", "", 0)
	assert.False(t, c.Configured())

	_, _, err := c.ActiveSubscription(context.Background(), "cus_1")
	assert.ErrorIs(t, err, ErrNotConfigured)
}
