// Package billingprovider содержит клиент REST API провайдера подписок
// (формат Stripe) и проверку его webhook.
package billingprovider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNotConfigured — секретный ключ провайдера не задан.
var ErrNotConfigured = errors.New("billing provider is not configured")

// APIError — провайдер ответил кодом вне 2xx.
type APIError struct {
	Code    int
	Type    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("billing provider: status %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("billing provider: unexpected status %d", e.Code)
}

// Client обращается к API провайдера с ключом в заголовке Authorization.
type Client struct {
	secretKey  string
	apiURL     string
	httpClient *http.Client
}

// NewClient создаёт новый клиент провайдера подписок
func NewClient(apiURL, secretKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		secretKey:  secretKey,
		apiURL:     strings.TrimRight(apiURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Configured сообщает, задан ли ключ API.
func (c *Client) Configured() bool {
	return c != nil && c.secretKey != ""
}

func (c *Client) newRequest(ctx context.Context, method, path string, form url.Values) (*http.Request, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	var body io.Reader
	target := c.apiURL + path
	if method == http.MethodGet && len(form) > 0 {
		target += "?" + form.Encode()
	} else if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Code: resp.StatusCode}
		var body apiError
		if json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body) == nil {
			apiErr.Type = body.Error.Type
			apiErr.Message = body.Error.Message
		}
		return apiErr
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ActiveSubscription возвращает идентификатор цены активной подписки клиента.
// ok == false, если активной подписки нет.
func (c *Client) ActiveSubscription(ctx context.Context, customerID string) (priceID string, ok bool, err error) {
	const op = "billingprovider.ActiveSubscription"

	form := url.Values{}
	form.Set("customer", customerID)
	form.Set("status", "active")
	form.Set("limit", "1")
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/subscriptions", form)
	if err != nil {
		return "", false, fmt.Errorf("%s: %w", op, err)
	}
	var subs list[Subscription]
	if err := c.do(req, &subs); err != nil {
		return "", false, fmt.Errorf("%s: %w", op, err)
	}
	for _, s := range subs.Data {
		if s.Status == "active" || s.Status == "trialing" {
			return s.PriceID(), true, nil
		}
	}
	return "", false, nil
}

// SessionPriceID возвращает цену первой позиции оплаченной сессии.
func (c *Client) SessionPriceID(ctx context.Context, sessionID string) (string, error) {
	const op = "billingprovider.SessionPriceID"

	form := url.Values{}
	form.Set("limit", "1")
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/checkout/sessions/"+url.PathEscape(sessionID)+"/line_items", form)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	var items list[lineItem]
	if err := c.do(req, &items); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if len(items.Data) == 0 {
		return "", nil
	}
	return items.Data[0].Price.ID, nil
}

// FindCustomerByEmail ищет клиента по электронной почте. Если клиента нет, возвращает пустую строку.
func (c *Client) FindCustomerByEmail(ctx context.Context, email string) (string, error) {
	const op = "billingprovider.FindCustomerByEmail"

	form := url.Values{}
	form.Set("query", fmt.Sprintf("email:%q", email))
	form.Set("limit", "1")
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/customers/search", form)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	var found list[Customer]
	if err := c.do(req, &found); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if len(found.Data) == 0 {
		return "", nil
	}
	return found.Data[0].ID, nil
}

// CreateCustomer создаёт клиента и сохраняет идентификатор аккаунта в metadata.
func (c *Client) CreateCustomer(ctx context.Context, accountID, email string) (string, error) {
	const op = "billingprovider.CreateCustomer"

	form := url.Values{}
	if email != "" {
		form.Set("email", email)
	}
	form.Set("metadata[account_id]", accountID)
	req, err := c.newRequest(ctx, http.MethodPost, "/v1/customers", form)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	var customer Customer
	if err := c.do(req, &customer); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return customer.ID, nil
}

// CreatePortalSession возвращает ссылку на портал управления подпиской.
func (c *Client) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	const op = "billingprovider.CreatePortalSession"

	form := url.Values{}
	form.Set("customer", customerID)
	if returnURL != "" {
		form.Set("return_url", returnURL)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/v1/billing_portal/sessions", form)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	var session PortalSession
	if err := c.do(req, &session); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return session.URL, nil
}
