// Package processor содержит HTTP-клиент внешнего процессора генерации счетов.
// Тело запроса подписывается HMAC-SHA256 ровно в том виде, в каком уходит по сети.
package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/magabrotheeeer/autobill/internal/lib/signature"
)

// SignatureHeader — заголовок с hex-подписью тела запроса.
const SignatureHeader = "X-Hmac-Signature"

// ErrNoJobID — процессор ответил успехом, но не вернул идентификатор задания.
var ErrNoJobID = errors.New("processor: acknowledgement has no job id")

// StatusError — процессор ответил кодом вне 2xx.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("processor: unexpected status %d", e.Code)
}

// Ack — подтверждение приёма задания.
type Ack struct {
	JobID string `json:"jobId"`
}

type ackBody struct {
	JobID    string `json:"jobId"`
	JobIDAlt string `json:"job_id"`
}

// Client отправляет задания процессору.
type Client struct {
	webhookURL string
	secret     string
	httpClient *http.Client
}

// NewClient создаёт клиента с ограничением времени ожидания ответа.
func NewClient(webhookURL, secret string, timeout time.Duration) *Client {
	return &Client{
		webhookURL: webhookURL,
		secret:     secret,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Send подписывает body и отправляет его POST-запросом. body не изменяется
// и не сериализуется повторно.
func (c *Client) Send(ctx context.Context, body []byte) (*Ack, error) {
	const op = "processor.Send"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, signature.Sign(c.secret, body))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("%s: read body: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s: %w", op, &StatusError{Code: resp.StatusCode, Body: string(raw)})
	}

	var ack ackBody
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &ack); err != nil {
			return nil, fmt.Errorf("%s: %w: %v", op, ErrNoJobID, err)
		}
	}
	jobID := strings.TrimSpace(ack.JobID)
	if jobID == "" {
		jobID = strings.TrimSpace(ack.JobIDAlt)
	}
	if jobID == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrNoJobID)
	}
	return &Ack{JobID: jobID}, nil
}
