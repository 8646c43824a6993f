package poller

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

	"github.com/magabrotheeeer/autobill/internal/models"
)

// ErrUnauthorized — API отклонил токен, повторять опрос бессмысленно.
var ErrUnauthorized = errors.New("unauthorized")

// HTTPSource читает статус задания через GET /api/v1/jobs/{id}.
type HTTPSource struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPSource создаёт источник для API по адресу baseURL.
func NewHTTPSource(baseURL, token string, timeout time.Duration) *HTTPSource {
	return &HTTPSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

type statusResponse struct {
	Status string `json:"status"`
	PDFURL string `json:"pdfUrl"`
}

// Status реализует Source.
func (s *HTTPSource) Status(ctx context.Context, jobID string) (*Snapshot, error) {
	const op = "poller.HTTPSource.Status"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/api/v1/jobs/"+url.PathEscape(jobID), nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s: %w", op, models.ErrNotFound)
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%s: %w (status %d)", op, ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("%s: unexpected status %d", op, resp.StatusCode)
	}

	var body statusResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err != nil {
		return nil, fmt.Errorf("%s: decode: %w", op, err)
	}
	status, ok := models.ParseJobStatus(body.Status)
	if !ok {
		return nil, fmt.Errorf("%s: unknown status %q", op, body.Status)
	}
	return &Snapshot{Status: status, PDFURL: body.PDFURL}, nil
}
