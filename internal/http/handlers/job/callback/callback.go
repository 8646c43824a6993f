// Package callback принимает уведомления процессора об изменении статуса задания.
//
// Подпись проверяется над сырыми байтами тела до разбора JSON:
// HMAC-SHA256 от timestamp + "." + body в заголовках X-Tab-Timestamp и X-Tab-Signature.
package callback

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/autobill/internal/http/response"
	"github.com/magabrotheeeer/autobill/internal/lib/sl"
	"github.com/magabrotheeeer/autobill/internal/metrics"
	"github.com/magabrotheeeer/autobill/internal/models"
	"github.com/magabrotheeeer/autobill/internal/services/jobstatus"
)

// Заголовки подписи callback'а.
const (
	TimestampHeader = "X-Tab-Timestamp"
	SignatureHeader = "X-Tab-Signature"
)

const maxBodyBytes = 64 << 10

// Verifier проверяет подпись с меткой времени.
type Verifier interface {
	VerifyTimestamped(timestamp, signatureHex string, body []byte) error
}

// Service применяет новый статус задания.
type Service interface {
	Upsert(ctx context.Context, jobID string, status models.JobStatus, pdfURL string) (jobstatus.Outcome, error)
}

// Handler обрабатывает callback'и процессора.
type Handler struct {
	log      *slog.Logger
	verifier Verifier
	service  Service
	metrics  *metrics.Metrics
}

// New создает новый Handler.
func New(log *slog.Logger, verifier Verifier, service Service, m *metrics.Metrics) *Handler {
	return &Handler{
		log:      log,
		verifier: verifier,
		service:  service,
		metrics:  m,
	}
}

// payload — тело callback'а. Идентификатор задания приходит в одном из трёх полей.
type payload struct {
	ID        string  `json:"id"`
	InvoiceID string  `json:"invoiceId"`
	JobID     string  `json:"jobId"`
	Status    string  `json:"status"`
	PDFURL    *string `json:"pdfUrl"`
}

func (p payload) jobID() string {
	for _, id := range []string{p.ID, p.JobID, p.InvoiceID} {
		if id = strings.TrimSpace(id); id != "" {
			return id
		}
	}
	return ""
}

// ServeHTTP godoc
// @Summary Callback процессора
// @Description Обновляет статус задания. Требует подпись X-Tab-Signature над X-Tab-Timestamp + "." + тело.
// @Tags Jobs
// @Accept  json
// @Produce  json
// @Param X-Tab-Timestamp header string true "Unix-время подписи"
// @Param X-Tab-Signature header string true "hex(HMAC-SHA256)"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.ErrorResponse "Некорректное тело"
// @Failure 401 {object} response.ErrorResponse "Неверная или устаревшая подпись"
// @Failure 409 {object} response.ErrorResponse "Недопустимый переход статуса"
// @Router /jobs/callback [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.job.callback"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		log.Warn("failed to read callback body", sl.Err(err))
		h.metrics.Callback(metrics.CallbackInvalid)
		response.RenderError(w, r, &models.InvalidPayloadError{Reason: "failed to read body"})
		return
	}

	err = h.verifier.VerifyTimestamped(r.Header.Get(TimestampHeader), r.Header.Get(SignatureHeader), body)
	if err != nil {
		log.Warn("callback signature rejected", sl.Err(err))
		h.metrics.Callback(metrics.CallbackBadSignature)
		response.RenderError(w, r, fmt.Errorf("%w: %w", models.ErrBadSignature, err))
		return
	}

	var p payload
	if err := render.DecodeJSON(bytes.NewReader(body), &p); err != nil {
		log.Warn("invalid callback json", sl.Err(err))
		h.metrics.Callback(metrics.CallbackInvalid)
		response.RenderError(w, r, &models.InvalidPayloadError{Reason: "invalid json"})
		return
	}
	jobID := p.jobID()
	if jobID == "" {
		h.metrics.Callback(metrics.CallbackInvalid)
		response.RenderError(w, r, &models.InvalidPayloadError{Reason: "missing id"})
		return
	}
	status, ok := models.ParseJobStatus(p.Status)
	if !ok {
		log.Warn("unknown callback status", slog.String("job_id", jobID), slog.String("status", p.Status))
		h.metrics.Callback(metrics.CallbackInvalid)
		response.RenderError(w, r, &models.InvalidPayloadError{Reason: "missing or unknown status"})
		return
	}
	var pdfURL string
	if p.PDFURL != nil {
		pdfURL = *p.PDFURL
	}

	outcome, err := h.service.Upsert(r.Context(), jobID, status, pdfURL)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrIllegalTransition):
			h.metrics.Callback(metrics.CallbackIllegal)
		case errors.Is(err, models.ErrInvalidPayload):
			h.metrics.Callback(metrics.CallbackInvalid)
		default:
			h.metrics.Callback(metrics.CallbackError)
			log.Error("failed to apply callback", slog.String("job_id", jobID), sl.Err(err))
		}
		response.RenderError(w, r, err)
		return
	}

	h.metrics.Callback(metrics.CallbackAccepted)
	log.Info("callback applied",
		slog.String("job_id", jobID),
		slog.String("status", string(status)),
		slog.String("outcome", string(outcome)))
	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"id":      jobID,
		"status":  status,
		"outcome": outcome,
	}))
}
