// Package webhook принимает события провайдера подписок.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/autobill/internal/billingprovider"
	"github.com/magabrotheeeer/autobill/internal/http/response"
	"github.com/magabrotheeeer/autobill/internal/lib/signature"
	"github.com/magabrotheeeer/autobill/internal/lib/sl"
	"github.com/magabrotheeeer/autobill/internal/models"
)

const maxBodyBytes = 256 << 10

// Verifier проверяет подпись и разбирает событие.
type Verifier interface {
	ConstructEvent(body []byte, header string) (*billingprovider.Event, error)
}

// Service обрабатывает событие провайдера.
type Service interface {
	HandleEvent(ctx context.Context, event *billingprovider.Event) error
}

// Handler обрабатывает webhook провайдера подписок.
type Handler struct {
	log      *slog.Logger // Логгер для записи информации и ошибок
	verifier Verifier
	service  Service
}

// New создает новый Handler.
func New(log *slog.Logger, verifier Verifier, service Service) *Handler {
	return &Handler{
		log:      log,
		verifier: verifier,
		service:  service,
	}
}

// ServeHTTP godoc
// @Summary Webhook провайдера подписок
// @Description Обрабатывает checkout.session.completed и customer.subscription.deleted. Остальные события подтверждаются без обработки.
// @Tags Billing
// @Accept  json
// @Produce  json
// @Param Stripe-Signature header string true "t=<unix>,v1=<hex>"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.ErrorResponse "Некорректное событие"
// @Failure 401 {object} response.ErrorResponse "Неверная подпись"
// @Failure 500 {object} response.ErrorResponse "Ошибка обработки, провайдер повторит доставку"
// @Router /billing/webhook [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.billing.webhook"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		log.Warn("failed to read webhook body", sl.Err(err))
		response.RenderError(w, r, &models.InvalidPayloadError{Reason: "failed to read body"})
		return
	}

	event, err := h.verifier.ConstructEvent(body, r.Header.Get(billingprovider.SignatureHeader))
	if err != nil {
		if isSignatureError(err) {
			log.Warn("invalid or missing webhook signature", sl.Err(err))
			response.RenderError(w, r, fmt.Errorf("%w: %w", models.ErrBadSignature, err))
			return
		}
		log.Warn("failed to decode webhook event", sl.Err(err))
		response.RenderError(w, r, &models.InvalidPayloadError{Reason: "invalid event"})
		return
	}
	log = log.With(slog.String("event_id", event.ID), slog.String("event_type", event.Type))

	if err := h.service.HandleEvent(r.Context(), event); err != nil {
		log.Error("failed to process webhook event", sl.Err(err))
		if errors.Is(err, billingprovider.ErrUnexpectedObject) {
			response.RenderError(w, r, &models.InvalidPayloadError{Reason: "unexpected event object"})
			return
		}
		response.RenderError(w, r, err)
		return
	}

	log.Info("webhook processed successfully")
	render.JSON(w, r, response.StatusOKWithData(map[string]any{"received": true}))
}

func isSignatureError(err error) bool {
	return errors.Is(err, signature.ErrMissing) ||
		errors.Is(err, signature.ErrMalformed) ||
		errors.Is(err, signature.ErrStale) ||
		errors.Is(err, signature.ErrMismatch)
}
