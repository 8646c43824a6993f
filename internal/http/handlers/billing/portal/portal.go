// Package portal выдаёт ссылку на портал управления подпиской.
package portal

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/autobill/internal/billingprovider"
	"github.com/magabrotheeeer/autobill/internal/http/middlewarectx"
	"github.com/magabrotheeeer/autobill/internal/http/response"
	"github.com/magabrotheeeer/autobill/internal/lib/sl"
)

// Handler выдаёт ссылку на портал.
type Handler struct {
	log     *slog.Logger
	service Service
}

// Service создаёт сессию портала.
type Service interface {
	PortalURL(ctx context.Context, accountID, email string) (string, error)
}

// Response — ссылка на портал.
type Response struct {
	URL string `json:"url" example:"https://billing.example.com/session/abc"`
}

// New создает новый Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Портал подписки
// @Description Создаёт сессию портала провайдера подписок для аккаунта.
// @Tags Billing
// @Produce  json
// @Success 200 {object} Response
// @Failure 401 {object} response.ErrorResponse "Пользователь не авторизован"
// @Failure 503 {object} response.ErrorResponse "Провайдер подписок не настроен"
// @Failure 500 {object} response.ErrorResponse "Ошибка провайдера"
// @Security BearerAuth
// @Router /billing/portal [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.billing.portal"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	accountID, email, ok := middlewarectx.Account(r.Context())
	if !ok {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.Error("unauthorized"))
		return
	}

	url, err := h.service.PortalURL(r.Context(), accountID, email)
	if errors.Is(err, billingprovider.ErrNotConfigured) {
		log.Warn("billing portal requested but provider is not configured")
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, response.Error("billing is not configured"))
		return
	}
	if err != nil {
		log.Error("failed to create portal session", slog.String("account_id", accountID), sl.Err(err))
		response.RenderError(w, r, err)
		return
	}

	render.JSON(w, r, Response{URL: url})
}
