// Package summary отдаёт использование квоты аккаунтом за текущие сутки и месяц.
package summary

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/autobill/internal/http/middlewarectx"
	"github.com/magabrotheeeer/autobill/internal/http/response"
	"github.com/magabrotheeeer/autobill/internal/lib/sl"
	"github.com/magabrotheeeer/autobill/internal/models"
)

// Handler отдаёт сводку использования.
type Handler struct {
	log     *slog.Logger
	service Service
}

// Service описывает расчёт сводки использования.
type Service interface {
	Summary(ctx context.Context, accountID string) (*models.UsageSummary, error)
}

// New создает новый Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Использование квоты
// @Description Тариф аккаунта и число счетов за текущие сутки и месяц (UTC). Безлимит отдаётся как null.
// @Tags Usage
// @Produce  json
// @Success 200 {object} models.UsageSummary
// @Failure 401 {object} response.ErrorResponse "Пользователь не авторизован"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Security BearerAuth
// @Router /usage [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.usage.summary"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	accountID, _, ok := middlewarectx.Account(r.Context())
	if !ok {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.Error("unauthorized"))
		return
	}

	summary, err := h.service.Summary(r.Context(), accountID)
	if err != nil {
		log.Error("failed to build usage summary", slog.String("account_id", accountID), sl.Err(err))
		response.RenderError(w, r, err)
		return
	}
	render.JSON(w, r, summary)
}
