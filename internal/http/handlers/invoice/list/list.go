// Package list отдаёт историю отправленных счетов аккаунта.
package list

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/autobill/internal/http/middlewarectx"
	"github.com/magabrotheeeer/autobill/internal/http/response"
	"github.com/magabrotheeeer/autobill/internal/lib/sl"
	"github.com/magabrotheeeer/autobill/internal/models"
)

// Handler обрабатывает запросы на список счетов.
type Handler struct {
	log     *slog.Logger // Логгер для записи информации и ошибок
	service Service      // Сервис бизнес-логики для получения списка счетов
}

// Service описывает интерфейс получения счетов аккаунта.
type Service interface {
	List(ctx context.Context, accountID string, limit, offset int) ([]*models.InvoiceRecord, error)
}

// New создает новый Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

// ServeHTTP godoc
// @Summary Список счетов
// @Description Счета аккаунта, новые первыми.
// @Tags Invoices
// @Produce  json
// @Param limit query int false "Количество записей (по умолчанию 50, максимум 100)"
// @Param offset query int false "Смещение"
// @Success 200 {object} response.Response{data=[]models.InvoiceRecord}
// @Failure 400 {object} response.ErrorResponse "Некорректные параметры"
// @Failure 401 {object} response.ErrorResponse "Пользователь не авторизован"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Security BearerAuth
// @Router /invoices [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.invoice.list"
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

	limit, err := intParam(r, "limit")
	if err != nil {
		response.RenderError(w, r, &models.InvalidPayloadError{Reason: "limit must be a number"})
		return
	}
	offset, err := intParam(r, "offset")
	if err != nil {
		response.RenderError(w, r, &models.InvalidPayloadError{Reason: "offset must be a number"})
		return
	}

	invoices, err := h.service.List(r.Context(), accountID, limit, offset)
	if err != nil {
		log.Error("failed to list invoices", sl.Err(err))
		response.RenderError(w, r, err)
		return
	}
	if invoices == nil {
		invoices = []*models.InvoiceRecord{}
	}

	log.Debug("invoices listed", slog.Int("count", len(invoices)))
	render.JSON(w, r, response.StatusOKWithData(invoices))
}

func intParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
