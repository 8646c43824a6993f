// Package submit реализует HTTP-обработчик приёма счёта на генерацию.
//
// Handler разбирает JSON счёта, берёт идентификатор аккаунта из контекста,
// вызывает сервис приёма и возвращает идентификатор задания процессора.
// Ошибки ядра сопоставляются с HTTP-статусами: 400, 409, 429, 502.
package submit

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

const maxBodyBytes = 1 << 20

// Handler принимает счета.
type Handler struct {
	log     *slog.Logger // Логгер для записи информации и ошибок
	service Service      // Сервис приёма счетов
}

// Service описывает интерфейс бизнес-логики приёма счёта.
type Service interface {
	Submit(ctx context.Context, accountID, email string, req *models.InvoiceRequest) (*models.Job, error)
}

// Response — тело успешного ответа.
type Response struct {
	JobID string `json:"jobId" example:"job_01HZX"`
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

// ServeHTTP godoc
// @Summary Отправить счёт на генерацию
// @Description Проверяет квоту тарифа и отправляет счёт процессору. Возвращает идентификатор задания.
// @Tags Invoices
// @Accept  json
// @Produce  json
// @Param request body models.InvoiceRequest true "Данные счёта"
// @Success 200 {object} Response "Задание создано"
// @Failure 400 {object} response.ErrorResponse "Некорректный счёт"
// @Failure 401 {object} response.ErrorResponse "Пользователь не авторизован"
// @Failure 409 {object} response.ErrorResponse "Номер счёта уже использован"
// @Failure 429 {object} response.ErrorResponse "Исчерпана дневная или месячная квота"
// @Failure 502 {object} response.ErrorResponse "Процессор недоступен, квота списана"
// @Security BearerAuth
// @Router /invoices [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.invoice.submit"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	accountID, email, ok := middlewarectx.Account(r.Context())
	if !ok {
		log.Error("account id missing in context")
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.Error("unauthorized"))
		return
	}
	log = log.With(slog.String("account_id", accountID))

	var req models.InvoiceRequest
	if err := render.DecodeJSON(http.MaxBytesReader(w, r.Body, maxBodyBytes), &req); err != nil {
		log.Warn("failed to decode request", sl.Err(err))
		response.RenderError(w, r, &models.InvalidPayloadError{Reason: "invalid request body"})
		return
	}

	job, err := h.service.Submit(r.Context(), accountID, email, &req)
	if err != nil {
		if status := response.RenderError(w, r, err); status >= http.StatusInternalServerError {
			log.Error("failed to submit invoice", sl.Err(err))
		} else {
			log.Warn("invoice rejected", slog.Int("status", status), sl.Err(err))
		}
		return
	}

	log.Info("invoice accepted", slog.String("job_id", job.JobID))
	render.JSON(w, r, Response{JobID: job.JobID})
}
