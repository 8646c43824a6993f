// Package status реализует HTTP-обработчик запроса статуса задания.
package status

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/autobill/internal/http/middlewarectx"
	"github.com/magabrotheeeer/autobill/internal/http/response"
	"github.com/magabrotheeeer/autobill/internal/lib/sl"
	"github.com/magabrotheeeer/autobill/internal/models"
)

// Handler отдаёт статус задания владельцу.
type Handler struct {
	log     *slog.Logger
	service Service
}

// Service описывает чтение задания аккаунта.
type Service interface {
	GetOwned(ctx context.Context, accountID, jobID string) (*models.Job, error)
}

// Response — статус задания и ссылка на PDF, если он готов.
type Response struct {
	Status models.JobStatus `json:"status" example:"sent"`
	PDFURL *string          `json:"pdfUrl" example:"https://cdn.example.com/invoice.pdf"`
}

// New создает новый Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

// ServeHTTP godoc
// @Summary Статус задания
// @Description Возвращает статус задания генерации счёта. Неизвестное задание отдаётся как 404, клиент считает его ещё стоящим в очереди.
// @Tags Jobs
// @Produce  json
// @Param id path string true "Идентификатор задания"
// @Success 200 {object} Response
// @Failure 401 {object} response.ErrorResponse "Пользователь не авторизован"
// @Failure 404 {object} response.ErrorResponse "Задание не найдено"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Security BearerAuth
// @Router /jobs/{id} [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.job.status"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	accountID, _, ok := middlewarectx.Account(r.Context())
	if !ok {
		log.Error("account id missing in context")
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.Error("unauthorized"))
		return
	}

	jobID := strings.TrimSpace(chi.URLParam(r, "id"))
	if jobID == "" {
		response.RenderError(w, r, &models.InvalidPayloadError{Reason: "job id is required"})
		return
	}

	job, err := h.service.GetOwned(r.Context(), accountID, jobID)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			log.Error("failed to read job", slog.String("job_id", jobID), sl.Err(err))
		}
		response.RenderError(w, r, err)
		return
	}

	render.JSON(w, r, Response{Status: job.Status, PDFURL: job.PDFURL})
}
