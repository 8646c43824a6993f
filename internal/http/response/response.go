// Package response содержит вспомогательные типы и функции для формирования
// унифицированных JSON‑ответов HTTP‑обработчиков и сопоставления ошибок
// ядра с HTTP‑статусами.
package response

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"

	"github.com/magabrotheeeer/autobill/internal/models"
)

// Response описывает стандартную структуру JSON‑ответа сервера.
// Поле Status — статус запроса ("OK" или "Error").
// Поле Error — текст ошибки (опционально, при неуспехе).
// Поле Data — данные ответа (опционально, при успехе).
type Response struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// ErrorResponse — тело ответа с ошибкой.
// Code — машинно‑читаемый код ошибки, по нему UI выбирает сообщение.
type ErrorResponse struct {
	Status        string `json:"status" example:"Error"`
	Error         string `json:"error" example:"invalid request body"`
	Code          string `json:"code,omitempty" example:"quota_exceeded"`
	Scope         string `json:"scope,omitempty" example:"daily"`
	InvoiceNumber string `json:"invoiceNumber,omitempty" example:"INV-001"`
	QuotaCharged  bool   `json:"quota_charged,omitempty"`
}

const (
	// StatusOK — значение статуса для успешного ответа.
	StatusOK = "OK"
	// StatusError — значение статуса для ответа с ошибкой.
	StatusError = "Error"
)

// Коды ошибок в теле ответа.
const (
	CodeQuotaExceeded     = "quota_exceeded"
	CodeInvalidPayload    = "invalid_payload"
	CodeDuplicateInvoice  = "duplicate_invoice_number"
	CodeDispatchFailed    = "dispatch_failed"
	CodeIllegalTransition = "illegal_transition"
	CodeBadSignature      = "bad_signature"
	CodeNotFound          = "not_found"
	CodeInternal          = "internal"
)

// StatusOKWithData возвращает успешный Response с переданными данными.
func StatusOKWithData(data any) Response {
	return Response{
		Status: StatusOK,
		Data:   data,
	}
}

// Error возвращает Response с ошибкой и переданным сообщением.
func Error(msg string) ErrorResponse {
	return ErrorResponse{
		Status: StatusError,
		Error:  msg,
	}
}

// FromError сопоставляет ошибку ядра с HTTP‑статусом и телом ответа.
// Неизвестные ошибки превращаются в 500 без подробностей.
func FromError(err error) (int, ErrorResponse) {
	var (
		qe  *models.QuotaExceededError
		ipe *models.InvalidPayloadError
		die *models.DuplicateInvoiceError
		de  *models.DispatchError
	)
	switch {
	case errors.As(err, &qe):
		resp := Error("You have reached your " + string(qe.Scope) + " invoice limit. Upgrade your plan to send more invoices.")
		resp.Code = CodeQuotaExceeded
		resp.Scope = string(qe.Scope)
		return http.StatusTooManyRequests, resp
	case errors.As(err, &ipe):
		resp := Error(ipe.Reason)
		resp.Code = CodeInvalidPayload
		return http.StatusBadRequest, resp
	case errors.As(err, &die):
		resp := Error("Invoice number " + die.InvoiceNumber + " already exists.")
		resp.Code = CodeDuplicateInvoice
		resp.InvoiceNumber = die.InvoiceNumber
		return http.StatusConflict, resp
	case errors.As(err, &de):
		msg := "Failed to send invoice to the processor. Please try again."
		if de.QuotaCharged {
			msg = "Your request was charged against your quota but could not be sent. Please contact support."
		}
		resp := Error(msg)
		resp.Code = CodeDispatchFailed
		resp.QuotaCharged = de.QuotaCharged
		return http.StatusBadGateway, resp
	case errors.Is(err, models.ErrIllegalTransition):
		resp := Error("status transition is not allowed")
		resp.Code = CodeIllegalTransition
		return http.StatusConflict, resp
	case errors.Is(err, models.ErrBadSignature):
		resp := Error("invalid signature")
		resp.Code = CodeBadSignature
		return http.StatusUnauthorized, resp
	case errors.Is(err, models.ErrNotFound):
		resp := Error("not found")
		resp.Code = CodeNotFound
		return http.StatusNotFound, resp
	}
	resp := Error("internal server error")
	resp.Code = CodeInternal
	return http.StatusInternalServerError, resp
}

// RenderError пишет ответ для ошибки ядра и возвращает выбранный HTTP‑статус.
func RenderError(w http.ResponseWriter, r *http.Request, err error) int {
	status, resp := FromError(err)
	render.Status(r, status)
	render.JSON(w, r, resp)
	return status
}
