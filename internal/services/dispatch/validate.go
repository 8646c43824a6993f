package dispatch

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/autobill/internal/models"
)

// Validator проверяет форму запроса на счёт.
type Validator struct {
	validate *validator.Validate
}

// NewValidator создаёт проверку запросов на основе тегов validate.
func NewValidator() *Validator {
	return &Validator{validate: validator.New()}
}

// Validate нормализует запрос и возвращает InvalidPayloadError, если не хватает
// покупателя, позиций или номера счёта либо поля заполнены неверно.
func (v *Validator) Validate(req *models.InvoiceRequest) error {
	if req == nil {
		return &models.InvalidPayloadError{Reason: "empty request"}
	}
	req.Normalize()

	err := v.validate.Struct(req)
	if err == nil {
		return nil
	}
	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		return &models.InvalidPayloadError{Reason: err.Error()}
	}
	return &models.InvalidPayloadError{Reason: validationMessage(errs)}
}

func validationMessage(errs validator.ValidationErrors) string {
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		field := fieldPath(err.Namespace())
		switch err.ActualTag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("field %s is a required field", field))
		case "email":
			msgs = append(msgs, fmt.Sprintf("field %s must be a valid email", field))
		case "min":
			msgs = append(msgs, fmt.Sprintf("field %s must contain at least %s element(s)", field, err.Param()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("field %s must be at most %s characters", field, err.Param()))
		case "gt":
			msgs = append(msgs, fmt.Sprintf("field %s must be greater than %s", field, err.Param()))
		case "gte", "lte":
			msgs = append(msgs, fmt.Sprintf("field %s is out of range", field))
		default:
			msgs = append(msgs, fmt.Sprintf("field %s is not valid", field))
		}
	}
	return strings.Join(msgs, ", ")
}

// fieldPath превращает "InvoiceRequest.Items[0].Quantity" в "items[0].quantity".
func fieldPath(namespace string) string {
	_, rest, found := strings.Cut(namespace, ".")
	if !found {
		rest = namespace
	}
	parts := strings.Split(rest, ".")
	for i, p := range parts {
		if p != "" {
			parts[i] = strings.ToLower(p[:1]) + p[1:]
		}
	}
	return strings.Join(parts, ".")
}
