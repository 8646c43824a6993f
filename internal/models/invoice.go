package models

import (
	"encoding/json"
	"math"
	"strings"
	"time"
)

// Party описывает продавца или покупателя на счёте.
type Party struct {
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Address string `json:"address,omitempty"`
	VATID   string `json:"vatId,omitempty"`
}

// LineItem — позиция счёта.
type LineItem struct {
	Description string   `json:"description" validate:"required"`
	Quantity    float64  `json:"quantity" validate:"gt=0"`
	UnitPrice   float64  `json:"unitPrice" validate:"gte=0"`
	VATRate     *float64 `json:"vatRate,omitempty" validate:"omitempty,gte=0,lte=100"`
}

// UnmarshalJSON принимает также короткие имена полей qty и price,
// которые присылают старые версии формы.
func (li *LineItem) UnmarshalJSON(data []byte) error {
	type plain LineItem
	var aux struct {
		plain
		Qty   *float64 `json:"qty"`
		Price *float64 `json:"price"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*li = LineItem(aux.plain)
	if li.Quantity == 0 && aux.Qty != nil {
		li.Quantity = *aux.Qty
	}
	if li.UnitPrice == 0 && aux.Price != nil {
		li.UnitPrice = *aux.Price
	}
	return nil
}

// Totals — итоговые суммы, посчитанные клиентом.
type Totals struct {
	Subtotal float64 `json:"subtotal,omitempty"`
	VAT      float64 `json:"vat,omitempty"`
	Total    float64 `json:"total,omitempty"`
	Currency string  `json:"currency,omitempty"`
}

// InvoiceMeta — дополнительные поля счёта; номер может прийти и здесь.
type InvoiceMeta struct {
	InvoiceNumber string `json:"invoiceNumber,omitempty"`
	IssueDate     string `json:"issueDate,omitempty"`
	DueDate       string `json:"dueDate,omitempty"`
	Notes         string `json:"notes,omitempty"`
}

// InvoiceRequest принимается от UI при отправке счёта.
type InvoiceRequest struct {
	Business      Party       `json:"business"`
	Customer      Party       `json:"customer"`
	CustomerEmail string      `json:"customerEmail" validate:"required,email"`
	Items         []LineItem  `json:"items" validate:"required,min=1,dive"`
	VATRate       *float64    `json:"vatRate,omitempty" validate:"omitempty,gte=0,lte=100"`
	Totals        Totals      `json:"totals"`
	InvoiceNumber string      `json:"invoiceNumber" validate:"required,max=64"`
	Meta          InvoiceMeta `json:"meta"`
}

// Normalize заполняет поля, которые клиент может прислать в альтернативном месте:
// email покупателя из customer.email и номер счёта из meta.invoiceNumber.
func (r *InvoiceRequest) Normalize() {
	r.CustomerEmail = strings.TrimSpace(r.CustomerEmail)
	if r.CustomerEmail == "" {
		r.CustomerEmail = strings.TrimSpace(r.Customer.Email)
	}
	r.InvoiceNumber = strings.TrimSpace(r.InvoiceNumber)
	if r.InvoiceNumber == "" {
		r.InvoiceNumber = strings.TrimSpace(r.Meta.InvoiceNumber)
	}
	r.Meta.InvoiceNumber = r.InvoiceNumber
	for i := range r.Items {
		r.Items[i].Description = strings.TrimSpace(r.Items[i].Description)
	}
}

// TotalCents возвращает итог счёта в минимальных единицах валюты.
// Если клиент прислал totals.total, используется он; иначе сумма считается по позициям.
func (r *InvoiceRequest) TotalCents() int64 {
	if r.Totals.Total > 0 {
		return int64(math.Round(r.Totals.Total * 100))
	}
	var total float64
	for _, it := range r.Items {
		rate := 0.0
		switch {
		case it.VATRate != nil:
			rate = *it.VATRate
		case r.VATRate != nil:
			rate = *r.VATRate
		}
		total += it.Quantity * it.UnitPrice * (1 + rate/100)
	}
	return int64(math.Round(total * 100))
}

// DispatchInvoice — тело счёта, уходящее процессору вместе с контекстом аккаунта.
type DispatchInvoice struct {
	Business      Party       `json:"business"`
	Customer      Party       `json:"customer"`
	CustomerEmail string      `json:"customerEmail"`
	Items         []LineItem  `json:"items"`
	VATRate       *float64    `json:"vatRate,omitempty"`
	Totals        Totals      `json:"totals"`
	Meta          InvoiceMeta `json:"meta"`
	UserID        string      `json:"userId"`
	Tier          Tier        `json:"tier"`
}

// DispatchEnvelope — канонический конверт запроса к процессору.
type DispatchEnvelope struct {
	SubmissionID string          `json:"submissionId"`
	Invoice      DispatchInvoice `json:"invoice"`
}

// InvoiceRecord — сохранённая запись отправленного счёта.
type InvoiceRecord struct {
	InvoiceNumber string    `json:"id"`
	AccountID     string    `json:"-"`
	CustomerEmail string    `json:"email"`
	TotalCents    int64     `json:"-"`
	Total         float64   `json:"total"`
	JobID         *string   `json:"job_id,omitempty"`
	PDFURL        *string   `json:"pdf_url"`
	CreatedAt     time.Time `json:"created_at"`
}
