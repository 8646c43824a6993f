package models

import (
	"errors"
	"fmt"
)

// Базовые ошибки ядра. Конкретные типы ниже сопоставляются с ними через errors.Is.
var (
	ErrQuotaExceeded          = errors.New("quota exceeded")
	ErrInvalidPayload         = errors.New("invalid payload")
	ErrDuplicateInvoiceNumber = errors.New("duplicate invoice number")
	ErrDispatchFailed         = errors.New("dispatch failed")
	ErrIllegalTransition      = errors.New("illegal status transition")
	ErrBadSignature           = errors.New("bad signature")
	ErrNotFound               = errors.New("not found")
	ErrConfiguration          = errors.New("configuration error")
)

// QuotaScope — окно, по которому сработал лимит.
type QuotaScope string

const (
	// ScopeDaily — дневная квота.
	ScopeDaily QuotaScope = "daily"
	// ScopeMonthly — месячная квота.
	ScopeMonthly QuotaScope = "monthly"
)

// QuotaExceededError возвращается контроллером допуска при исчерпанной квоте.
type QuotaExceededError struct {
	Scope QuotaScope
	Used  int
	Limit int
	Tier  Tier
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("%s %s limit reached (%d/%d)", e.Scope, ErrQuotaExceeded, e.Used, e.Limit)
}

// Is позволяет сравнивать с ErrQuotaExceeded.
func (e *QuotaExceededError) Is(target error) bool { return target == ErrQuotaExceeded }

// InvalidPayloadError описывает, что именно не так с запросом.
type InvalidPayloadError struct {
	Reason string
}

func (e *InvalidPayloadError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidPayload, e.Reason)
}

// Is позволяет сравнивать с ErrInvalidPayload.
func (e *InvalidPayloadError) Is(target error) bool { return target == ErrInvalidPayload }

// DuplicateInvoiceError называет конфликтующий номер счёта.
type DuplicateInvoiceError struct {
	InvoiceNumber string
}

func (e *DuplicateInvoiceError) Error() string {
	return fmt.Sprintf("%s: %q", ErrDuplicateInvoiceNumber, e.InvoiceNumber)
}

// Is позволяет сравнивать с ErrDuplicateInvoiceNumber.
func (e *DuplicateInvoiceError) Is(target error) bool { return target == ErrDuplicateInvoiceNumber }

// DispatchError — процессор недоступен или не вернул идентификатор задания.
// QuotaCharged сообщает, что использование уже списано и не откатывается.
type DispatchError struct {
	Reason       string
	StatusCode   int
	QuotaCharged bool
	Err          error
}

func (e *DispatchError) Error() string {
	msg := fmt.Sprintf("%s: %s", ErrDispatchFailed, e.Reason)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Is позволяет сравнивать с ErrDispatchFailed.
func (e *DispatchError) Is(target error) bool { return target == ErrDispatchFailed }

func (e *DispatchError) Unwrap() error { return e.Err }

// IllegalTransitionError — попытка сдвинуть статус задания назад.
type IllegalTransitionError struct {
	JobID string
	From  JobStatus
	To    JobStatus
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("%s for job %s: %s -> %s", ErrIllegalTransition, e.JobID, e.From, e.To)
}

// Is позволяет сравнивать с ErrIllegalTransition.
func (e *IllegalTransitionError) Is(target error) bool { return target == ErrIllegalTransition }
