// Package invoice связывает этапы приёма счёта: проверку запроса, проверку
// номера, допуск по квоте и подписанную отправку процессору.
package invoice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/magabrotheeeer/autobill/internal/models"
	"github.com/magabrotheeeer/autobill/internal/services/admission"
)

// Accounts создаёт аккаунт при первом обращении.
type Accounts interface {
	EnsureAccount(ctx context.Context, accountID, email string) error
}

// Admitter списывает квоту.
type Admitter interface {
	Admit(ctx context.Context, accountID string) (*admission.Decision, error)
}

// Dispatcher проверяет и отправляет счёт процессору.
type Dispatcher interface {
	Validate(req *models.InvoiceRequest) error
	CheckDuplicate(ctx context.Context, accountID, invoiceNumber string) error
	Dispatch(ctx context.Context, accountID string, tier models.Tier, req *models.InvoiceRequest) (*models.Job, error)
}

// JobAcknowledger получает задание сразу после подтверждения процессора.
type JobAcknowledger interface {
	Acknowledge(ctx context.Context, job *models.Job)
}

// Lister читает историю счетов.
type Lister interface {
	ListInvoices(ctx context.Context, accountID string, limit, offset int) ([]*models.InvoiceRecord, error)
}

// Service принимает счета от аккаунтов.
type Service struct {
	accounts   Accounts
	admitter   Admitter
	dispatcher Dispatcher
	jobs       JobAcknowledger
	invoices   Lister
	log        *slog.Logger
}

// New создаёт сервис приёма счетов.
func New(accounts Accounts, admitter Admitter, dispatcher Dispatcher, jobs JobAcknowledger, invoices Lister, log *slog.Logger) *Service {
	return &Service{
		accounts:   accounts,
		admitter:   admitter,
		dispatcher: dispatcher,
		jobs:       jobs,
		invoices:   invoices,
		log:        log,
	}
}

// Submit принимает счёт. Некорректный запрос и повтор номера отклоняются до
// списания квоты. После допуска квота не возвращается: ошибка отправки
// приходит как DispatchError с QuotaCharged.
func (s *Service) Submit(ctx context.Context, accountID, email string, req *models.InvoiceRequest) (*models.Job, error) {
	const op = "invoice.Submit"
	log := s.log.With(slog.String("op", op), slog.String("account_id", accountID))

	if err := s.accounts.EnsureAccount(ctx, accountID, email); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := s.dispatcher.Validate(req); err != nil {
		return nil, err
	}
	if err := s.dispatcher.CheckDuplicate(ctx, accountID, req.InvoiceNumber); err != nil {
		return nil, err
	}

	decision, err := s.admitter.Admit(ctx, accountID)
	if err != nil {
		return nil, err
	}

	job, err := s.dispatcher.Dispatch(ctx, accountID, decision.Tier, req)
	var de *models.DispatchError
	if errors.As(err, &de) {
		de.QuotaCharged = true
		log.Warn("quota charged but dispatch failed",
			slog.String("usage_event_id", decision.UsageEventID),
			slog.String("invoice_number", req.InvoiceNumber))
		return nil, de
	}
	if err != nil {
		return nil, err
	}

	s.jobs.Acknowledge(ctx, job)
	log.Info("invoice submitted", slog.String("job_id", job.JobID), slog.String("tier", string(decision.Tier)))
	return job, nil
}

// List возвращает счета аккаунта, новые первыми.
func (s *Service) List(ctx context.Context, accountID string, limit, offset int) ([]*models.InvoiceRecord, error) {
	const op = "invoice.List"
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	list, err := s.invoices.ListInvoices(ctx, accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return list, nil
}
