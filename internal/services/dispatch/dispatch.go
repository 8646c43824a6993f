// Package dispatch отправляет подписанный счёт внешнему процессору.
//
// Dispatcher проверяет запрос, резервирует номер счёта, сериализует конверт
// в канонические байты, подписывает именно их и отправляет процессору.
// После подтверждения создаётся задание в состоянии queued и запись счёта
// связывается с ним. При ошибке отправки резерв номера снимается.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/autobill/internal/lib/clock"
	"github.com/magabrotheeeer/autobill/internal/lib/retry"
	"github.com/magabrotheeeer/autobill/internal/lib/sl"
	"github.com/magabrotheeeer/autobill/internal/metrics"
	"github.com/magabrotheeeer/autobill/internal/models"
	"github.com/magabrotheeeer/autobill/internal/processor"
)

// Repository хранит записи счетов и задания.
type Repository interface {
	InvoiceExists(ctx context.Context, accountID, invoiceNumber string) (bool, error)
	ReserveInvoice(ctx context.Context, rec models.InvoiceRecord) error
	ReleaseInvoice(ctx context.Context, accountID, invoiceNumber string) error
	AttachInvoiceJob(ctx context.Context, accountID, invoiceNumber, jobID string) error
	CreateJob(ctx context.Context, jobID, accountID string) (*models.Job, error)
}

// Processor отправляет подписанные байты процессору.
type Processor interface {
	Send(ctx context.Context, body []byte) (*processor.Ack, error)
}

// Dispatcher — подписанная отправка заданий.
type Dispatcher struct {
	repo      Repository
	processor Processor
	validator *Validator
	clock     clock.Clock
	policy    retry.Policy
	metrics   *metrics.Metrics
	log       *slog.Logger
	newID     func() string
}

// New создаёт Dispatcher.
func New(repo Repository, proc Processor, clk clock.Clock, policy retry.Policy, m *metrics.Metrics, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		repo:      repo,
		processor: proc,
		validator: NewValidator(),
		clock:     clk,
		policy:    policy,
		metrics:   m,
		log:       log,
		newID:     uuid.NewString,
	}
}

// Validate нормализует и проверяет запрос.
func (d *Dispatcher) Validate(req *models.InvoiceRequest) error {
	return d.validator.Validate(req)
}

// CheckDuplicate возвращает DuplicateInvoiceError, если у аккаунта уже есть счёт с таким номером.
func (d *Dispatcher) CheckDuplicate(ctx context.Context, accountID, invoiceNumber string) error {
	const op = "dispatch.CheckDuplicate"
	exists, err := retry.DoValue(ctx, d.policy, func(ctx context.Context) (bool, error) {
		ok, err := d.repo.InvoiceExists(ctx, accountID, invoiceNumber)
		return ok, retry.PermanentIf(err)
	}, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if exists {
		return &models.DuplicateInvoiceError{InvoiceNumber: invoiceNumber}
	}
	return nil
}

// Envelope строит канонический конверт для процессора.
func Envelope(submissionID, accountID string, tier models.Tier, req *models.InvoiceRequest) models.DispatchEnvelope {
	return models.DispatchEnvelope{
		SubmissionID: submissionID,
		Invoice: models.DispatchInvoice{
			Business:      req.Business,
			Customer:      req.Customer,
			CustomerEmail: req.CustomerEmail,
			Items:         req.Items,
			VATRate:       req.VATRate,
			Totals:        req.Totals,
			Meta:          req.Meta,
			UserID:        accountID,
			Tier:          tier,
		},
	}
}

// Dispatch отправляет счёт процессору и создаёт задание в состоянии queued.
// Ошибки сети, ответ вне 2xx и подтверждение без идентификатора задания
// возвращаются как DispatchError; задание в этом случае не создаётся.
func (d *Dispatcher) Dispatch(ctx context.Context, accountID string, tier models.Tier, req *models.InvoiceRequest) (*models.Job, error) {
	const op = "dispatch.Dispatch"
	log := d.log.With(slog.String("op", op), slog.String("account_id", accountID))

	if err := d.validator.Validate(req); err != nil {
		d.metrics.Dispatch(metrics.DispatchInvalid, 0)
		return nil, err
	}

	rec := models.InvoiceRecord{
		InvoiceNumber: req.InvoiceNumber,
		AccountID:     accountID,
		CustomerEmail: req.CustomerEmail,
		TotalCents:    req.TotalCents(),
		CreatedAt:     d.clock.Now(),
	}
	err := retry.Do(ctx, d.policy, func(ctx context.Context) error {
		return retry.PermanentIf(d.repo.ReserveInvoice(ctx, rec), models.ErrDuplicateInvoiceNumber)
	}, nil)
	if errors.Is(err, models.ErrDuplicateInvoiceNumber) {
		d.metrics.Dispatch(metrics.DispatchDuplicate, 0)
		log.Info("duplicate invoice number", slog.String("invoice_number", req.InvoiceNumber))
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%s: reserve invoice: %w", op, err)
	}

	submissionID := d.newID()
	body, err := json.Marshal(Envelope(submissionID, accountID, tier, req))
	if err != nil {
		d.release(ctx, log, accountID, req.InvoiceNumber)
		return nil, fmt.Errorf("%s: marshal envelope: %w", op, err)
	}

	start := time.Now()
	ack, err := d.processor.Send(ctx, body)
	took := time.Since(start)
	if err != nil {
		d.metrics.Dispatch(metrics.DispatchFailed, took)
		d.release(ctx, log, accountID, req.InvoiceNumber)
		dErr := dispatchError(err)
		log.Error("dispatch failed",
			slog.String("submission_id", submissionID),
			slog.Int("status_code", dErr.StatusCode),
			sl.Err(err))
		return nil, dErr
	}
	d.metrics.Dispatch(metrics.DispatchOK, took)

	job, err := retry.DoValue(ctx, d.policy, func(ctx context.Context) (*models.Job, error) {
		j, err := d.repo.CreateJob(ctx, ack.JobID, accountID)
		return j, retry.PermanentIf(err)
	}, nil)
	if err != nil {
		log.Error("processor accepted job but it could not be stored",
			slog.String("job_id", ack.JobID), sl.Err(err))
		return nil, fmt.Errorf("%s: create job: %w", op, err)
	}
	err = retry.Do(ctx, d.policy, func(ctx context.Context) error {
		return retry.PermanentIf(d.repo.AttachInvoiceJob(ctx, accountID, req.InvoiceNumber, ack.JobID), models.ErrNotFound)
	}, nil)
	if err != nil {
		log.Error("failed to link invoice to job", slog.String("job_id", ack.JobID), sl.Err(err))
	}

	log.Info("job dispatched",
		slog.String("job_id", job.JobID),
		slog.String("submission_id", submissionID),
		slog.Duration("took", took))
	return job, nil
}

func (d *Dispatcher) release(ctx context.Context, log *slog.Logger, accountID, invoiceNumber string) {
	// Резерв снимается даже если контекст запроса уже отменён.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := d.repo.ReleaseInvoice(ctx, accountID, invoiceNumber); err != nil {
		log.Error("failed to release invoice number", slog.String("invoice_number", invoiceNumber), sl.Err(err))
	}
}

func dispatchError(err error) *models.DispatchError {
	var se *processor.StatusError
	var ne net.Error
	switch {
	case errors.As(err, &se):
		return &models.DispatchError{Reason: "processor rejected the job", StatusCode: se.Code, Err: err}
	case errors.Is(err, processor.ErrNoJobID):
		return &models.DispatchError{Reason: "processor returned no job id", Err: err}
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &ne) && ne.Timeout():
		return &models.DispatchError{Reason: "processor timed out", Err: err}
	default:
		return &models.DispatchError{Reason: "processor unreachable", Err: err}
	}
}
