package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/magabrotheeeer/autobill/internal/models"
)

// InvoiceExists сообщает, есть ли у аккаунта счёт с таким номером.
func (s *Storage) InvoiceExists(ctx context.Context, accountID, invoiceNumber string) (bool, error) {
	const op = "storage.InvoiceExists"
	if err := checkCtx(ctx, op); err != nil {
		return false, err
	}

	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM invoices WHERE account_id = $1 AND invoice_number = $2)`
	if err := s.DB.QueryRowContext(ctx, query, accountID, invoiceNumber).Scan(&exists); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return exists, nil
}

// ReserveInvoice вставляет запись счёта без задания. Уникальность номера
// в пределах аккаунта обеспечивает ограничение базы; конфликт возвращается
// как *models.DuplicateInvoiceError.
func (s *Storage) ReserveInvoice(ctx context.Context, rec models.InvoiceRecord) error {
	const op = "storage.ReserveInvoice"
	if err := checkCtx(ctx, op); err != nil {
		return err
	}

	query := `INSERT INTO invoices (account_id, invoice_number, customer_email, total_cents, created_at)
			  VALUES ($1, $2, $3, $4, $5)`
	_, err := s.DB.ExecContext(ctx, query,
		rec.AccountID, rec.InvoiceNumber, rec.CustomerEmail, rec.TotalCents, rec.CreatedAt.UTC())
	if isUniqueViolation(err) {
		return fmt.Errorf("%s: %w", op, &models.DuplicateInvoiceError{InvoiceNumber: rec.InvoiceNumber})
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ReleaseInvoice удаляет резерв номера, если к нему ещё не привязано задание.
func (s *Storage) ReleaseInvoice(ctx context.Context, accountID, invoiceNumber string) error {
	const op = "storage.ReleaseInvoice"

	query := `DELETE FROM invoices WHERE account_id = $1 AND invoice_number = $2 AND job_id IS NULL`
	if _, err := s.DB.ExecContext(ctx, query, accountID, invoiceNumber); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// AttachInvoiceJob связывает зарезервированный счёт с заданием процессора.
func (s *Storage) AttachInvoiceJob(ctx context.Context, accountID, invoiceNumber, jobID string) error {
	const op = "storage.AttachInvoiceJob"
	if err := checkCtx(ctx, op); err != nil {
		return err
	}

	query := `UPDATE invoices SET job_id = $3 WHERE account_id = $1 AND invoice_number = $2`
	res, err := s.DB.ExecContext(ctx, query, accountID, invoiceNumber, jobID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: invoice %s: %w", op, invoiceNumber, models.ErrNotFound)
	}
	return nil
}

// ListInvoices возвращает счета аккаунта, новые первыми. pdf_url берётся из задания.
func (s *Storage) ListInvoices(ctx context.Context, accountID string, limit, offset int) ([]*models.InvoiceRecord, error) {
	const op = "storage.ListInvoices"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	query := `SELECT i.invoice_number, i.account_id, i.customer_email, i.total_cents,
			      i.job_id, j.pdf_url, i.created_at
			  FROM invoices i
			  LEFT JOIN jobs j ON j.job_id = i.job_id
			  WHERE i.account_id = $1
			  ORDER BY i.created_at DESC, i.id DESC
			  LIMIT $2 OFFSET $3`
	rows, err := s.DB.QueryContext(ctx, query, accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	result := make([]*models.InvoiceRecord, 0)
	for rows.Next() {
		var (
			rec    models.InvoiceRecord
			jobID  sql.NullString
			pdfURL sql.NullString
		)
		if err := rows.Scan(&rec.InvoiceNumber, &rec.AccountID, &rec.CustomerEmail, &rec.TotalCents,
			&jobID, &pdfURL, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		rec.JobID = stringPtr(jobID)
		rec.PDFURL = stringPtr(pdfURL)
		rec.Total = float64(rec.TotalCents) / 100
		result = append(result, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}
