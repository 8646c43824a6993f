package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/magabrotheeeer/autobill/internal/models"
)

const jobColumns = `job_id, account_id, status, pdf_url, created_at, updated_at`

func scanJob(row interface{ Scan(...any) error }) (*models.Job, error) {
	var (
		j         models.Job
		accountID sql.NullString
		status    string
		pdfURL    sql.NullString
	)
	if err := row.Scan(&j.JobID, &accountID, &status, &pdfURL, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	j.AccountID = stringPtr(accountID)
	j.Status = models.JobStatus(status)
	j.PDFURL = stringPtr(pdfURL)
	return &j, nil
}

// CreateJob создаёт задание в статусе queued для аккаунта. Если callback уже
// создал строку без владельца, проставляется только владелец: статус не откатывается.
func (s *Storage) CreateJob(ctx context.Context, jobID, accountID string) (*models.Job, error) {
	const op = "storage.CreateJob"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	query := `INSERT INTO jobs (job_id, account_id, status)
			  VALUES ($1, $2, 'queued')
			  ON CONFLICT (job_id) DO UPDATE
			  SET account_id = COALESCE(jobs.account_id, EXCLUDED.account_id)
			  RETURNING ` + jobColumns
	j, err := scanJob(s.DB.QueryRowContext(ctx, query, jobID, accountID))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return j, nil
}

// GetJob возвращает задание или models.ErrNotFound.
func (s *Storage) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	const op = "storage.GetJob"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	j, err := scanJob(s.DB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE job_id = $1`, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: job %s: %w", op, jobID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return j, nil
}

// InsertJobIfAbsent создаёт задание без владельца с заданным статусом.
// Возвращает false, если задание уже существует.
func (s *Storage) InsertJobIfAbsent(ctx context.Context, jobID string, status models.JobStatus, pdfURL *string) (bool, error) {
	const op = "storage.InsertJobIfAbsent"
	if err := checkCtx(ctx, op); err != nil {
		return false, err
	}

	query := `INSERT INTO jobs (job_id, status, pdf_url)
			  VALUES ($1, $2, $3)
			  ON CONFLICT (job_id) DO NOTHING`
	res, err := s.DB.ExecContext(ctx, query, jobID, string(status), nullString(pdfURL))
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return n == 1, nil
}

// CompareAndSetJobStatus меняет статус, только если текущий равен expected.
// Возвращает false, если строку успел изменить другой писатель.
func (s *Storage) CompareAndSetJobStatus(ctx context.Context, jobID string, expected, next models.JobStatus, pdfURL *string) (bool, error) {
	const op = "storage.CompareAndSetJobStatus"
	if err := checkCtx(ctx, op); err != nil {
		return false, err
	}

	query := `UPDATE jobs
			  SET status = $3, pdf_url = $4, updated_at = NOW()
			  WHERE job_id = $1 AND status = $2`
	res, err := s.DB.ExecContext(ctx, query, jobID, string(expected), string(next), nullString(pdfURL))
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return n == 1, nil
}
