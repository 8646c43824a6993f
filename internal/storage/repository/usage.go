package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RecordUsage добавляет событие использования и возвращает его идентификатор.
func (s *Storage) RecordUsage(ctx context.Context, accountID string, at time.Time) (string, error) {
	const op = "storage.RecordUsage"
	if err := checkCtx(ctx, op); err != nil {
		return "", err
	}

	id := uuid.NewString()
	query := `INSERT INTO usage_events (id, account_id, created_at) VALUES ($1, $2, $3)`
	if _, err := s.DB.ExecContext(ctx, query, id, accountID, at.UTC()); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return id, nil
}

// CountUsage возвращает число событий аккаунта с created_at >= since.
func (s *Storage) CountUsage(ctx context.Context, accountID string, since time.Time) (int, error) {
	const op = "storage.CountUsage"
	if err := checkCtx(ctx, op); err != nil {
		return 0, err
	}

	var n int
	query := `SELECT COUNT(*) FROM usage_events WHERE account_id = $1 AND created_at >= $2`
	if err := s.DB.QueryRowContext(ctx, query, accountID, since.UTC()).Scan(&n); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

// ErrCommitUnknown — коммит допуска вернул ошибку, и неизвестно, записано ли
// событие. Повторять такой вызов нельзя: аккаунт может быть списан дважды.
var ErrCommitUnknown = errors.New("usage commit outcome unknown")

// AdmitFunc получает число событий за сутки и за месяц и решает, допускать ли запрос.
// Ненулевая ошибка отменяет запись события и возвращается вызывающему как есть.
type AdmitFunc func(daily, monthly int) error

// AdmitUsage под транзакционной advisory-блокировкой аккаунта считает события
// с начала суток и месяца, вызывает decide и при согласии записывает событие.
// Конкурентные вызовы для одного аккаунта выполняются строго по очереди.
func (s *Storage) AdmitUsage(ctx context.Context, accountID string, at, dayStart, monthStart time.Time, decide AdmitFunc) (string, error) {
	const op = "storage.AdmitUsage"
	if err := checkCtx(ctx, op); err != nil {
		return "", err
	}

	tx, err := s.DB.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, accountID); err != nil {
		return "", fmt.Errorf("%s: lock: %w", op, err)
	}

	var daily, monthly int
	countQuery := `SELECT
			  COUNT(*) FILTER (WHERE created_at >= $2),
			  COUNT(*) FILTER (WHERE created_at >= $3)
			  FROM usage_events
			  WHERE account_id = $1 AND created_at >= LEAST($2::timestamptz, $3::timestamptz)`
	if err := tx.QueryRowContext(ctx, countQuery, accountID, dayStart.UTC(), monthStart.UTC()).
		Scan(&daily, &monthly); err != nil {
		return "", fmt.Errorf("%s: count: %w", op, err)
	}

	if err := decide(daily, monthly); err != nil {
		return "", err
	}

	id := uuid.NewString()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO usage_events (id, account_id, created_at) VALUES ($1, $2, $3)`,
		id, accountID, at.UTC()); err != nil {
		return "", fmt.Errorf("%s: insert: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("%s: %w: %w", op, ErrCommitUnknown, err)
	}
	return id, nil
}
