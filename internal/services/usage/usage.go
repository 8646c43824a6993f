// Package usage ведёт журнал использования: записывает события допуска и
// считает события аккаунта в окне. Временные ошибки хранилища повторяются
// ограниченное число раз.
package usage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/autobill/internal/lib/clock"
	"github.com/magabrotheeeer/autobill/internal/lib/retry"
	"github.com/magabrotheeeer/autobill/internal/lib/sl"
	"github.com/magabrotheeeer/autobill/internal/lib/window"
	"github.com/magabrotheeeer/autobill/internal/models"
)

// Repository хранит события использования.
type Repository interface {
	RecordUsage(ctx context.Context, accountID string, at time.Time) (string, error)
	CountUsage(ctx context.Context, accountID string, since time.Time) (int, error)
}

// TierPolicy отдаёт тариф аккаунта и его лимиты.
type TierPolicy interface {
	ResolveTier(ctx context.Context, accountID string) models.Tier
	LimitsFor(tier models.Tier) models.Limits
}

// Service — журнал использования.
type Service struct {
	repo   Repository
	tiers  TierPolicy
	clock  clock.Clock
	policy retry.Policy
	log    *slog.Logger
}

// New создаёт журнал использования.
func New(repo Repository, tiers TierPolicy, clk clock.Clock, policy retry.Policy, log *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		tiers:  tiers,
		clock:  clk,
		policy: policy,
		log:    log,
	}
}

func (s *Service) onRetry(op string) func(error, time.Duration) {
	return func(err error, wait time.Duration) {
		s.log.Warn("storage call failed, retrying", slog.String("op", op), sl.Err(err), slog.Duration("wait", wait))
	}
}

// Record добавляет событие использования.
func (s *Service) Record(ctx context.Context, accountID string, at time.Time) (string, error) {
	const op = "usage.Record"
	id, err := retry.DoValue(ctx, s.policy, func(ctx context.Context) (string, error) {
		id, err := s.repo.RecordUsage(ctx, accountID, at)
		return id, retry.PermanentIf(err, models.ErrNotFound)
	}, s.onRetry(op))
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return id, nil
}

// Count возвращает число событий аккаунта начиная с since.
func (s *Service) Count(ctx context.Context, accountID string, since time.Time) (int, error) {
	const op = "usage.Count"
	n, err := retry.DoValue(ctx, s.policy, func(ctx context.Context) (int, error) {
		n, err := s.repo.CountUsage(ctx, accountID, since)
		return n, retry.PermanentIf(err)
	}, s.onRetry(op))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

// Summary возвращает использование за текущие сутки и месяц вместе с лимитами тарифа.
func (s *Service) Summary(ctx context.Context, accountID string) (*models.UsageSummary, error) {
	const op = "usage.Summary"

	tier := s.tiers.ResolveTier(ctx, accountID)
	limits := s.tiers.LimitsFor(tier)
	b := window.At(s.clock.Now())

	daily, err := s.Count(ctx, accountID, b.Day)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	monthly, err := s.Count(ctx, accountID, b.Month)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &models.UsageSummary{
		Tier:    tier,
		Daily:   models.UsageQuota{Used: daily, Limit: limits.Daily},
		Monthly: models.UsageQuota{Used: monthly, Limit: limits.Monthly},
	}, nil
}
