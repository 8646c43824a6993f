// Package admission по тарифу и журналу использования решает, принять ли
// новое задание. Событие использования списывается до любых внешних
// побочных эффектов.
package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/autobill/internal/lib/clock"
	"github.com/magabrotheeeer/autobill/internal/lib/retry"
	"github.com/magabrotheeeer/autobill/internal/lib/sl"
	"github.com/magabrotheeeer/autobill/internal/lib/window"
	"github.com/magabrotheeeer/autobill/internal/metrics"
	"github.com/magabrotheeeer/autobill/internal/models"
	"github.com/magabrotheeeer/autobill/internal/storage/repository"
)

// Ledger атомарно считает события аккаунта и записывает новое.
// Вызовы для одного аккаунта сериализуются на стороне хранилища.
type Ledger interface {
	AdmitUsage(ctx context.Context, accountID string, at, dayStart, monthStart time.Time, decide repository.AdmitFunc) (string, error)
}

// TierPolicy отдаёт тариф аккаунта и его лимиты.
type TierPolicy interface {
	ResolveTier(ctx context.Context, accountID string) models.Tier
	LimitsFor(tier models.Tier) models.Limits
}

// Decision — результат успешного допуска.
type Decision struct {
	UsageEventID string
	Tier         models.Tier
	At           time.Time
}

// Controller — контроллер допуска.
type Controller struct {
	ledger  Ledger
	tiers   TierPolicy
	clock   clock.Clock
	policy  retry.Policy
	metrics *metrics.Metrics
	log     *slog.Logger
}

// New создаёт контроллер допуска.
func New(ledger Ledger, tiers TierPolicy, clk clock.Clock, policy retry.Policy, m *metrics.Metrics, log *slog.Logger) *Controller {
	return &Controller{
		ledger:  ledger,
		tiers:   tiers,
		clock:   clk,
		policy:  policy,
		metrics: m,
		log:     log,
	}
}

// Check проверяет лимиты по уже посчитанным событиям. Дневное окно проверяется первым.
func Check(limits models.Limits, tier models.Tier, daily, monthly int) error {
	if limits.Daily.Exceeded(daily) {
		return &models.QuotaExceededError{Scope: models.ScopeDaily, Used: daily, Limit: limits.Daily.Max(), Tier: tier}
	}
	if limits.Monthly.Exceeded(monthly) {
		return &models.QuotaExceededError{Scope: models.ScopeMonthly, Used: monthly, Limit: limits.Monthly.Max(), Tier: tier}
	}
	return nil
}

// Admit определяет тариф, считает использование за сутки и месяц и либо
// отклоняет запрос с QuotaExceededError, либо записывает событие использования.
// Подсчёт и запись выполняются в одной транзакции под блокировкой аккаунта.
func (c *Controller) Admit(ctx context.Context, accountID string) (*Decision, error) {
	const op = "admission.Admit"
	log := c.log.With(slog.String("op", op), slog.String("account_id", accountID))

	tier := c.tiers.ResolveTier(ctx, accountID)
	limits := c.tiers.LimitsFor(tier)
	now := c.clock.Now()
	b := window.At(now)

	decide := func(daily, monthly int) error {
		return Check(limits, tier, daily, monthly)
	}

	eventID, err := retry.DoValue(ctx, c.policy, func(ctx context.Context) (string, error) {
		id, err := c.ledger.AdmitUsage(ctx, accountID, now, b.Day, b.Month, decide)
		// После неудачного коммита событие могло записаться: повтор списал бы его дважды.
		return id, retry.PermanentIf(err, models.ErrQuotaExceeded, repository.ErrCommitUnknown)
	}, func(err error, wait time.Duration) {
		log.Warn("admission failed, retrying", sl.Err(err), slog.Duration("wait", wait))
	})

	var qe *models.QuotaExceededError
	switch {
	case errors.As(err, &qe):
		result := metrics.AdmissionRejectedDaily
		if qe.Scope == models.ScopeMonthly {
			result = metrics.AdmissionRejectedMonthly
		}
		c.metrics.Admission(string(tier), result)
		log.Info("admission rejected",
			slog.String("tier", string(tier)),
			slog.String("scope", string(qe.Scope)),
			slog.Int("used", qe.Used),
			slog.Int("limit", qe.Limit))
		return nil, qe
	case err != nil:
		c.metrics.Admission(string(tier), metrics.AdmissionError)
		log.Error("admission failed", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	c.metrics.Admission(string(tier), metrics.AdmissionAccepted)
	log.Debug("admission accepted", slog.String("tier", string(tier)), slog.String("usage_event_id", eventID))
	return &Decision{UsageEventID: eventID, Tier: tier, At: now}, nil
}
