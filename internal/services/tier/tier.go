// Package tier отдаёт лимиты тарифа и определяет текущий тариф аккаунта. Определение тарифа всегда возвращает значение и при любой
// неопределённости выбирает самый ограниченный тариф.
package tier

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/autobill/internal/cache"
	"github.com/magabrotheeeer/autobill/internal/lib/sl"
	"github.com/magabrotheeeer/autobill/internal/models"
)

// AccountRepository читает сохранённый тариф аккаунта.
type AccountRepository interface {
	GetAccount(ctx context.Context, accountID string) (*models.Account, error)
}

// SubscriptionLookup запрашивает активную подписку у провайдера.
type SubscriptionLookup interface {
	ActiveSubscription(ctx context.Context, customerID string) (priceID string, ok bool, err error)
}

// Cache описывает методы для кэширования данных.
type Cache interface {
	Get(ctx context.Context, key string, result any) (bool, error)
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	Invalidate(ctx context.Context, keys ...string) error
}

// Policy — тарифная политика.
type Policy struct {
	limits   map[models.Tier]models.Limits
	plans    map[string]models.Tier
	accounts AccountRepository
	provider SubscriptionLookup
	cache    Cache
	ttl      time.Duration
	log      *slog.Logger
}

// New создаёт тарифную политику. provider и cache могут быть nil.
func New(
	limits map[models.Tier]models.Limits,
	plans map[string]models.Tier,
	accounts AccountRepository,
	provider SubscriptionLookup,
	cache Cache,
	ttl time.Duration,
	log *slog.Logger,
) *Policy {
	return &Policy{
		limits:   limits,
		plans:    plans,
		accounts: accounts,
		provider: provider,
		cache:    cache,
		ttl:      ttl,
		log:      log,
	}
}

// LimitsFor возвращает лимиты тарифа. Для тарифа без записи в таблице
// используются лимиты free.
func (p *Policy) LimitsFor(t models.Tier) models.Limits {
	if l, ok := p.limits[t]; ok {
		return l
	}
	return p.limits[models.TierFree]
}

// ResolveTier определяет тариф аккаунта: сохранённый тариф, затем активная
// подписка у провайдера, иначе free. Ошибки хранилища и провайдера дают free
// и не кэшируются.
func (p *Policy) ResolveTier(ctx context.Context, accountID string) models.Tier {
	const op = "tier.ResolveTier"
	log := p.log.With(slog.String("op", op), slog.String("account_id", accountID))

	if p.cache != nil {
		var cached models.Tier
		found, err := p.cache.Get(ctx, cache.TierKey(accountID), &cached)
		if err != nil {
			log.Warn("tier cache read failed", sl.Err(err))
		}
		if found {
			if t, ok := models.ParseTier(string(cached)); ok {
				return t
			}
		}
	}

	t, certain := p.resolve(ctx, log, accountID)
	if certain && p.cache != nil {
		if err := p.cache.Set(ctx, cache.TierKey(accountID), t, p.ttl); err != nil {
			log.Warn("tier cache write failed", sl.Err(err))
		}
	}
	return t
}

func (p *Policy) resolve(ctx context.Context, log *slog.Logger, accountID string) (models.Tier, bool) {
	account, err := p.accounts.GetAccount(ctx, accountID)
	if errors.Is(err, models.ErrNotFound) {
		return models.TierFree, true
	}
	if err != nil {
		log.Error("failed to load account, falling back to free tier", sl.Err(err))
		return models.TierFree, false
	}
	if account.Tier != nil {
		if t, ok := models.ParseTier(string(*account.Tier)); ok {
			return t, true
		}
	}
	if account.BillingCustomerID == nil || *account.BillingCustomerID == "" || p.provider == nil {
		return models.TierFree, true
	}

	priceID, active, err := p.provider.ActiveSubscription(ctx, *account.BillingCustomerID)
	if err != nil {
		log.Error("subscription lookup failed, falling back to free tier", sl.Err(err))
		return models.TierFree, false
	}
	if !active {
		return models.TierFree, true
	}
	t, ok := p.plans[priceID]
	if !ok {
		log.Warn("active subscription has unknown price", slog.String("price_id", priceID))
		return models.TierFree, true
	}
	return t, true
}

// Invalidate сбрасывает закэшированный тариф аккаунта.
func (p *Policy) Invalidate(ctx context.Context, accountID string) {
	if p.cache == nil {
		return
	}
	if err := p.cache.Invalidate(ctx, cache.TierKey(accountID)); err != nil {
		p.log.Warn("tier cache invalidate failed", slog.String("account_id", accountID), sl.Err(err))
	}
}
