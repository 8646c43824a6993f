// Package billing обрабатывает события провайдера подписок и открывает
// портал управления подпиской. Тариф аккаунта меняется только здесь.
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/magabrotheeeer/autobill/internal/billingprovider"
	"github.com/magabrotheeeer/autobill/internal/lib/sl"
	"github.com/magabrotheeeer/autobill/internal/models"
)

// Accounts хранит тариф и идентификатор клиента провайдера.
type Accounts interface {
	EnsureAccount(ctx context.Context, accountID, email string) error
	GetAccount(ctx context.Context, accountID string) (*models.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*models.Account, error)
	GetAccountByBillingCustomer(ctx context.Context, customerID string) (*models.Account, error)
	SetAccountTier(ctx context.Context, accountID string, tier *models.Tier, customerID *string) error
}

// Provider — API провайдера подписок.
type Provider interface {
	SessionPriceID(ctx context.Context, sessionID string) (string, error)
	FindCustomerByEmail(ctx context.Context, email string) (string, error)
	CreateCustomer(ctx context.Context, accountID, email string) (string, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
}

// TierInvalidator сбрасывает закэшированный тариф.
type TierInvalidator interface {
	Invalidate(ctx context.Context, accountID string)
}

// Service — обработка подписок.
type Service struct {
	accounts  Accounts
	provider  Provider
	plans     map[string]models.Tier
	tiers     TierInvalidator
	returnURL string
	log       *slog.Logger
}

// New создаёт сервис подписок.
func New(accounts Accounts, provider Provider, plans map[string]models.Tier, tiers TierInvalidator, returnURL string, log *slog.Logger) *Service {
	return &Service{
		accounts:  accounts,
		provider:  provider,
		plans:     plans,
		tiers:     tiers,
		returnURL: returnURL,
		log:       log,
	}
}

// HandleEvent применяет событие провайдера. Неизвестные типы событий
// и события, которые нельзя сопоставить аккаунту, пропускаются без ошибки.
func (s *Service) HandleEvent(ctx context.Context, event *billingprovider.Event) error {
	const op = "billing.HandleEvent"
	log := s.log.With(slog.String("op", op), slog.String("event_id", event.ID), slog.String("type", event.Type))

	switch event.Type {
	case billingprovider.EventCheckoutCompleted:
		session, err := event.CheckoutSession()
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return s.checkoutCompleted(ctx, log, session)
	case billingprovider.EventSubscriptionDeleted:
		sub, err := event.Subscription()
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return s.subscriptionDeleted(ctx, log, sub)
	default:
		log.Debug("billing event ignored")
		return nil
	}
}

func (s *Service) checkoutCompleted(ctx context.Context, log *slog.Logger, session *billingprovider.CheckoutSession) error {
	email := strings.TrimSpace(session.Email())
	if email == "" {
		log.Warn("checkout completed without customer email")
		return nil
	}

	priceID, err := s.provider.SessionPriceID(ctx, session.ID)
	if err != nil {
		log.Error("failed to fetch checkout line items", sl.Err(err))
	}
	tier, ok := s.plans[priceID]
	if !ok {
		log.Warn("checkout price is not mapped to a tier", slog.String("price_id", priceID))
		return nil
	}

	account, err := s.accounts.GetAccountByEmail(ctx, email)
	if errors.Is(err, models.ErrNotFound) {
		log.Warn("no account for checkout email")
		return nil
	}
	if err != nil {
		return fmt.Errorf("billing.checkoutCompleted: %w", err)
	}

	var customerID *string
	if session.Customer != "" {
		customerID = &session.Customer
	}
	if err := s.accounts.SetAccountTier(ctx, account.ID, &tier, customerID); err != nil {
		return fmt.Errorf("billing.checkoutCompleted: %w", err)
	}
	s.tiers.Invalidate(ctx, account.ID)
	log.Info("account tier upgraded", slog.String("account_id", account.ID), slog.String("tier", string(tier)))
	return nil
}

func (s *Service) subscriptionDeleted(ctx context.Context, log *slog.Logger, sub *billingprovider.Subscription) error {
	if sub.Customer == "" {
		log.Warn("subscription deleted without customer")
		return nil
	}
	account, err := s.accounts.GetAccountByBillingCustomer(ctx, sub.Customer)
	if errors.Is(err, models.ErrNotFound) {
		log.Warn("no account for billing customer", slog.String("customer_id", sub.Customer))
		return nil
	}
	if err != nil {
		return fmt.Errorf("billing.subscriptionDeleted: %w", err)
	}

	free := models.TierFree
	if err := s.accounts.SetAccountTier(ctx, account.ID, &free, nil); err != nil {
		return fmt.Errorf("billing.subscriptionDeleted: %w", err)
	}
	s.tiers.Invalidate(ctx, account.ID)
	log.Info("account downgraded to free", slog.String("account_id", account.ID))
	return nil
}

// PortalURL возвращает ссылку на портал провайдера. Клиент провайдера
// ищется по почте или создаётся, если у аккаунта его ещё нет.
func (s *Service) PortalURL(ctx context.Context, accountID, email string) (string, error) {
	const op = "billing.PortalURL"

	if err := s.accounts.EnsureAccount(ctx, accountID, email); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	account, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	var customerID string
	if account.BillingCustomerID != nil {
		customerID = *account.BillingCustomerID
	}
	if customerID == "" && account.Email != "" {
		if customerID, err = s.provider.FindCustomerByEmail(ctx, account.Email); err != nil {
			s.log.Warn("customer search failed", slog.String("op", op), sl.Err(err))
		}
	}
	if customerID == "" {
		if customerID, err = s.provider.CreateCustomer(ctx, accountID, account.Email); err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}
	}
	if account.BillingCustomerID == nil || *account.BillingCustomerID != customerID {
		if err := s.accounts.SetAccountTier(ctx, accountID, account.Tier, &customerID); err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}
	}

	url, err := s.provider.CreatePortalSession(ctx, customerID, s.returnURL)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return url, nil
}
