// Package models содержит доменные структуры сервиса: аккаунты и тарифы,
// события использования, задания генерации счетов и записи счетов,
// а также таксономию ошибок ядра.
package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Tier — уровень подписки аккаунта.
type Tier string

// TierFree используется по умолчанию.
const (
	TierFree     Tier = "free"
	TierStandard Tier = "standard"
	TierPro      Tier = "pro"
)

// ParseTier нормализует строку тарифа. Неизвестные значения не принимаются.
func ParseTier(s string) (Tier, bool) {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case TierFree:
		return TierFree, true
	case TierStandard:
		return TierStandard, true
	case TierPro:
		return TierPro, true
	}
	return "", false
}

// Account идентифицирует пользователя сервиса.
type Account struct {
	ID                string     // Идентификатор аккаунта (subject из JWT)
	Email             string     // Электронная почта владельца
	Tier              *Tier      // Явно сохранённый тариф, nil если не задан
	BillingCustomerID *string    // Идентификатор клиента у провайдера подписок
	CreatedAt         time.Time  // Дата создания
	UpdatedAt         *time.Time // Дата последнего изменения тарифа
}

// UsageEvent — неизменяемый факт допуска задания для аккаунта.
type UsageEvent struct {
	ID        string
	AccountID string
	CreatedAt time.Time
}

// Limit — квота на окно. Нулевое значение Limit не задано и не пропускает
// ни одного запроса; конфиг с таким лимитом не проходит проверку.
type Limit struct {
	max       int
	unbounded bool
	set       bool
}

// LimitOf возвращает конечный лимит.
func LimitOf(n int) Limit { return Limit{max: n, set: true} }

// Unbounded возвращает лимит без ограничения.
func Unbounded() Limit { return Limit{unbounded: true, set: true} }

// IsSet сообщает, что лимит задан явно.
func (l Limit) IsSet() bool { return l.set }

// IsUnbounded сообщает, что лимит не ограничен.
func (l Limit) IsUnbounded() bool { return l.unbounded }

// Max возвращает конечное значение лимита. Для безлимита возвращает -1.
func (l Limit) Max() int {
	if l.unbounded {
		return -1
	}
	return l.max
}

// Exceeded сообщает, исчерпана ли квота при текущем количестве событий.
func (l Limit) Exceeded(used int) bool {
	if l.unbounded {
		return false
	}
	return used >= l.max
}

func (l Limit) String() string {
	if l.unbounded {
		return "unbounded"
	}
	return strconv.Itoa(l.max)
}

// UnmarshalText разбирает "unbounded" или целое не меньше 1.
func (l *Limit) UnmarshalText(text []byte) error {
	s := strings.ToLower(strings.TrimSpace(string(text)))
	if s == "unbounded" || s == "unlimited" {
		*l = Unbounded()
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid limit %q: %w", s, err)
	}
	if n < 0 {
		return fmt.Errorf("invalid limit %q: must not be negative", s)
	}
	if n == 0 {
		return fmt.Errorf("invalid limit %q: must be at least 1 or unbounded", s)
	}
	*l = LimitOf(n)
	return nil
}

// UnmarshalYAML позволяет задавать лимиты в конфиге как числом, так и строкой "unbounded".
func (l *Limit) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("limit must be a scalar, got kind %d", value.Kind)
	}
	return l.UnmarshalText([]byte(value.Value))
}

// MarshalJSON отдаёт безлимит как null.
func (l Limit) MarshalJSON() ([]byte, error) {
	if l.unbounded {
		return []byte("null"), nil
	}
	return []byte(strconv.Itoa(l.max)), nil
}

// Limits — квоты тарифа на дневное и месячное окно.
type Limits struct {
	Daily   Limit `yaml:"daily" json:"daily"`
	Monthly Limit `yaml:"monthly" json:"monthly"`
}

// UsageSummary — текущее использование квот аккаунтом.
type UsageSummary struct {
	Tier    Tier       `json:"tier"`
	Daily   UsageQuota `json:"daily"`
	Monthly UsageQuota `json:"monthly"`
}

// UsageQuota — использовано / лимит для одного окна.
type UsageQuota struct {
	Used  int   `json:"used"`
	Limit Limit `json:"limit"`
}
