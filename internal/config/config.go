// Package config предоставляет структуры и функции для парсинга, проверки и загрузки конфига
package config

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/magabrotheeeer/autobill/internal/lib/sl"
	"github.com/magabrotheeeer/autobill/internal/models"
)

// Config общая структура для хранения настроек
type Config struct {
	Env                     string `yaml:"env" env:"ENV" env-default:"local"`
	StorageConnectionString string `yaml:"storage_connection_string" env:"STORAGE_CONNECTION_STRING"`
	MigrationsPath          string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"./migrations"`
	RedisConnection         `yaml:"redis_connection"`
	HTTPServer              `yaml:"http_server"`
	JWTToken                `yaml:"jwttoken"`
	SMTP                    `yaml:"smtp"`
	Processor               Processor                `yaml:"processor"`
	Callback                Callback                 `yaml:"callback"`
	Billing                 Billing                  `yaml:"billing"`
	Tiers                   map[string]models.Limits `yaml:"tiers"`
	RabbitMQ                RabbitMQ                 `yaml:"rabbitmq"`
	Poller                  Poller                   `yaml:"poller"`
	RateLimit               RateLimit                `yaml:"rate_limit"`
}

// HTTPServer структура для настройки сервера
type HTTPServer struct {
	AddressHTTP     string        `yaml:"addresshttp" env:"HTTP_ADDRESS" env-default:":8080"`
	TimeoutHTTP     time.Duration `yaml:"timeouthttp" env-default:"10s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env-default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env-default:"10s"`
}

// RedisConnection структура для настройки подключения к redis
type RedisConnection struct {
	AddressRedis string        `yaml:"addressredis" env:"REDIS_ADDRESS"`
	Password     string        `yaml:"password" env:"REDIS_PASSWORD"`
	User         string        `yaml:"user"`
	DB           int           `yaml:"db"`
	MaxRetries   int           `yaml:"max_retries"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	TimeoutRedis time.Duration `yaml:"timeoutredis"`
	TierTTL      time.Duration `yaml:"tier_ttl" env-default:"5m"`
	JobTTL       time.Duration `yaml:"job_ttl" env-default:"30s"`
}

// JWTToken структура для работы с jwt-токеном
type JWTToken struct {
	JWTSecretKey string        `yaml:"jwt_secret_key" env:"JWT_SECRET_KEY"`
	TokenTTL     time.Duration `yaml:"token_ttl" env-default:"24h"`
}

// SMTP настройки почтового сервера для уведомлений о готовых счетах
type SMTP struct {
	SMTPHost string `yaml:"smtp_host" env:"SMTP_HOST"`
	SMTPPort string `yaml:"smtp_port" env:"SMTP_PORT" env-default:"587"`
	SMTPUser string `yaml:"smtp_user" env:"SMTP_USER"`
	SMTPPass string `yaml:"smtp_pass" env:"SMTP_PASS"`
}

// Processor внешний процессор генерации счетов
type Processor struct {
	WebhookURL    string        `yaml:"webhook_url" env:"PROCESSOR_WEBHOOK_URL"`
	SigningSecret string        `yaml:"signing_secret" env:"PROCESSOR_SIGNING_SECRET"`
	Timeout       time.Duration `yaml:"timeout" env-default:"15s"`
}

// Callback проверка входящих уведомлений от процессора
type Callback struct {
	// SigningSecret по умолчанию совпадает с секретом процессора.
	SigningSecret   string        `yaml:"signing_secret" env:"CALLBACK_SIGNING_SECRET"`
	FreshnessWindow time.Duration `yaml:"freshness_window" env-default:"5m"`
}

// Billing провайдер подписок
type Billing struct {
	APIURL          string            `yaml:"api_url" env-default:"https://api.stripe.com"`
	SecretKey       string            `yaml:"secret_key" env:"BILLING_SECRET_KEY"`
	WebhookSecret   string            `yaml:"webhook_secret" env:"BILLING_WEBHOOK_SECRET"`
	PortalReturnURL string            `yaml:"portal_return_url"`
	Timeout         time.Duration     `yaml:"timeout" env-default:"10s"`
	Plans           map[string]string `yaml:"plans"` // идентификатор цены -> тариф
}

// RabbitMQ подключение к брокеру событий заданий
type RabbitMQ struct {
	URL         string        `yaml:"url" env:"RABBITMQ_URL"`
	Retries     int           `yaml:"retries" env-default:"5"`
	RetryDelay  time.Duration `yaml:"retry_delay" env-default:"2s"`
	Concurrency int           `yaml:"concurrency" env-default:"10"`
}

// Poller настройки опроса статуса задания
type Poller struct {
	Interval time.Duration `yaml:"interval" env-default:"3s"`
	Timeout  time.Duration `yaml:"timeout" env-default:"2m"`
}

// RateLimit ограничение частоты запросов одного аккаунта
type RateLimit struct {
	RPS   float64 `yaml:"rps" env-default:"5"`
	Burst int     `yaml:"burst" env-default:"10"`
}

// DefaultTiers — лимиты тарифов, если в конфиге таблица не задана.
func DefaultTiers() map[string]models.Limits {
	return map[string]models.Limits{
		string(models.TierFree):     {Daily: models.LimitOf(3), Monthly: models.LimitOf(10)},
		string(models.TierStandard): {Daily: models.LimitOf(25), Monthly: models.LimitOf(200)},
		string(models.TierPro):      {Daily: models.LimitOf(100), Monthly: models.LimitOf(1000)},
	}
}

// Load читает конфиг из файла и проверяет его.
func Load(configPath string) (*Config, error) {
	const op = "config.Load"
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%s: %w: file %s does not exist", op, models.ErrConfiguration, configPath)
	}
	var cfg Config
	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, models.ErrConfiguration, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &cfg, nil
}

// MustLoad загружает конфиг по пути из CONFIG_PATH и завершает процесс при ошибке
func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}
	cfg, err := Load(configPath)
	if err != nil {
		log.Fatalf("cannot load config: %s", err)
	}
	return cfg
}

// Validate проверяет обязательные параметры и заполняет производные значения.
// Любая ошибка сопоставляется с models.ErrConfiguration.
func (c *Config) Validate() error {
	var errs []error
	missing := func(name, value string) {
		if strings.TrimSpace(value) == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
		}
	}

	missing("storage_connection_string", c.StorageConnectionString)
	missing("jwttoken.jwt_secret_key", c.JWTSecretKey)
	missing("processor.signing_secret", c.Processor.SigningSecret)
	missing("processor.webhook_url", c.Processor.WebhookURL)
	if c.Processor.WebhookURL != "" {
		u, err := url.Parse(c.Processor.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("processor.webhook_url %q is not an absolute http(s) url", c.Processor.WebhookURL))
		}
	}
	if c.Processor.Timeout <= 0 {
		errs = append(errs, errors.New("processor.timeout must be positive"))
	}
	if c.Callback.SigningSecret == "" {
		c.Callback.SigningSecret = c.Processor.SigningSecret
	}
	if c.Callback.FreshnessWindow <= 0 {
		errs = append(errs, errors.New("callback.freshness_window must be positive"))
	}

	if len(c.Tiers) == 0 {
		c.Tiers = DefaultTiers()
	}
	names := make([]string, 0, len(c.Tiers))
	for name := range c.Tiers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, ok := models.ParseTier(name); !ok {
			errs = append(errs, fmt.Errorf("tiers: unknown tier %q", name))
			continue
		}
		l := c.Tiers[name]
		if err := checkLimit(name, "daily", l.Daily); err != nil {
			errs = append(errs, err)
		}
		if err := checkLimit(name, "monthly", l.Monthly); err != nil {
			errs = append(errs, err)
		}
	}
	if _, ok := c.Tiers[string(models.TierFree)]; !ok {
		errs = append(errs, errors.New("tiers: limits for free tier are required"))
	}
	for price, tier := range c.Billing.Plans {
		if _, ok := models.ParseTier(tier); !ok {
			errs = append(errs, fmt.Errorf("billing.plans: price %s maps to unknown tier %q", price, tier))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", models.ErrConfiguration, errors.Join(errs...))
	}
	return nil
}

// checkLimit требует, чтобы лимит окна был задан и был unbounded или не меньше 1.
func checkLimit(tier, window string, l models.Limit) error {
	switch {
	case !l.IsSet():
		return fmt.Errorf("tiers.%s.%s is required", tier, window)
	case !l.IsUnbounded() && l.Max() < 1:
		return fmt.Errorf("tiers.%s.%s must be at least 1 or unbounded", tier, window)
	}
	return nil
}

// Limits возвращает таблицу лимитов с типизированными ключами.
func (c *Config) Limits() map[models.Tier]models.Limits {
	out := make(map[models.Tier]models.Limits, len(c.Tiers))
	for name, l := range c.Tiers {
		if t, ok := models.ParseTier(name); ok {
			out[t] = l
		}
	}
	return out
}

// PlanTiers возвращает соответствие идентификатора цены тарифу.
func (c *Config) PlanTiers() map[string]models.Tier {
	out := make(map[string]models.Tier, len(c.Billing.Plans))
	for price, name := range c.Billing.Plans {
		if t, ok := models.ParseTier(name); ok {
			out[price] = t
		}
	}
	return out
}

func (c *Config) String() string {
	mask := func(s string) string { return sl.Secret("", s).Value.String() }

	tiers := make([]string, 0, len(c.Tiers))
	for name, l := range c.Tiers {
		tiers = append(tiers, fmt.Sprintf("  %s: daily=%s monthly=%s", name, l.Daily, l.Monthly))
	}
	sort.Strings(tiers)

	return fmt.Sprintf(
		"Env: %s\n"+
			"StorageConnectionString: %s\n"+
			"RedisConnection:\n"+
			"  Addr: %s\n"+
			"  Password: %s\n"+
			"  DB: %d\n"+
			"HTTPServer:\n"+
			"  Address: %s\n"+
			"  Timeout: %s\n"+
			"  IdleTimeout: %s\n"+
			"JWTToken:\n"+
			"  JWTSecretKey: %s\n"+
			"  TokenTTL: %s\n"+
			"Processor:\n"+
			"  WebhookURL: %s\n"+
			"  SigningSecret: %s\n"+
			"  Timeout: %s\n"+
			"Callback:\n"+
			"  FreshnessWindow: %s\n"+
			"Billing:\n"+
			"  SecretKey: %s\n"+
			"  WebhookSecret: %s\n"+
			"Tiers:\n%s\n",
		c.Env,
		mask(c.StorageConnectionString),
		c.AddressRedis,
		mask(c.Password),
		c.DB,
		c.AddressHTTP,
		c.TimeoutHTTP,
		c.IdleTimeout,
		mask(c.JWTSecretKey),
		c.TokenTTL,
		c.Processor.WebhookURL,
		mask(c.Processor.SigningSecret),
		c.Processor.Timeout,
		c.Callback.FreshnessWindow,
		mask(c.Billing.SecretKey),
		mask(c.Billing.WebhookSecret),
		strings.Join(tiers, "\n"),
	)
}
