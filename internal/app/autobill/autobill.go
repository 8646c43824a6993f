package autobill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/autobill/internal/billingprovider"
	"github.com/magabrotheeeer/autobill/internal/cache"
	"github.com/magabrotheeeer/autobill/internal/config"
	"github.com/magabrotheeeer/autobill/internal/http/middlewarectx"
	"github.com/magabrotheeeer/autobill/internal/lib/clock"
	"github.com/magabrotheeeer/autobill/internal/lib/jwt"
	"github.com/magabrotheeeer/autobill/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/autobill/internal/lib/retry"
	"github.com/magabrotheeeer/autobill/internal/lib/signature"
	"github.com/magabrotheeeer/autobill/internal/lib/sl"
	"github.com/magabrotheeeer/autobill/internal/metrics"
	"github.com/magabrotheeeer/autobill/internal/migrations"
	"github.com/magabrotheeeer/autobill/internal/processor"
	"github.com/magabrotheeeer/autobill/internal/services/admission"
	"github.com/magabrotheeeer/autobill/internal/services/billing"
	"github.com/magabrotheeeer/autobill/internal/services/dispatch"
	"github.com/magabrotheeeer/autobill/internal/services/invoice"
	"github.com/magabrotheeeer/autobill/internal/services/jobstatus"
	"github.com/magabrotheeeer/autobill/internal/services/tier"
	"github.com/magabrotheeeer/autobill/internal/services/usage"
	"github.com/magabrotheeeer/autobill/internal/storage/repository"
)

// App — HTTP API сервиса.
type App struct {
	server          *http.Server
	logger          *slog.Logger
	db              *repository.Storage
	cache           *cache.Cache
	conn            *amqp.Connection
	ch              *amqp.Channel
	shutdownTimeout time.Duration
}

// New поднимает хранилище, кэш, брокер и собирает обработчики.
// Redis и RabbitMQ необязательны: без них кэш и события заданий отключаются.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	const op = "autobill.New"

	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, err
	}
	if err = migrations.Run(db.DB, cfg.MigrationsPath); err != nil {
		_ = db.DB.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	app := &App{logger: logger, db: db, shutdownTimeout: cfg.ShutdownTimeout}

	var (
		tierCache tier.Cache
		jobCache  jobstatus.Cache
	)
	if cfg.AddressRedis != "" {
		c, err := cache.InitServer(ctx, cfg.RedisConnection)
		if err != nil {
			app.close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		app.cache = c
		tierCache, jobCache = c, c
	} else {
		logger.Warn("redis is not configured, caching disabled")
	}

	var publisher jobstatus.Publisher
	if cfg.RabbitMQ.URL != "" {
		conn, err := rabbitmq.Connect(ctx, cfg.RabbitMQ.URL, cfg.RabbitMQ.Retries, cfg.RabbitMQ.RetryDelay)
		if err != nil {
			app.close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		app.conn = conn
		ch, err := rabbitmq.SetupChannel(conn, rabbitmq.ExchangeJobs, rabbitmq.JobEventQueues())
		if err != nil {
			app.close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		app.ch = ch
		publisher = rabbitmq.NewPublisher(ch, rabbitmq.ExchangeJobs)
	} else {
		logger.Warn("rabbitmq is not configured, job events are not published")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	billingClient := billingprovider.NewClient(cfg.Billing.APIURL, cfg.Billing.SecretKey, cfg.Billing.Timeout)
	var lookup tier.SubscriptionLookup
	if billingClient.Configured() {
		lookup = billingClient
	}

	clk := clock.Real{}
	tiers := tier.New(cfg.Limits(), cfg.PlanTiers(), db, lookup, tierCache, cfg.TierTTL, logger)
	jobs := jobstatus.New(db, publisher, jobCache, cfg.JobTTL, clk, m, logger)
	invoices := invoice.New(
		db,
		admission.New(db, tiers, clk, retry.Default, m, logger),
		dispatch.New(db, processor.NewClient(cfg.Processor.WebhookURL, cfg.Processor.SigningSecret, cfg.Processor.Timeout), clk, retry.Default, m, logger),
		jobs,
		db,
		logger,
	)

	deps := Deps{
		Tokens:           jwt.NewJWTMaker(cfg.JWTSecretKey, cfg.TokenTTL),
		Limiter:          middlewarectx.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
		Invoices:         invoices,
		Jobs:             jobs,
		Usage:            usage.New(db, tiers, clk, retry.Default, logger),
		CallbackVerifier: signature.NewVerifier(cfg.Callback.SigningSecret, cfg.Callback.FreshnessWindow, nil),
		Billing:          billing.New(db, billingClient, cfg.PlanTiers(), tiers, cfg.Billing.PortalReturnURL, logger),
		Storage:          db,
		Metrics:          m,
		Gatherer:         reg,
	}
	if cfg.Billing.WebhookSecret != "" {
		deps.BillingVerifier = billingprovider.NewWebhookVerifier(cfg.Billing.WebhookSecret, billingprovider.DefaultTolerance, nil)
	} else {
		logger.Warn("billing webhook secret is not set, webhook endpoint disabled")
	}

	router := chi.NewRouter()
	RegisterRoutes(router, logger, deps)

	app.server = &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP + cfg.Processor.Timeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return app, nil
}

// Run запускает HTTP сервер и останавливает его при отмене ctx.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		a.close()
		return err
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		err := a.server.Shutdown(timeoutCtx)
		a.close()
		return err
	}
}

func (a *App) close() {
	if a.ch != nil {
		if err := a.ch.Close(); err != nil {
			a.logger.Error("failed to close channel", sl.Err(err))
		}
	}
	if a.conn != nil {
		if err := a.conn.Close(); err != nil {
			a.logger.Error("failed to close connection", sl.Err(err))
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Error("failed to close redis", sl.Err(err))
		}
	}
	if err := a.db.DB.Close(); err != nil {
		a.logger.Error("failed to close database", sl.Err(err))
	}
}
