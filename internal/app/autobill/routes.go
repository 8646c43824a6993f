// Package autobill собирает HTTP API сервиса: маршруты, зависимости и запуск сервера.
package autobill

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/magabrotheeeer/autobill/internal/http/handlers/billing/portal"
	"github.com/magabrotheeeer/autobill/internal/http/handlers/billing/webhook"
	"github.com/magabrotheeeer/autobill/internal/http/handlers/health"
	"github.com/magabrotheeeer/autobill/internal/http/handlers/invoice/list"
	"github.com/magabrotheeeer/autobill/internal/http/handlers/invoice/submit"
	"github.com/magabrotheeeer/autobill/internal/http/handlers/job/callback"
	"github.com/magabrotheeeer/autobill/internal/http/handlers/job/status"
	"github.com/magabrotheeeer/autobill/internal/http/handlers/usage/summary"
	"github.com/magabrotheeeer/autobill/internal/http/middlewarectx"
	"github.com/magabrotheeeer/autobill/internal/metrics"
)

// Deps — зависимости обработчиков.
type Deps struct {
	Tokens  middlewarectx.TokenParser
	Limiter *middlewarectx.RateLimiter

	Invoices interface {
		submit.Service
		list.Service
	}
	Jobs interface {
		status.Service
		callback.Service
	}
	Usage            summary.Service
	CallbackVerifier callback.Verifier

	Billing interface {
		webhook.Service
		portal.Service
	}
	// BillingVerifier равен nil, если секрет webhook провайдера не задан.
	BillingVerifier webhook.Verifier

	Storage  health.Pinger
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
}

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, d Deps) {
	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Logger,
		middleware.Recoverer,
	)

	r.Get("/health", health.New(logger, d.Storage).ServeHTTP)

	r.Route("/api/v1", func(r chi.Router) {
		// Вызовы процессора и провайдера подписок: проверка по подписи, без JWT
		r.Post("/jobs/callback", callback.New(logger, d.CallbackVerifier, d.Jobs, d.Metrics).ServeHTTP)
		if d.BillingVerifier != nil {
			r.Post("/billing/webhook", webhook.New(logger, d.BillingVerifier, d.Billing).ServeHTTP)
		}

		// Группа с JWT аутентификацией
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.JWTMiddleware(d.Tokens, logger))
			r.Use(middlewarectx.RateLimitMiddleware(d.Limiter, logger))
			r.Post("/invoices", submit.New(logger, d.Invoices).ServeHTTP)
			r.Get("/invoices", list.New(logger, d.Invoices).ServeHTTP)
			r.Get("/jobs/{id}", status.New(logger, d.Jobs).ServeHTTP)
			r.Get("/usage", summary.New(logger, d.Usage).ServeHTTP)
			r.Post("/billing/portal", portal.New(logger, d.Billing).ServeHTTP)
		})
	})

	gatherer := d.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	// Swagger docs endpoint
	r.Get("/docs/*", httpSwagger.WrapHandler)
}
