// Package sender собирает отправителя уведомлений: читает события заданий
// из RabbitMQ и отправляет письма владельцам аккаунтов.
package sender

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/autobill/internal/config"
	"github.com/magabrotheeeer/autobill/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/autobill/internal/lib/sl"
	"github.com/magabrotheeeer/autobill/internal/lib/smtp"
	senderservice "github.com/magabrotheeeer/autobill/internal/services/sender"
	"github.com/magabrotheeeer/autobill/internal/storage/repository"
)

// App — отправитель уведомлений.
type App struct {
	conn          *amqp.Connection
	ch            *amqp.Channel
	db            *repository.Storage
	senderService *senderservice.SenderService
	concurrency   int
	logger        *slog.Logger
}

// New подключается к базе и брокеру и готовит очереди.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	const op = "app.sender.New"
	if cfg.RabbitMQ.URL == "" {
		return nil, fmt.Errorf("%s: rabbitmq.url is required", op)
	}

	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, err
	}
	conn, err := rabbitmq.Connect(ctx, cfg.RabbitMQ.URL, cfg.RabbitMQ.Retries, cfg.RabbitMQ.RetryDelay)
	if err != nil {
		_ = db.DB.Close()
		return nil, err
	}

	ch, err := rabbitmq.SetupChannel(conn, rabbitmq.ExchangeJobs, rabbitmq.JobEventQueues())
	if err != nil {
		_ = conn.Close()
		_ = db.DB.Close()
		return nil, err
	}

	mailer := smtp.NewTransport(cfg.SMTP, logger)
	senderService := senderservice.NewSenderService(db, logger, mailer)

	return &App{
		conn:          conn,
		ch:            ch,
		db:            db,
		senderService: senderService,
		concurrency:   cfg.RabbitMQ.Concurrency,
		logger:        logger,
	}, nil
}

// Run читает очереди событий до отмены ctx.
func (a *App) Run(ctx context.Context) error {
	for _, q := range rabbitmq.JobEventQueues() {
		err := rabbitmq.ConsumerMessage(ctx, a.logger, a.ch, q.QueueName, a.concurrency, a.senderService.SendJobNotification)
		if err != nil {
			a.logger.Error("failed to start consumer", slog.String("queue", q.QueueName), sl.Err(err))
			return err
		}
		a.logger.Info("consumer started", slog.String("queue", q.QueueName))
	}

	<-ctx.Done()
	a.logger.Info("Sender service shutting down gracefully")

	if err := a.ch.Close(); err != nil {
		a.logger.Error("failed to close channel", sl.Err(err))
	}
	if err := a.conn.Close(); err != nil {
		a.logger.Error("failed to close connection", sl.Err(err))
	}
	if err := a.db.DB.Close(); err != nil {
		a.logger.Error("failed to close database", sl.Err(err))
	}
	return nil
}
