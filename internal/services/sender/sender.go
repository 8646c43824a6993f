// Package sender отправляет владельцу аккаунта письмо, когда задание
// генерации счёта завершилось.
package sender

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"text/template"

	"github.com/magabrotheeeer/autobill/internal/lib/sl"
	"github.com/magabrotheeeer/autobill/internal/lib/smtp"
	"github.com/magabrotheeeer/autobill/internal/models"
)

// AccountRepository отдаёт почту владельца задания.
type AccountRepository interface {
	GetAccount(ctx context.Context, accountID string) (*models.Account, error)
}

// Mailer доставляет готовое письмо.
type Mailer interface {
	Send(ctx context.Context, msg smtp.Message) error
}

// SenderService отправляет уведомления о заданиях.
type SenderService struct {
	repo   AccountRepository
	mailer Mailer
	log    *slog.Logger
}

// NewSenderService создает новый экземпляр SenderService.
func NewSenderService(repo AccountRepository, log *slog.Logger, mailer Mailer) *SenderService {
	return &SenderService{
		repo:   repo,
		mailer: mailer,
		log:    log,
	}
}

// SendJobNotification разбирает models.JobEvent и отправляет письмо владельцу.
// События без адреса получателя подтверждаются без отправки.
func (s *SenderService) SendJobNotification(ctx context.Context, body []byte) error {
	const op = "sender.SendJobNotification"

	var event models.JobEvent
	if err := json.Unmarshal(body, &event); err != nil {
		s.log.Error("failed to unmarshal message body", slog.String("op", op), sl.Err(err))
		return fmt.Errorf("error unmarshalling message: %w", err)
	}
	log := s.log.With(slog.String("op", op), slog.String("job_id", event.JobID), slog.String("account_id", event.AccountID))

	account, err := s.repo.GetAccount(ctx, event.AccountID)
	if errors.Is(err, models.ErrNotFound) {
		log.Warn("account not found, notification skipped")
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if strings.TrimSpace(account.Email) == "" {
		log.Warn("account has no email, notification skipped")
		return nil
	}

	msg, ok, err := compose(event, strings.TrimSpace(account.Email))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		log.Debug("non-terminal event ignored", slog.String("status", string(event.Status)))
		return nil
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	log.Info("job notification sent", slog.String("status", string(event.Status)))
	return nil
}

type notification struct {
	subject string
	body    *template.Template
}

var notifications = map[models.JobStatus]notification{
	models.JobSent: {
		subject: "Your invoice is ready",
		body: template.Must(template.New("sent").Parse(`Hello!

Your invoice (job {{.JobID}}) has been generated and sent.

Download the PDF: {{.PDFURL}}
`)),
	},
	models.JobFailed: {
		subject: "Invoice generation failed",
		body: template.Must(template.New("failed").Parse(`Hello!

We could not generate your invoice (job {{.JobID}}).

Please try again or contact support.
`)),
	},
}

// compose собирает письмо для терминального события; для остальных ok == false.
func compose(event models.JobEvent, to string) (smtp.Message, bool, error) {
	n, ok := notifications[event.Status]
	if !ok {
		return smtp.Message{}, false, nil
	}
	var body strings.Builder
	if err := n.body.Execute(&body, event); err != nil {
		return smtp.Message{}, false, fmt.Errorf("render %s notification: %w", event.Status, err)
	}
	return smtp.Message{To: []string{to}, Subject: n.subject, Body: body.String()}, true, nil
}
