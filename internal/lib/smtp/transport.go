package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"time"

	"github.com/magabrotheeeer/autobill/internal/config"
	"github.com/magabrotheeeer/autobill/internal/lib/sl"
)

// Transport отправляет письма через сервер из config.SMTP. Каждое письмо
// идёт в отдельной сессии.
type Transport struct {
	cfg    config.SMTP
	log    *slog.Logger
	dialer net.Dialer

	// connect подменяется в тестах.
	connect func(ctx context.Context) (Client, error)
}

// NewTransport создает новый экземпляр Transport.
func NewTransport(cfg config.SMTP, log *slog.Logger) *Transport {
	t := &Transport{cfg: cfg, log: log, dialer: net.Dialer{Timeout: 10 * time.Second}}
	t.connect = t.dial
	return t
}

// From возвращает адрес отправителя: учётную запись SMTP.
func (t *Transport) From() string {
	return t.cfg.SMTPUser
}

// Send доставляет письмо. Пустой msg.From заменяется на From().
func (t *Transport) Send(ctx context.Context, msg Message) error {
	const op = "smtp.Send"

	if msg.From == "" {
		msg.From = t.From()
	}
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	client, err := t.connect(ctx)
	if err != nil {
		t.log.Error("failed to connect to SMTP server", slog.String("op", op), sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := t.deliver(client, msg); err != nil {
		t.log.Error("failed to deliver email", slog.String("op", op), slog.Any("to", msg.To), sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	t.log.Info("email sent successfully", slog.Any("to", msg.To))
	return nil
}

// deliver проводит одну транзакцию MAIL/RCPT/DATA и закрывает сессию.
// После принятого DATA письмо уже у сервера, поэтому ошибка QUIT только логируется.
func (t *Transport) deliver(client Client, msg Message) error {
	defer func() {
		_ = client.Close()
	}()

	if err := client.Mail(msg.From); err != nil {
		return fmt.Errorf("mail from %s: %w", msg.From, err)
	}
	for _, addr := range msg.To {
		if err := client.Rcpt(addr); err != nil {
			return fmt.Errorf("rcpt to %s: %w", addr, err)
		}
	}

	wc, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := wc.Write(msg.Bytes()); err != nil {
		_ = wc.Close()
		return fmt.Errorf("write body: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("data: %w", err)
	}

	if err := client.Quit(); err != nil {
		t.log.Warn("smtp quit failed after message was accepted", sl.Err(err))
	}
	return nil
}

// dial открывает сессию: TCP, STARTTLS, затем PLAIN-аутентификация.
func (t *Transport) dial(ctx context.Context) (Client, error) {
	addr := net.JoinHostPort(t.cfg.SMTPHost, t.cfg.SMTPPort)

	conn, err := t.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial SMTP server: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, t.cfg.SMTPHost)
	if err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			t.log.Error("failed to close connection", sl.Err(closeErr))
		}
		return nil, fmt.Errorf("failed to create SMTP client: %w", err)
	}

	if err := t.secure(client); err != nil {
		if closeErr := client.Close(); closeErr != nil {
			t.log.Error("failed to close client", sl.Err(closeErr))
		}
		return nil, err
	}
	return client, nil
}

func (t *Transport) secure(client *smtp.Client) error {
	if ok, _ := client.Extension("STARTTLS"); !ok {
		return errors.New("smtp server does not support STARTTLS")
	}
	tlsConfig := &tls.Config{
		ServerName: t.cfg.SMTPHost,
		MinVersion: tls.VersionTLS12,
	}
	if err := client.StartTLS(tlsConfig); err != nil {
		return fmt.Errorf("failed to start TLS: %w", err)
	}
	auth := smtp.PlainAuth("", t.cfg.SMTPUser, t.cfg.SMTPPass, t.cfg.SMTPHost)
	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("smtp auth failed: %w", err)
	}
	return nil
}
