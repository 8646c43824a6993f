package smtp

import (
	"bytes"
	"errors"
	"fmt"
	"mime"
	"net/mail"
	"strings"
	"time"
)

// ErrNoRecipients возвращается для письма без получателей.
var ErrNoRecipients = errors.New("message has no recipients")

// Message — письмо text/plain в UTF-8.
type Message struct {
	From    string
	To      []string
	Subject string
	Body    string
	// Date по умолчанию — момент кодирования.
	Date time.Time
}

// Validate проверяет адреса и заголовки до открытия SMTP-сессии.
func (m Message) Validate() error {
	if len(m.To) == 0 {
		return ErrNoRecipients
	}
	for _, addr := range append([]string{m.From}, m.To...) {
		if _, err := mail.ParseAddress(addr); err != nil {
			return fmt.Errorf("invalid address %q: %w", addr, err)
		}
	}
	if strings.ContainsAny(m.Subject, "\r\n") {
		return errors.New("subject must be a single line")
	}
	return nil
}

// Bytes кодирует письмо для команды DATA. Тема с не-ASCII символами
// кодируется по RFC 2047, переводы строк тела приводятся к CRLF.
func (m Message) Bytes() []byte {
	date := m.Date
	if date.IsZero() {
		date = time.Now()
	}

	var b bytes.Buffer
	headers := [][2]string{
		{"From", m.From},
		{"To", strings.Join(m.To, ", ")},
		{"Subject", mime.QEncoding.Encode("utf-8", m.Subject)},
		{"Date", date.Format(time.RFC1123Z)},
		{"MIME-Version", "1.0"},
		{"Content-Type", `text/plain; charset="UTF-8"`},
		{"Content-Transfer-Encoding", "8bit"},
	}
	for _, h := range headers {
		fmt.Fprintf(&b, "%s: %s\r\n", h[0], h[1])
	}
	b.WriteString("\r\n")

	body := strings.ReplaceAll(m.Body, "\r\n", "\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return b.Bytes()
}
