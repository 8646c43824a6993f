// Package smtp собирает письма об инвойсах и доставляет их через
// SMTP-сервер с обязательным STARTTLS.
package smtp

import "io"

// Client — команды одной SMTP-сессии, которых хватает на доставку письма.
type Client interface {
	Mail(from string) error
	Rcpt(to string) error
	Data() (io.WriteCloser, error)
	Quit() error
	Close() error
}
