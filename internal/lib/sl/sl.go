// Package sl содержит вспомогательные функции для логгера slog.
package sl

import (
	"log/slog"
	"strconv"
)

// Err возвращает slog.Attr с ключом "error" и текстом ошибки.
// Для nil возвращает пустое значение, чтобы не паниковать в ветках логирования.
//
// Пример:
//
//	log.Error("failed to dispatch invoice", sl.Err(err))
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{Key: "error", Value: slog.StringValue("")}
	}
	return slog.Attr{
		Key:   "error",
		Value: slog.StringValue(err.Error()),
	}
}

// Secret маскирует значение секрета в логах, оставляя длину.
func Secret(key, value string) slog.Attr {
	if value == "" {
		return slog.String(key, "")
	}
	return slog.String(key, "***("+strconv.Itoa(len(value))+")")
}
