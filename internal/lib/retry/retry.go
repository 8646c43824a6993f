// Package retry выполняет операцию с ограниченным числом повторов и
// экспоненциальной задержкой. Используется для временных ошибок хранилища
// и подключения к брокеру.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy задаёт число попыток и границы задержки.
type Policy struct {
	Attempts     uint64        // Всего попыток, включая первую
	InitialDelay time.Duration // Задержка перед второй попыткой
	MaxDelay     time.Duration // Верхняя граница задержки
}

// Default — три попытки с задержкой от 50мс.
var Default = Policy{Attempts: 3, InitialDelay: 50 * time.Millisecond, MaxDelay: time.Second}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	if p.InitialDelay > 0 {
		eb.InitialInterval = p.InitialDelay
	}
	if p.MaxDelay > 0 {
		eb.MaxInterval = p.MaxDelay
	}
	eb.MaxElapsedTime = 0
	attempts := p.Attempts
	if attempts == 0 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(eb, attempts-1), ctx)
}

// Permanent помечает ошибку как неповторяемую: Do вернёт её сразу.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// Do вызывает fn, пока та не вернёт nil, постоянную ошибку или не кончатся попытки.
// onRetry, если задан, вызывается перед каждой повторной попыткой.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error, onRetry func(err error, wait time.Duration)) error {
	op := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		return fn(ctx)
	}
	if onRetry == nil {
		return backoff.Retry(op, p.backOff(ctx))
	}
	return backoff.RetryNotify(op, p.backOff(ctx), onRetry)
}

// DoValue — то же, что Do, но для операций с результатом.
func DoValue[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error), onRetry func(err error, wait time.Duration)) (T, error) {
	var out T
	err := Do(ctx, p, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	}, onRetry)
	return out, err
}

// PermanentIf помечает err как постоянную, если она совпадает с одной из targets
// или является ошибкой контекста.
func PermanentIf(err error, targets ...error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return backoff.Permanent(err)
	}
	for _, t := range targets {
		if errors.Is(err, t) {
			return backoff.Permanent(err)
		}
	}
	return err
}
