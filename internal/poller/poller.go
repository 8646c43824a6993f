// Package poller опрашивает статус задания, пока оно не перейдёт в терминальное
// состояние или не истечёт общее время ожидания.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/autobill/internal/lib/sl"
	"github.com/magabrotheeeer/autobill/internal/models"
)

// ErrStillProcessing — время ожидания вышло, задание ещё не завершено.
var ErrStillProcessing = errors.New("still processing, check back later")

// Snapshot — наблюдаемое состояние задания.
type Snapshot struct {
	Status models.JobStatus `json:"status"`
	PDFURL string           `json:"pdfUrl,omitempty"`
}

// Source отдаёт текущее состояние задания. Для неизвестного задания
// возвращает models.ErrNotFound.
type Source interface {
	Status(ctx context.Context, jobID string) (*Snapshot, error)
}

// Poller опрашивает Source с постоянным интервалом.
type Poller struct {
	source   Source
	interval time.Duration
	timeout  time.Duration
	log      *slog.Logger

	// OnPoll вызывается после каждого успешного опроса.
	OnPoll func(Snapshot)
}

// New создаёт Poller.
func New(source Source, interval, timeout time.Duration, log *slog.Logger) *Poller {
	return &Poller{
		source:   source,
		interval: interval,
		timeout:  timeout,
		log:      log,
	}
}

// Wait опрашивает задание до терминального статуса. Первый опрос выполняется сразу.
// По истечении timeout возвращает последний снимок и ErrStillProcessing.
// Отмена ctx прекращает опрос без побочных эффектов.
func (p *Poller) Wait(ctx context.Context, jobID string) (*Snapshot, error) {
	const op = "poller.Wait"
	log := p.log.With(slog.String("op", op), slog.String("job_id", jobID))

	deadline := time.NewTimer(p.timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	last := Snapshot{Status: models.JobQueued}
	for {
		snap, err := p.poll(ctx, jobID)
		switch {
		case err == nil:
			last = *snap
			if p.OnPoll != nil {
				p.OnPoll(last)
			}
			if last.Status.Terminal() {
				return &last, nil
			}
		case errors.Is(err, ErrUnauthorized), ctx.Err() != nil:
			return nil, fmt.Errorf("%s: %w", op, err)
		default:
			log.Warn("poll failed, will retry", sl.Err(err))
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%s: %w", op, ctx.Err())
		case <-deadline.C:
			return &last, ErrStillProcessing
		case <-ticker.C:
		}
	}
}

// poll выполняет один опрос. Отсутствие задания означает, что оно ещё в очереди.
func (p *Poller) poll(ctx context.Context, jobID string) (*Snapshot, error) {
	snap, err := p.source.Status(ctx, jobID)
	if errors.Is(err, models.ErrNotFound) {
		return &Snapshot{Status: models.JobQueued}, nil
	}
	if err != nil {
		return nil, err
	}
	return snap, nil
}
