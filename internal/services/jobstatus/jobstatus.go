// Package jobstatus хранит статусы заданий. Обновление идемпотентно и
// монотонно (queued -> working -> sent|failed); переход в терминальное
// состояние публикуется событием.
package jobstatus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/magabrotheeeer/autobill/internal/cache"
	"github.com/magabrotheeeer/autobill/internal/lib/clock"
	"github.com/magabrotheeeer/autobill/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/autobill/internal/lib/sl"
	"github.com/magabrotheeeer/autobill/internal/metrics"
	"github.com/magabrotheeeer/autobill/internal/models"
)

// maxAttempts ограничивает цикл compare-and-set при конкурентных обновлениях.
const maxAttempts = 5

// ErrContended — статус задания меняли конкурентно слишком много раз подряд.
var ErrContended = errors.New("job status update contended")

// Repository хранит задания.
type Repository interface {
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	InsertJobIfAbsent(ctx context.Context, jobID string, status models.JobStatus, pdfURL *string) (bool, error)
	CompareAndSetJobStatus(ctx context.Context, jobID string, expected, next models.JobStatus, pdfURL *string) (bool, error)
}

// Publisher отправляет события в брокер.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, message any) error
}

// Cache описывает методы для кэширования данных.
type Cache interface {
	Get(ctx context.Context, key string, result any) (bool, error)
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	Invalidate(ctx context.Context, keys ...string) error
}

// Outcome — чем закончилось обновление статуса.
type Outcome string

const (
	// OutcomeApplied — статус изменён.
	OutcomeApplied Outcome = "applied"
	// OutcomeCreated — задание ещё не было известно и создано с этим статусом.
	OutcomeCreated Outcome = "created"
	// OutcomeNoop — статус уже был таким, ничего не изменилось.
	OutcomeNoop Outcome = "noop"
	// OutcomeIllegal — переход назад отклонён.
	OutcomeIllegal Outcome = "illegal"
)

// Store — хранилище статусов заданий.
type Store struct {
	repo      Repository
	publisher Publisher
	cache     Cache
	ttl       time.Duration
	clock     clock.Clock
	metrics   *metrics.Metrics
	log       *slog.Logger
}

// New создаёт хранилище статусов. publisher и cache могут быть nil.
func New(repo Repository, publisher Publisher, c Cache, ttl time.Duration, clk clock.Clock, m *metrics.Metrics, log *slog.Logger) *Store {
	return &Store{
		repo:      repo,
		publisher: publisher,
		cache:     c,
		ttl:       ttl,
		clock:     clk,
		metrics:   m,
		log:       log,
	}
}

// Upsert применяет статус к заданию. Повтор того же статуса ничего не меняет
// и не считается ошибкой, даже если повторный sent пришёл без pdfURL.
// Переход назад возвращает IllegalTransitionError и не меняет сохранённое
// состояние. Для перехода в sent нужен непустой pdfURL; для остальных
// статусов pdfURL игнорируется. Неизвестное задание создаётся без
// владельца: владелец проставится подтверждением процессора.
func (s *Store) Upsert(ctx context.Context, jobID string, status models.JobStatus, pdfURL string) (Outcome, error) {
	const op = "jobstatus.Upsert"
	log := s.log.With(slog.String("op", op), slog.String("job_id", jobID), slog.String("status", string(status)))

	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return "", &models.InvalidPayloadError{Reason: "job id is required"}
	}
	var url *string
	if status == models.JobSent {
		if pdfURL = strings.TrimSpace(pdfURL); pdfURL != "" {
			url = &pdfURL
		}
	} else {
		pdfURL = ""
	}
	missingURL := status == models.JobSent && url == nil

	for attempt := 0; attempt < maxAttempts; attempt++ {
		job, err := s.repo.GetJob(ctx, jobID)
		if errors.Is(err, models.ErrNotFound) {
			if missingURL {
				return "", errMissingPDF()
			}
			inserted, err := s.repo.InsertJobIfAbsent(ctx, jobID, status, url)
			if err != nil {
				return "", fmt.Errorf("%s: %w", op, err)
			}
			if inserted {
				s.metrics.Transition(string(status), string(OutcomeCreated))
				log.Info("job created by status update before acknowledgement")
				s.invalidate(ctx, log, jobID)
				return OutcomeCreated, nil
			}
			continue
		}
		if err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}

		switch models.NextTransition(job.Status, status) {
		case models.TransitionNoop:
			s.metrics.Transition(string(status), string(OutcomeNoop))
			log.Debug("status unchanged")
			return OutcomeNoop, nil
		case models.TransitionIllegal:
			s.metrics.Transition(string(status), string(OutcomeIllegal))
			log.Warn("illegal status transition rejected", slog.String("current", string(job.Status)))
			return OutcomeIllegal, &models.IllegalTransitionError{JobID: jobID, From: job.Status, To: status}
		}
		if missingURL {
			return "", errMissingPDF()
		}

		ok, err := s.repo.CompareAndSetJobStatus(ctx, jobID, job.Status, status, url)
		if err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}
		if !ok {
			log.Debug("job changed concurrently, retrying", slog.Int("attempt", attempt+1))
			continue
		}

		s.metrics.Transition(string(status), string(OutcomeApplied))
		log.Info("job status changed", slog.String("from", string(job.Status)))
		s.invalidate(ctx, log, jobID)
		if status.Terminal() && job.AccountID != nil {
			s.publish(ctx, log, models.JobEvent{
				JobID:     jobID,
				AccountID: *job.AccountID,
				Status:    status,
				PDFURL:    pdfURL,
				At:        s.clock.Now(),
			})
		}
		return OutcomeApplied, nil
	}
	return "", fmt.Errorf("%s: job %s: %w", op, jobID, ErrContended)
}

// Acknowledge вызывается после подтверждения процессора. Если callback
// успел перевести задание без владельца в терминальное состояние, событие
// публикуется сейчас, когда владелец известен.
func (s *Store) Acknowledge(ctx context.Context, job *models.Job) {
	if job == nil || job.AccountID == nil || !job.Status.Terminal() {
		return
	}
	log := s.log.With(slog.String("op", "jobstatus.Acknowledge"), slog.String("job_id", job.JobID))
	s.invalidate(ctx, log, job.JobID)

	ev := models.JobEvent{
		JobID:     job.JobID,
		AccountID: *job.AccountID,
		Status:    job.Status,
		At:        s.clock.Now(),
	}
	if job.PDFURL != nil {
		ev.PDFURL = *job.PDFURL
	}
	s.publish(ctx, log, ev)
}

// Get возвращает задание или models.ErrNotFound.
func (s *Store) Get(ctx context.Context, jobID string) (*models.Job, error) {
	const op = "jobstatus.Get"

	if s.cache != nil {
		var cached models.Job
		found, err := s.cache.Get(ctx, cache.JobKey(jobID), &cached)
		if err != nil {
			s.log.Warn("job cache read failed", slog.String("op", op), slog.String("job_id", jobID), sl.Err(err))
		}
		if found {
			return &cached, nil
		}
	}

	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// Кэшируются только подтверждённые задания в терминальном состоянии: они
	// больше не меняются, и конкурентный Upsert не может оставить в кэше старый статус.
	if s.cache != nil && job.AccountID != nil && job.Status.Terminal() {
		if err := s.cache.Set(ctx, cache.JobKey(jobID), job, s.ttl); err != nil {
			s.log.Warn("job cache write failed", slog.String("op", op), slog.String("job_id", jobID), sl.Err(err))
		}
	}
	return job, nil
}

// GetOwned возвращает задание, только если оно принадлежит аккаунту.
// Чужое или ещё не подтверждённое задание выглядит как models.ErrNotFound.
func (s *Store) GetOwned(ctx context.Context, accountID, jobID string) (*models.Job, error) {
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.AccountID == nil || *job.AccountID != accountID {
		return nil, fmt.Errorf("jobstatus.GetOwned: job %s: %w", jobID, models.ErrNotFound)
	}
	return job, nil
}

func errMissingPDF() error {
	return &models.InvalidPayloadError{Reason: "pdfUrl is required for status sent"}
}

func (s *Store) invalidate(ctx context.Context, log *slog.Logger, jobID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, cache.JobKey(jobID)); err != nil {
		log.Warn("job cache invalidate failed", sl.Err(err))
	}
}

func (s *Store) publish(ctx context.Context, log *slog.Logger, ev models.JobEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, rabbitmq.RoutingKeyFor(string(ev.Status)), ev); err != nil {
		log.Error("failed to publish job event", sl.Err(err))
		return
	}
	log.Debug("job event published", slog.String("status", string(ev.Status)))
}
