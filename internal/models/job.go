package models

import (
	"strings"
	"time"
)

// JobStatus — состояние задания генерации счёта.
type JobStatus string

// Состояния задания. sent и failed терминальные.
const (
	JobQueued  JobStatus = "queued"
	JobWorking JobStatus = "working"
	JobSent    JobStatus = "sent"
	JobFailed  JobStatus = "failed"
)

// ParseJobStatus приводит статус из callback к одному из четырёх состояний.
// Процессор присылает также синонимы: processing, in_progress, done, completed, error.
func ParseJobStatus(s string) (JobStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "queued":
		return JobQueued, true
	case "working", "processing", "in_progress":
		return JobWorking, true
	case "sent", "done", "completed":
		return JobSent, true
	case "failed", "error":
		return JobFailed, true
	}
	return "", false
}

// Terminal сообщает, что из состояния нет переходов.
func (s JobStatus) Terminal() bool {
	return s == JobSent || s == JobFailed
}

// rank задаёт порядок состояний; переходы разрешены только вперёд.
func (s JobStatus) rank() int {
	switch s {
	case JobQueued:
		return 0
	case JobWorking:
		return 1
	case JobSent, JobFailed:
		return 2
	}
	return -1
}

// Transition описывает результат применения нового статуса к текущему.
type Transition int

const (
	TransitionApply Transition = iota
	TransitionNoop
	TransitionIllegal
)

// NextTransition решает, допустим ли переход from -> to.
func NextTransition(from, to JobStatus) Transition {
	if from == to {
		return TransitionNoop
	}
	if from.Terminal() {
		return TransitionIllegal
	}
	if to.rank() > from.rank() {
		return TransitionApply
	}
	return TransitionIllegal
}

// Job — одно задание генерации счёта у внешнего процессора.
type Job struct {
	JobID     string    `json:"job_id"`
	AccountID *string   `json:"account_id,omitempty"` // nil, если callback пришёл раньше подтверждения
	Status    JobStatus `json:"status"`
	PDFURL    *string   `json:"pdf_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// JobEvent публикуется в очередь при переходе задания в терминальное состояние.
type JobEvent struct {
	JobID     string    `json:"job_id"`
	AccountID string    `json:"account_id"`
	Status    JobStatus `json:"status"`
	PDFURL    string    `json:"pdf_url,omitempty"`
	At        time.Time `json:"at"`
}
