// Package metrics описывает Prometheus-метрики конвейера заданий:
// решения о допуске, исходы отправки процессору, проверку callback'ов
// и переходы статусов заданий.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Исходы допуска.
const (
	AdmissionAccepted        = "accepted"
	AdmissionRejectedDaily   = "rejected_daily"
	AdmissionRejectedMonthly = "rejected_monthly"
	AdmissionError           = "error"
)

// Исходы отправки процессору.
const (
	DispatchOK        = "ok"
	DispatchDuplicate = "duplicate"
	DispatchInvalid   = "invalid"
	DispatchFailed    = "failed"
)

// Исходы обработки callback'а.
const (
	CallbackAccepted     = "accepted"
	CallbackBadSignature = "bad_signature"
	CallbackInvalid      = "invalid"
	CallbackIllegal      = "illegal_transition"
	CallbackError        = "error"
)

// Metrics — набор коллекторов сервиса. Нулевой указатель допустим: методы ничего не делают.
type Metrics struct {
	admissions       *prometheus.CounterVec
	dispatches       *prometheus.CounterVec
	dispatchDuration prometheus.Histogram
	callbacks        *prometheus.CounterVec
	transitions      *prometheus.CounterVec
}

// New создаёт и регистрирует коллекторы в reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autobill",
			Name:      "admissions_total",
			Help:      "Admission decisions by result.",
		}, []string{"tier", "result"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autobill",
			Name:      "dispatches_total",
			Help:      "Dispatches to the invoice processor by outcome.",
		}, []string{"outcome"}),
		dispatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "autobill",
			Name:      "dispatch_duration_seconds",
			Help:      "Round trip to the invoice processor.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		}),
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autobill",
			Name:      "callbacks_total",
			Help:      "Processor callbacks by result.",
		}, []string{"result"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autobill",
			Name:      "job_transitions_total",
			Help:      "Job status changes by target status and result.",
		}, []string{"to", "result"}),
	}
	reg.MustRegister(m.admissions, m.dispatches, m.dispatchDuration, m.callbacks, m.transitions)
	return m
}

// Admission учитывает решение о допуске.
func (m *Metrics) Admission(tier, result string) {
	if m == nil {
		return
	}
	m.admissions.WithLabelValues(tier, result).Inc()
}

// Dispatch учитывает исход отправки и её длительность.
func (m *Metrics) Dispatch(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(outcome).Inc()
	if took > 0 {
		m.dispatchDuration.Observe(took.Seconds())
	}
}

// Callback учитывает результат обработки callback'а.
func (m *Metrics) Callback(result string) {
	if m == nil {
		return
	}
	m.callbacks.WithLabelValues(result).Inc()
}

// Transition учитывает применённый, повторный или отклонённый переход статуса.
func (m *Metrics) Transition(to, result string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(to, result).Inc()
}
