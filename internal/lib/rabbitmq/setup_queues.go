package rabbitmq

// ExchangeJobs — обменник событий заданий генерации счетов.
const ExchangeJobs = "jobs"

// Ключи маршрутизации терминальных событий.
const (
	RoutingJobSent   = "job.sent"
	RoutingJobFailed = "job.failed"
)

// QueueConfig описывает очередь и ключи, которыми она привязана к обменнику.
type QueueConfig struct {
	QueueName   string
	RoutingKeys []string
}

// JobEventQueues возвращает очереди, которые читает отправитель уведомлений.
func JobEventQueues() []QueueConfig {
	return []QueueConfig{
		{QueueName: "jobs.notifications", RoutingKeys: []string{RoutingJobSent, RoutingJobFailed}},
	}
}

// RoutingKeyFor возвращает ключ маршрутизации для статуса задания.
// Для нетерминальных статусов возвращает пустую строку.
func RoutingKeyFor(status string) string {
	switch status {
	case "sent":
		return RoutingJobSent
	case "failed":
		return RoutingJobFailed
	}
	return ""
}
