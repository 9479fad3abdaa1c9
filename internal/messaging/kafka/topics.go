package kafka

// Каждому типу события соответствует свой topic; routing key шины — это
// тип события. Durable queue консьюмера — consumer group сервиса.
const (
	topicPrefix = "agro.events."

	// TopicDeadLetterQueue — Dead Letter Queue для сообщений, которые не
	// удалось обработать или опубликовать.
	TopicDeadLetterQueue = "agro.dlq"
)

// Kafka headers для retry логики и DLQ.
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// TopicForEvent возвращает topic для типа события.
func TopicForEvent(eventType string) string {
	return topicPrefix + eventType
}
