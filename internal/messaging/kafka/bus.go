package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/agroms/internal/events"
)

// Bus — реализация шины событий поверх Kafka. Каждому типу события
// соответствует свой topic, durable-подписка сервиса — его consumer group.
// Доставка at-least-once: offset коммитится только после успешной
// обработки, поэтому консьюмеры обязаны дедуплицировать по event_id.
type Bus struct {
	brokers    []string
	groupID    string
	producer   *Producer
	consumer   sarama.ConsumerGroup
	handlers   map[string]events.Handler
	topics     []string
	logger     *log.Entry
	wg         sync.WaitGroup
	maxRetries int
}

var _ events.Bus = (*Bus)(nil)

// NewBus создает шину для сервиса groupID. Producer используется и для
// публикации, и для отправки необработанных сообщений в DLQ.
func NewBus(brokers []string, groupID string, producer *Producer, maxRetries int) *Bus {
	return &Bus{
		brokers:    brokers,
		groupID:    groupID,
		producer:   producer,
		handlers:   make(map[string]events.Handler),
		logger:     log.WithField("component", "kafka-bus"),
		maxRetries: maxRetries,
	}
}

// Publish публикует конверт в topic его типа события.
func (b *Bus) Publish(_ context.Context, env events.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}
	return b.producer.PublishRaw(TopicForEvent(env.EventType), env.CorrelationID, data)
}

// Subscribe привязывает обработчик к типу события. Вызывается до Run.
func (b *Bus) Subscribe(eventType string, handler events.Handler) {
	b.handlers[eventType] = handler
	b.topics = append(b.topics, TopicForEvent(eventType))
}

// Run подключается к Kafka и потребляет подписанные topics до отмены ctx.
func (b *Bus) Run(ctx context.Context) error {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Return.Errors = true

	connect := func() error {
		var err error
		b.consumer, err = sarama.NewConsumerGroup(b.brokers, b.groupID, config)
		return err
	}
	if err := backoff.Retry(connect, backoff.WithContext(backoff.NewExponentialBackOff(), ctx)); err != nil {
		return fmt.Errorf("failed to create kafka consumer group: %w", err)
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for err := range b.consumer.Errors() {
			b.logger.WithError(err).Error("consumer error")
		}
	}()

	b.logger.WithFields(log.Fields{
		"group":  b.groupID,
		"topics": b.topics,
	}).Info("kafka bus started")

	for {
		// Consume вызывается в цикле, так как при rebalance он завершается
		if err := b.consumer.Consume(ctx, b.topics, b); err != nil {
			b.logger.WithError(err).Error("error from consumer")
		}
		if ctx.Err() != nil {
			break
		}
	}

	if err := b.consumer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka consumer group: %w", err)
	}
	b.wg.Wait()
	b.logger.Info("kafka bus stopped")
	return nil
}

// Setup вызывается при старте consumer session
func (b *Bus) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

// Cleanup вызывается при завершении consumer session
func (b *Bus) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim обрабатывает сообщения из partition
func (b *Bus) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message := <-claim.Messages():
			if message == nil {
				return nil
			}

			b.logger.WithFields(log.Fields{
				"topic":     message.Topic,
				"partition": message.Partition,
				"offset":    message.Offset,
			}).Debug("received message")

			if err := b.handleMessageWithRetry(session.Context(), message); err != nil {
				b.logger.WithError(err).WithFields(log.Fields{
					"topic":     message.Topic,
					"partition": message.Partition,
					"offset":    message.Offset,
				}).Error("message processing failed after all retries")
				// Не маркируем сообщение - оно уже в DLQ или будет reprocessed
				continue
			}

			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// handleMessageWithRetry обрабатывает сообщение с retry логикой и отправкой в DLQ
func (b *Bus) handleMessageWithRetry(ctx context.Context, message *sarama.ConsumerMessage) error {
	retryCount := retryCountOf(message)

	err := b.dispatch(ctx, message)
	if err == nil {
		return nil
	}

	if retryCount < b.maxRetries {
		// Переиздаём в исходный topic с увеличенным счётчиком: попытка
		// переживает коммит offset и падение процесса. Если переиздать
		// не удалось, offset не коммитится и брокер доставит сообщение снова.
		if pubErr := b.producer.PublishRetry(message.Topic, string(message.Key), message.Value, retryCount+1); pubErr != nil {
			b.logger.WithError(pubErr).WithFields(log.Fields{
				"topic":       message.Topic,
				"retry_count": retryCount,
			}).Error("failed to republish message for retry")
			return err
		}
		b.logger.WithFields(log.Fields{
			"topic":       message.Topic,
			"retry_count": retryCount + 1,
			"max_retries": b.maxRetries,
		}).Warn("message processing failed, republished for retry")
		return nil
	}

	// Исчерпаны все попытки - отправляем в DLQ
	if dlqErr := b.sendToDLQ(message, err); dlqErr != nil {
		b.logger.WithError(dlqErr).Error("failed to send message to DLQ")
		return fmt.Errorf("failed to send to DLQ: %w", dlqErr)
	}
	b.logger.WithFields(log.Fields{
		"topic":       message.Topic,
		"retry_count": retryCount,
	}).Info("message sent to DLQ after max retries")
	return nil // Считаем обработанным, так как отправили в DLQ
}

// dispatch декодирует конверт и вызывает обработчик его типа события.
func (b *Bus) dispatch(ctx context.Context, message *sarama.ConsumerMessage) error {
	env, err := events.Decode(message.Value)
	if err != nil {
		return err
	}

	handler, ok := b.handlers[env.EventType]
	if !ok {
		// Topic подписан, но обработчика нет: сообщение пропускается
		b.logger.WithField("event_type", env.EventType).Warn("no handler for event type, skipping")
		return nil
	}

	return handler(ctx, env)
}

// retryCountOf извлекает retry count из headers сообщения
func retryCountOf(message *sarama.ConsumerMessage) int {
	for _, header := range message.Headers {
		if string(header.Key) == HeaderRetryCount {
			count, err := strconv.Atoi(string(header.Value))
			if err == nil {
				return count
			}
		}
	}
	return 0
}

// sendToDLQ отправляет failed message в Dead Letter Queue
func (b *Bus) sendToDLQ(message *sarama.ConsumerMessage, processingErr error) error {
	dlqMessage := map[string]interface{}{
		"original_topic":     message.Topic,
		"original_partition": message.Partition,
		"original_offset":    message.Offset,
		"original_key":       string(message.Key),
		"original_value":     string(message.Value),
		"error_message":      processingErr.Error(),
		"failed_at":          time.Now().UTC().Format(time.RFC3339),
		"retry_count":        retryCountOf(message),
	}

	data, err := json.Marshal(dlqMessage)
	if err != nil {
		return fmt.Errorf("failed to marshal dlq message: %w", err)
	}

	return b.producer.PublishRaw(TopicDeadLetterQueue, string(message.Key), data)
}
