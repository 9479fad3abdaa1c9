package kafka

import (
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/agroms/internal/domain"
)

// Producer представляет Kafka producer для публикации доменных событий
type Producer struct {
	producer sarama.SyncProducer
	logger   *log.Entry
}

var _ domain.OutboxPublisher = (*Producer)(nil)

// NewProducer создает новый Kafka producer. Подключение повторяется
// с backoff, так как при старте брокер может быть ещё недоступен.
func NewProducer(brokers []string, connectTimeout time.Duration) (*Producer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll // Wait for all in-sync replicas
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Idempotent = true // Включаем идемпотентность
	config.Net.MaxOpenRequests = 1    // Для идемпотентности

	var producer sarama.SyncProducer
	connect := func() error {
		var err error
		producer, err = sarama.NewSyncProducer(brokers, config)
		return err
	}
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = connectTimeout
	if err := backoff.Retry(connect, policy); err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	return &Producer{
		producer: producer,
		logger:   log.WithField("component", "kafka-producer"),
	}, nil
}

// Publish публикует событие из outbox. Topic выводится из типа события,
// ключ партиционирования — correlation_id: события одной продажи попадают
// в одну партицию и сохраняют порядок.
func (p *Producer) Publish(msg domain.OutboxMessage) error {
	return p.publish(TopicForEvent(msg.EventType), msg.CorrelationID, msg.Payload, nil)
}

// PublishRaw публикует сырое сообщение в указанный topic.
func (p *Producer) PublishRaw(topic, key string, value []byte) error {
	return p.publish(topic, key, value, nil)
}

// PublishRetry переиздаёт сообщение в исходный topic со счётчиком попыток
// в заголовке x-retry-count: повторная попытка переживает падение консьюмера,
// а исчерпание счётчика уводит сообщение в DLQ.
func (p *Producer) PublishRetry(topic, key string, value []byte, retryCount int) error {
	headers := []sarama.RecordHeader{{
		Key:   []byte(HeaderRetryCount),
		Value: []byte(strconv.Itoa(retryCount)),
	}}
	return p.publish(topic, key, value, headers)
}

func (p *Producer) publish(topic, key string, value []byte, headers []sarama.RecordHeader) error {
	msg := &sarama.ProducerMessage{
		Topic:     topic,
		Key:       sarama.StringEncoder(key),
		Value:     sarama.ByteEncoder(value),
		Headers:   headers,
		Timestamp: time.Now(),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.WithError(err).WithFields(log.Fields{
			"topic": topic,
			"key":   key,
		}).Error("failed to send message to kafka")
		return fmt.Errorf("failed to send message: %w", err)
	}

	p.logger.WithFields(log.Fields{
		"topic":     topic,
		"key":       key,
		"partition": partition,
		"offset":    offset,
	}).Debug("message sent to kafka")

	return nil
}

// DLQPublisher направляет сообщения в dead letter queue вместо
// обычного topic события. Используется outbox worker после исчерпания
// попыток публикации.
type DLQPublisher struct {
	producer *Producer
}

var _ domain.OutboxPublisher = (*DLQPublisher)(nil)

// NewDLQPublisher создает publisher для dead letter queue.
func NewDLQPublisher(producer *Producer) *DLQPublisher {
	return &DLQPublisher{producer: producer}
}

// Publish отправляет сообщение в DLQ topic с сохранением ключа партиционирования.
func (p *DLQPublisher) Publish(msg domain.OutboxMessage) error {
	return p.producer.publish(TopicDeadLetterQueue, msg.CorrelationID, msg.Payload, nil)
}

// Close закрывает producer
func (p *Producer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka producer: %w", err)
	}
	return nil
}
