// dlq-reprocess сканирует dead letter queue и переигрывает сообщения
// в их исходные topic'и. По умолчанию работает в режиме dry-run:
// публикация включается флагом -execute.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/agroms/internal/messaging/kafka"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
)

type config struct {
	brokers     []string
	sourceTopic string
	limit       int
	execute     bool
	idleTimeout time.Duration
}

type replayMessage struct {
	topic string
	key   string
	value []byte
}

// consumerDLQPayload — формат сообщений, отправленных в DLQ консьюмером
// после исчерпания retry.
type consumerDLQPayload struct {
	OriginalTopic string `json:"original_topic"`
	OriginalKey   string `json:"original_key"`
	OriginalValue string `json:"original_value"`
}

// outboxDLQPayload — формат сообщений, отправленных в DLQ outbox worker'ом
// после неудачной публикации.
type outboxDLQPayload struct {
	OutboxID      string          `json:"outbox_id"`
	EventType     string          `json:"event_type"`
	CorrelationID string          `json:"correlation_id"`
	Payload       json.RawMessage `json:"payload"`
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	cfg, err := readConfig()
	if err != nil {
		fail("%v", err)
	}

	if err := run(context.Background(), cfg); err != nil {
		fail("dlq replay failed: %v", err)
	}
}

func readConfig() (config, error) {
	var (
		brokersRaw string
		cfg        config
	)

	flag.StringVar(&brokersRaw, "brokers", "", "Kafka brokers as comma-separated list (fallback: AGROMS_KAFKA_BROKERS)")
	flag.StringVar(&cfg.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "DLQ source topic")
	flag.IntVar(&cfg.limit, "limit", defaultReplayLimit, "max number of messages to scan/replay")
	flag.BoolVar(&cfg.execute, "execute", false, "execute replay; default is dry-run")
	flag.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "idle timeout per partition")
	flag.Parse()

	if strings.TrimSpace(brokersRaw) == "" {
		brokersRaw = os.Getenv("AGROMS_KAFKA_BROKERS")
	}
	for _, chunk := range strings.Split(brokersRaw, ",") {
		if broker := strings.TrimSpace(chunk); broker != "" {
			cfg.brokers = append(cfg.brokers, broker)
		}
	}
	if len(cfg.brokers) == 0 {
		return config{}, fmt.Errorf("kafka brokers are required (-brokers or AGROMS_KAFKA_BROKERS)")
	}
	if cfg.limit <= 0 {
		return config{}, fmt.Errorf("limit must be > 0")
	}

	return cfg, nil
}

func run(ctx context.Context, cfg config) error {
	log.WithFields(log.Fields{
		"source_topic": cfg.sourceTopic,
		"limit":        cfg.limit,
		"execute":      cfg.execute,
	}).Info("starting dlq replay")

	clientConfig := sarama.NewConfig()
	clientConfig.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, clientConfig)
	if err != nil {
		return fmt.Errorf("create kafka client: %w", err)
	}
	defer func() { _ = client.Close() }()

	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		return fmt.Errorf("create kafka consumer: %w", err)
	}
	defer func() { _ = consumer.Close() }()

	var producer sarama.SyncProducer
	if cfg.execute {
		producerConfig := sarama.NewConfig()
		producerConfig.Producer.RequiredAcks = sarama.WaitForAll
		producerConfig.Producer.Retry.Max = 5
		producerConfig.Producer.Return.Successes = true
		producerConfig.Producer.Idempotent = true
		producerConfig.Net.MaxOpenRequests = 1

		producer, err = sarama.NewSyncProducer(cfg.brokers, producerConfig)
		if err != nil {
			return fmt.Errorf("create kafka producer: %w", err)
		}
		defer func() { _ = producer.Close() }()
	}

	partitions, err := client.Partitions(cfg.sourceTopic)
	if err != nil {
		return fmt.Errorf("get partitions for topic %s: %w", cfg.sourceTopic, err)
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	var processed, replayed, skipped int
	for _, partition := range partitions {
		if processed >= cfg.limit {
			break
		}
		stats, err := processPartition(ctx, cfg, client, consumer, producer, partition, cfg.limit-processed)
		if err != nil {
			return err
		}
		processed += stats.processed
		replayed += stats.replayed
		skipped += stats.skipped
	}

	mode := "dry-run"
	if cfg.execute {
		mode = "execute"
	}
	log.WithFields(log.Fields{
		"mode":      mode,
		"processed": processed,
		"replayed":  replayed,
		"skipped":   skipped,
	}).Info("dlq replay finished")

	return nil
}

type partitionStats struct {
	processed int
	replayed  int
	skipped   int
}

func processPartition(
	ctx context.Context,
	cfg config,
	client sarama.Client,
	consumer sarama.Consumer,
	producer sarama.SyncProducer,
	partition int32,
	limit int,
) (partitionStats, error) {
	var stats partitionStats
	if limit <= 0 {
		return stats, nil
	}

	oldest, err := client.GetOffset(cfg.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return stats, fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
	}
	newest, err := client.GetOffset(cfg.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return stats, fmt.Errorf("get newest offset for partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return stats, nil
	}

	partitionConsumer, err := consumer.ConsumePartition(cfg.sourceTopic, partition, oldest)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = partitionConsumer.Close() }()

	idleTimer := time.NewTimer(cfg.idleTimeout)
	defer idleTimer.Stop()

	for stats.processed < limit {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case err := <-partitionConsumer.Errors():
			if err != nil {
				return stats, fmt.Errorf("partition %d consumer error: %w", partition, err)
			}
		case msg, ok := <-partitionConsumer.Messages():
			if !ok || msg == nil {
				return stats, nil
			}
			if !idleTimer.Stop() {
				select {
				case <-idleTimer.C:
				default:
				}
			}
			idleTimer.Reset(cfg.idleTimeout)

			stats.processed++
			replay, ok := extractReplayMessage(msg)
			if !ok {
				stats.skipped++
				log.WithFields(log.Fields{
					"partition": msg.Partition,
					"offset":    msg.Offset,
				}).Warn("skip unsupported dlq message")
			} else if cfg.execute {
				if err := publishReplay(producer, replay); err != nil {
					return stats, fmt.Errorf("publish replay message: %w", err)
				}
				stats.replayed++
			} else {
				log.WithFields(log.Fields{
					"partition":    msg.Partition,
					"offset":       msg.Offset,
					"target_topic": replay.topic,
					"key":          replay.key,
				}).Info("dlq replay candidate")
				stats.replayed++
			}

			if msg.Offset+1 >= newest {
				return stats, nil
			}
		case <-idleTimer.C:
			return stats, nil
		}
	}

	return stats, nil
}

// extractReplayMessage восстанавливает исходное сообщение из DLQ-записи.
// Поддерживаются оба формата: запись консьюмера (original_topic/value)
// и запись outbox worker'а (event_type/payload).
func extractReplayMessage(msg *sarama.ConsumerMessage) (replayMessage, bool) {
	var fromConsumer consumerDLQPayload
	if err := json.Unmarshal(msg.Value, &fromConsumer); err == nil && fromConsumer.OriginalValue != "" {
		topic := strings.TrimSpace(fromConsumer.OriginalTopic)
		if topic == "" {
			return replayMessage{}, false
		}
		return replayMessage{
			topic: topic,
			key:   fromConsumer.OriginalKey,
			value: []byte(fromConsumer.OriginalValue),
		}, true
	}

	var fromOutbox outboxDLQPayload
	if err := json.Unmarshal(msg.Value, &fromOutbox); err != nil {
		return replayMessage{}, false
	}
	if fromOutbox.EventType == "" || len(fromOutbox.Payload) == 0 {
		return replayMessage{}, false
	}
	return replayMessage{
		topic: kafka.TopicForEvent(fromOutbox.EventType),
		key:   fromOutbox.CorrelationID,
		value: fromOutbox.Payload,
	}, true
}

func publishReplay(producer sarama.SyncProducer, msg replayMessage) error {
	_, _, err := producer.SendMessage(&sarama.ProducerMessage{
		Topic:     msg.topic,
		Key:       sarama.StringEncoder(msg.key),
		Value:     sarama.ByteEncoder(msg.value),
		Timestamp: time.Now().UTC(),
	})
	return err
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
