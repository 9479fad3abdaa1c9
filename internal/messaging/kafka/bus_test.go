package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/agroms/internal/events"
)

func newTestBus(t *testing.T, maxRetries int) (*Bus, *mocks.SyncProducer) {
	t.Helper()
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := &Producer{
		producer: mockProducer,
		logger:   log.WithField("component", "kafka-producer-test"),
	}
	bus := NewBus([]string{"localhost:9092"}, "test-group", producer, maxRetries)
	return bus, mockProducer
}

func encodedEnvelope(t *testing.T, eventType string) []byte {
	t.Helper()
	env, err := events.NewEnvelope(eventType, "sales-service", "corr-1", map[string]any{"sale_id": "sale-1"})
	if err != nil {
		t.Fatal(err)
	}
	data, err := env.Encode()
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func headerValue(msg *sarama.ProducerMessage, key string) (string, bool) {
	for _, header := range msg.Headers {
		if string(header.Key) == key {
			return string(header.Value), true
		}
	}
	return "", false
}

func TestBus_FailedHandlerRepublishedWithRetryHeader(t *testing.T) {
	bus, mockProducer := newTestBus(t, 3)

	handlerErr := errors.New("insufficient stock lookup failed")
	bus.Subscribe(events.TypeSaleCreated, func(context.Context, events.Envelope) error {
		return handlerErr
	})

	sourceTopic := TopicForEvent(events.TypeSaleCreated)
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != sourceTopic {
			t.Errorf("expected republish to %s, got %s", sourceTopic, msg.Topic)
		}
		count, ok := headerValue(msg, HeaderRetryCount)
		if !ok {
			t.Error("republished message must carry retry count header")
		}
		if count != "1" {
			t.Errorf("expected retry count 1, got %s", count)
		}
		return nil
	})

	message := &sarama.ConsumerMessage{
		Topic: sourceTopic,
		Key:   []byte("corr-1"),
		Value: encodedEnvelope(t, events.TypeSaleCreated),
	}

	// Переиздание удалось: сообщение считается обработанным и offset
	// коммитится, повтор придёт уже с увеличенным счётчиком.
	if err := bus.handleMessageWithRetry(context.Background(), message); err != nil {
		t.Fatalf("expected no error after republish, got %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestBus_RetryCountIncrementsFromHeader(t *testing.T) {
	bus, mockProducer := newTestBus(t, 3)

	bus.Subscribe(events.TypeSaleCreated, func(context.Context, events.Envelope) error {
		return errors.New("still failing")
	})

	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		count, _ := headerValue(msg, HeaderRetryCount)
		if count != "3" {
			t.Errorf("expected retry count 3, got %s", count)
		}
		return nil
	})

	message := &sarama.ConsumerMessage{
		Topic: TopicForEvent(events.TypeSaleCreated),
		Key:   []byte("corr-1"),
		Value: encodedEnvelope(t, events.TypeSaleCreated),
		Headers: []*sarama.RecordHeader{{
			Key:   []byte(HeaderRetryCount),
			Value: []byte("2"),
		}},
	}

	if err := bus.handleMessageWithRetry(context.Background(), message); err != nil {
		t.Fatalf("expected no error after republish, got %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestBus_ExhaustedRetriesGoToDLQ(t *testing.T) {
	bus, mockProducer := newTestBus(t, 3)

	bus.Subscribe(events.TypeSaleCreated, func(context.Context, events.Envelope) error {
		return errors.New("poison message")
	})

	sourceTopic := TopicForEvent(events.TypeSaleCreated)
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != TopicDeadLetterQueue {
			t.Errorf("expected message in %s, got %s", TopicDeadLetterQueue, msg.Topic)
		}
		raw, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		var dlq map[string]any
		if err := json.Unmarshal(raw, &dlq); err != nil {
			return err
		}
		if dlq["original_topic"] != sourceTopic {
			t.Errorf("expected original topic %s, got %v", sourceTopic, dlq["original_topic"])
		}
		if dlq["error_message"] != "poison message" {
			t.Errorf("unexpected error message %v", dlq["error_message"])
		}
		return nil
	})

	message := &sarama.ConsumerMessage{
		Topic: sourceTopic,
		Key:   []byte("corr-1"),
		Value: encodedEnvelope(t, events.TypeSaleCreated),
		Headers: []*sarama.RecordHeader{{
			Key:   []byte(HeaderRetryCount),
			Value: []byte(strconv.Itoa(3)),
		}},
	}

	if err := bus.handleMessageWithRetry(context.Background(), message); err != nil {
		t.Fatalf("expected no error after DLQ, got %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestBus_RepublishFailureKeepsMessageUncommitted(t *testing.T) {
	bus, mockProducer := newTestBus(t, 3)

	handlerErr := errors.New("transient db error")
	bus.Subscribe(events.TypeSaleCreated, func(context.Context, events.Envelope) error {
		return handlerErr
	})

	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	message := &sarama.ConsumerMessage{
		Topic: TopicForEvent(events.TypeSaleCreated),
		Key:   []byte("corr-1"),
		Value: encodedEnvelope(t, events.TypeSaleCreated),
	}

	// Переиздать не удалось: ошибка поднимается наверх, offset не
	// коммитится и брокер доставит сообщение снова.
	if err := bus.handleMessageWithRetry(context.Background(), message); !errors.Is(err, handlerErr) {
		t.Fatalf("expected handler error, got %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestRetryCountOf(t *testing.T) {
	message := &sarama.ConsumerMessage{}
	if got := retryCountOf(message); got != 0 {
		t.Errorf("expected 0 without header, got %d", got)
	}

	message.Headers = []*sarama.RecordHeader{{
		Key:   []byte(HeaderRetryCount),
		Value: []byte("7"),
	}}
	if got := retryCountOf(message); got != 7 {
		t.Errorf("expected 7, got %d", got)
	}

	message.Headers = []*sarama.RecordHeader{{
		Key:   []byte(HeaderRetryCount),
		Value: []byte("not-a-number"),
	}}
	if got := retryCountOf(message); got != 0 {
		t.Errorf("expected 0 for malformed header, got %d", got)
	}
}
