package app

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/agroms/internal/auth"
	"github.com/vladislavdragonenkov/agroms/internal/domain"
	"github.com/vladislavdragonenkov/agroms/internal/events"
	"github.com/vladislavdragonenkov/agroms/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/agroms/internal/messaging/membus"
	"github.com/vladislavdragonenkov/agroms/internal/storage/postgres"
)

const (
	kafkaConnectTimeout = 30 * time.Second
	busMaxRetries       = 3
	membusQueueSize     = 256
)

// Dependencies содержит инфраструктурные зависимости сервиса: хранилище,
// шину событий и проверку токенов. Сервисный слой строится поверх них.
type Dependencies struct {
	// Store не nil только в режиме PostgreSQL.
	Store     *postgres.Store
	Bus       events.Bus
	Publisher domain.OutboxPublisher
	Verifier  *auth.Verifier
	Logger    *log.Entry

	producer *kafka.Producer
	membus   *membus.Bus
}

// NewDependencies собирает зависимости по конфигурации: PostgreSQL или
// память, Kafka или внутрипроцессная шина, PASETO или без авторизации.
func NewDependencies(ctx context.Context, cfg Config, groupID string, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}
	deps := &Dependencies{Logger: logger}

	if cfg.PostgresDSN != "" {
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		deps.Store = store
		logger.Info("postgres storage initialized")
	} else {
		logger.Info("using in-memory storage")
	}

	if len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(cfg.KafkaBrokers, kafkaConnectTimeout)
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("create kafka producer: %w", err)
		}
		deps.producer = producer
		deps.Publisher = producer
		deps.Bus = kafka.NewBus(cfg.KafkaBrokers, groupID, producer, busMaxRetries)
		logger.WithField("brokers", cfg.KafkaBrokers).Info("kafka bus initialized")
	} else {
		bus := membus.New(membusQueueSize, busMaxRetries)
		deps.membus = bus
		deps.Bus = bus
		deps.Publisher = membus.NewOutboxPublisher(bus)
		logger.Info("using in-process event bus")
	}

	if cfg.AuthKeyHex != "" {
		verifier, err := auth.NewVerifier(cfg.AuthKeyHex)
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("create token verifier: %w", err)
		}
		deps.Verifier = verifier
	} else {
		logger.Warn("auth key not set, authorization disabled")
	}

	return deps, nil
}

// Close освобождает ресурсы зависимостей.
func (d *Dependencies) Close() {
	if d.producer != nil {
		if err := d.producer.Close(); err != nil {
			d.Logger.WithError(err).Warn("failed to close kafka producer")
		}
	}
	if d.Store != nil {
		d.Store.Close()
	}
}
