// Package dedup реализует дедупликацию доставок на стороне консьюмера.
// Шина даёт at-least-once: каждое событие может прийти больше одного раза,
// поэтому каждый обработчик оборачивается в Guard с durable-таблицей
// обработанных событий.
package dedup

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/agroms/internal/domain"
	"github.com/vladislavdragonenkov/agroms/internal/events"
)

var duplicateDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "agroms_duplicate_deliveries_total",
	Help: "Total number of duplicate event deliveries skipped per consumer.",
}, []string{"consumer"})

// Guard отбрасывает повторные доставки событий для одного консьюмера.
type Guard struct {
	consumer  string
	processed domain.ProcessedEventRepository
	logger    *log.Entry
}

// NewGuard создаёт guard для консьюмера consumer (имя durable-подписки).
func NewGuard(consumer string, processed domain.ProcessedEventRepository) *Guard {
	return &Guard{
		consumer:  consumer,
		processed: processed,
		logger:    log.WithField("component", "dedup-guard").WithField("consumer", consumer),
	}
}

// Consumer возвращает имя консьюмера guard'а.
func (g *Guard) Consumer() string {
	return g.consumer
}

// Delivery строит токен доставки для записи отметки в транзакции
// побочного эффекта.
func (g *Guard) Delivery(env events.Envelope) *domain.Delivery {
	return &domain.Delivery{Consumer: g.consumer, EventID: env.EventID}
}

// Wrap оборачивает обработчик проверкой дубликатов. Предварительная проверка
// Seen дешёвая, но не атомарная: гарантию даёт отметка, записанная
// обработчиком в транзакции побочного эффекта. Если обработчик вернул
// ErrEventAlreadyProcessed, доставка считается успешной.
func (g *Guard) Wrap(handler events.Handler) events.Handler {
	return func(ctx context.Context, env events.Envelope) error {
		seen, err := g.processed.Seen(g.consumer, env.EventID)
		if err != nil {
			return err
		}
		if seen {
			g.skip(env)
			return nil
		}

		if err := handler(ctx, env); err != nil {
			if domain.IsDuplicateDelivery(err) {
				g.skip(env)
				return nil
			}
			return err
		}
		return nil
	}
}

// Claim записывает отметку об обработке вне транзакции побочного эффекта.
// Используется обработчиками, у которых нет записи в БД. Повтор возвращает
// ErrEventAlreadyProcessed, который Wrap трактует как успех.
func (g *Guard) Claim(env events.Envelope) error {
	return g.processed.MarkProcessed(g.consumer, env.EventID, time.Now().UTC())
}

func (g *Guard) skip(env events.Envelope) {
	duplicateDeliveries.WithLabelValues(g.consumer).Inc()
	g.logger.WithFields(log.Fields{
		"event_id":   env.EventID,
		"event_type": env.EventType,
	}).Info("duplicate delivery skipped")
}
