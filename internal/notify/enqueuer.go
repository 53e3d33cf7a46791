package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/messaging/kafka"
)

// Enqueuer превращает событие order.created в задачи рассылки.
// Работает как OutboxPublisher (без Kafka) и как обработчик Kafka-сообщений.
type Enqueuer struct {
	queue  Queue
	logger *log.Entry
}

// NewEnqueuer создаёт Enqueuer.
func NewEnqueuer(queue Queue, logger *log.Entry) *Enqueuer {
	if logger == nil {
		logger = log.WithField("component", "notify-enqueuer")
	}
	return &Enqueuer{queue: queue, logger: logger}
}

// Publish ставит задачи рассылки для события outbox. Прочие события пропускаются.
func (e *Enqueuer) Publish(ctx context.Context, event domain.OutboxMessage) error {
	return e.enqueue(ctx, event.ID, event.EventType, event.Payload, event.CreatedAt)
}

// HandleMessage обрабатывает конверт события из Kafka.
func (e *Enqueuer) HandleMessage(ctx context.Context, message *sarama.ConsumerMessage) error {
	envelope, err := kafka.ParseEnvelope(message)
	if err != nil {
		e.logger.WithError(err).WithField("offset", message.Offset).Warn("skipping malformed event")
		return nil
	}
	return e.enqueue(ctx, envelope.ID, envelope.EventType, envelope.Payload, envelope.CreatedAt)
}

// enqueue строит задачи с детерминированными полями, чтобы повторная доставка
// события давала те же элементы очереди.
func (e *Enqueuer) enqueue(ctx context.Context, eventID, eventType string, payload []byte, createdAt time.Time) error {
	if eventType != domain.EventOrderCreated {
		return nil
	}
	var order domain.OrderCreatedPayload
	if err := json.Unmarshal(payload, &order); err != nil {
		return fmt.Errorf("decode %s payload: %w", eventType, err)
	}
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	createdAt = createdAt.UTC().Truncate(time.Millisecond)

	for _, step := range StepsFor(order) {
		job := Job{
			ID:        eventID + ":" + string(step),
			Step:      step,
			Order:     order,
			CreatedAt: createdAt,
		}
		if err := e.queue.Enqueue(ctx, job, createdAt); err != nil {
			return fmt.Errorf("enqueue %s: %w", step, err)
		}
	}
	e.logger.WithFields(log.Fields{"order_id": order.OrderID, "event_id": eventID}).Debug("notification jobs enqueued")
	return nil
}

var _ domain.OutboxPublisher = (*Enqueuer)(nil)
